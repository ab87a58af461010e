package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// importColumns is the required header row of a question import workbook,
// in column order.
var importColumns = []string{
	"question_text",
	"option_a",
	"option_b",
	"option_c",
	"option_d",
	"correct_option",
	"marks",
	"explanation",
}

// ===== QUESTION IMPORT =====

// ImportQuestions reads questions from an xlsx workbook and appends them to
// the exam. Rows that fail validation are skipped and reported; valid rows
// are created in one transaction.
func (s *examService) ImportQuestions(ctx context.Context, examID uint, r io.Reader, userID string) (*ImportQuestionsResult, error) {
	s.logger.Info("Importing questions from workbook", "exam_id", examID, "user_id", userID)

	_, exam, err := s.getManagedExam(ctx, examID, userID, "import_questions")
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, NewValidationError("file", "unable to read workbook", err.Error())
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, NewValidationError("file", "workbook has no rows", nil)
	}
	if err := checkImportHeader(rows[0]); err != nil {
		return nil, err
	}

	result := &ImportQuestionsResult{}
	var requests []*CreateQuestionRequest
	for i, row := range rows[1:] {
		rowNum := i + 2
		if rowEmpty(row) {
			continue
		}

		req, err := questionRequestFromRow(row)
		if err == nil {
			err = s.validator.Validate(req)
		}
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		requests = append(requests, req)
	}
	if len(requests) == 0 {
		return result, nil
	}

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		maxOrder, err := s.repo.Question().MaxOrderIndex(ctx, tx, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to get max order index: %w", err)
		}

		questions := make([]*models.Question, len(requests))
		for i, req := range requests {
			questions[i] = questionFromCreateRequest(req, exam.ID, maxOrder+i+1)
		}
		if err := s.repo.Question().CreateBatch(ctx, tx, questions); err != nil {
			return fmt.Errorf("failed to create questions: %w", err)
		}
		return s.repo.Exam().SyncTotalQuestions(ctx, tx, exam.ID)
	})
	if err != nil {
		return nil, err
	}
	result.Imported = len(requests)

	s.logger.Info("Question import finished",
		"exam_id", exam.ID,
		"imported", result.Imported,
		"skipped", result.Skipped)
	return result, nil
}

func checkImportHeader(row []string) error {
	for i, want := range importColumns {
		if got := strings.ToLower(importCell(row, i)); got != want {
			return NewValidationError("file",
				fmt.Sprintf("column %d header must be %q", i+1, want), got)
		}
	}
	return nil
}

func questionRequestFromRow(row []string) (*CreateQuestionRequest, error) {
	req := &CreateQuestionRequest{
		QuestionText:  importCell(row, 0),
		OptionA:       importCell(row, 1),
		OptionB:       importCell(row, 2),
		OptionC:       importCell(row, 3),
		OptionD:       importCell(row, 4),
		CorrectOption: strings.ToUpper(importCell(row, 5)),
	}

	if marks := importCell(row, 6); marks != "" {
		n, err := strconv.Atoi(marks)
		if err != nil {
			return nil, fmt.Errorf("marks must be a whole number, got %q", marks)
		}
		req.Marks = n
	}
	if explanation := importCell(row, 7); explanation != "" {
		req.Explanation = &explanation
	}
	return req, nil
}

// importCell reads a trimmed cell value; xlsx rows omit trailing empty cells.
func importCell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ===== RESULT EXPORT =====

var exportColumns = []interface{}{
	"Student Code",
	"Student Name",
	"Attempt",
	"Status",
	"Obtained Marks",
	"Total Marks",
	"Percentage",
	"Passed",
	"Ended At",
	"Verified At",
}

// ExportResults builds an xlsx workbook of the exam's verified attempts.
// Unverified attempts never appear in exports.
func (s *examService) ExportResults(ctx context.Context, examID uint, userID string) (*excelize.File, error) {
	s.logger.Info("Exporting exam results", "exam_id", examID, "user_id", userID)

	_, exam, err := s.getManagedExam(ctx, examID, userID, "export_results")
	if err != nil {
		return nil, err
	}

	attempts, err := s.repo.Attempt().GetVerifiedByExam(ctx, s.db, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get verified attempts: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Results"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name worksheet: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", "J", 18); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &exportColumns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, attempt := range attempts {
		passed := "no"
		if attempt.Passed {
			passed = "yes"
		}
		row := []interface{}{
			attempt.Student.Code,
			attempt.Student.User.FullName,
			attempt.AttemptNumber,
			string(attempt.Status),
			attempt.ObtainedMarks,
			attempt.TotalMarks,
			attempt.Percentage,
			passed,
			formatExportTime(attempt.EndedAt),
			formatExportTime(attempt.VerifiedAt),
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	s.logger.Info("Results exported",
		"exam_id", exam.ID,
		"attempt_count", len(attempts))
	return f, nil
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
