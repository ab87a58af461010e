package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

type examService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewExamService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) ExamService {
	return &examService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, userID string) (*ExamResponse, error) {
	s.logger.Info("Creating exam", "creator_id", userID, "title", req.Title)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if errs := s.validator.GetBusinessValidator().ValidateRetakePolicy(req.AllowRetakes, req.MaxRetakes); len(errs) > 0 {
		return nil, errs
	}

	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, 0, "exam", "create"); err != nil {
		return nil, err
	}

	// The exam inherits its institution from the course; the module must
	// belong to that same course.
	course, err := s.repo.Course().GetByID(ctx, s.db, req.CourseID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	if !canAccessInstitution(user, course.InstitutionID) {
		return nil, NewPermissionError(userID, req.CourseID, "course", "create_exam", "course belongs to another institution")
	}

	module, err := s.repo.Course().GetModuleByID(ctx, s.db, req.ModuleID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewValidationError("module_id", "module not found", req.ModuleID)
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	if module.CourseID != course.ID {
		return nil, NewValidationError("module_id", "module does not belong to the course", req.ModuleID)
	}

	var exam *models.Exam
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		exam = examFromCreateRequest(req, course, user.ID)
		if err := s.repo.Exam().Create(ctx, tx, exam); err != nil {
			return fmt.Errorf("failed to create exam: %w", err)
		}

		if len(req.Questions) > 0 {
			questions := make([]*models.Question, len(req.Questions))
			for i := range req.Questions {
				questions[i] = questionFromCreateRequest(&req.Questions[i], exam.ID, i+1)
			}
			if err := s.repo.Question().CreateBatch(ctx, tx, questions); err != nil {
				return fmt.Errorf("failed to create questions: %w", err)
			}
		}

		return s.repo.Exam().SyncTotalQuestions(ctx, tx, exam.ID)
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventExamCreated, events.ExamCreatedPayload{
		ExamID:    exam.ID,
		CourseID:  exam.CourseID,
		Title:     exam.Title,
		CreatedBy: exam.CreatedBy,
	})

	s.logger.Info("Exam created successfully",
		"exam_id", exam.ID,
		"question_count", len(req.Questions))

	return s.GetWithQuestions(ctx, exam.ID, userID)
}

func (s *examService) GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	user, exam, err := s.getManagedExam(ctx, id, userID, "read")
	if err != nil {
		return nil, err
	}
	return s.buildExamResponse(ctx, exam, user)
}

func (s *examService) GetWithQuestions(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	user, _, err := s.getManagedExam(ctx, id, userID, "read")
	if err != nil {
		return nil, err
	}

	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam with questions: %w", err)
	}
	return s.buildExamResponse(ctx, exam, user)
}

func (s *examService) Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error) {
	s.logger.Info("Updating exam", "exam_id", id, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	user, exam, err := s.getManagedExam(ctx, id, userID, "update")
	if err != nil {
		return nil, err
	}

	if req.ModuleID != nil && *req.ModuleID != exam.ModuleID {
		module, err := s.repo.Course().GetModuleByID(ctx, s.db, *req.ModuleID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, NewValidationError("module_id", "module not found", *req.ModuleID)
			}
			return nil, fmt.Errorf("failed to get module: %w", err)
		}
		if module.CourseID != exam.CourseID {
			return nil, NewValidationError("module_id", "module does not belong to the course", *req.ModuleID)
		}
	}

	applyExamUpdates(exam, req)
	if errs := s.validator.GetBusinessValidator().ValidateRetakePolicy(exam.AllowRetakes, exam.MaxRetakes); len(errs) > 0 {
		return nil, errs
	}

	if err := s.repo.Exam().Update(ctx, s.db, exam); err != nil {
		return nil, fmt.Errorf("failed to update exam: %w", err)
	}

	s.logger.Info("Exam updated successfully", "exam_id", id)
	return s.buildExamResponse(ctx, exam, user)
}

func (s *examService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting exam", "exam_id", id, "user_id", userID)

	user, exam, err := s.getManagedExam(ctx, id, userID, "delete")
	if err != nil {
		return err
	}

	// Exams with recorded attempts carry result history; only a super
	// admin may force them out.
	if user.Role != models.RoleSuperAdmin {
		count, err := s.attemptCount(ctx, exam.ID)
		if err != nil {
			return err
		}
		if errs := s.validator.GetBusinessValidator().ValidateExamDeletion(count); len(errs) > 0 {
			return NewBusinessRuleError("exam_deletion", "cannot delete an exam with existing attempts", map[string]interface{}{
				"exam_id":       exam.ID,
				"attempt_count": count,
			})
		}
	}

	if err := s.repo.Exam().Delete(ctx, s.db, id); err != nil {
		return fmt.Errorf("failed to delete exam: %w", err)
	}

	s.logger.Info("Exam deleted successfully", "exam_id", id)
	return nil
}

// ===== LIST OPERATIONS =====

func (s *examService) List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, 0, "exam", "list"); err != nil {
		return nil, err
	}

	if user.Role != models.RoleSuperAdmin {
		if user.InstitutionID == nil {
			return nil, ErrForbidden
		}
		filters.InstitutionID = user.InstitutionID
	}

	exams, total, err := s.repo.Exam().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}

	page, size := pageFromOffset(filters.Limit, filters.Offset)
	response := &ExamListResponse{
		Exams: make([]*ExamResponse, len(exams)),
		Total: total,
		Page:  page,
		Size:  size,
	}
	for i, exam := range exams {
		resp, err := s.buildExamResponse(ctx, exam, user)
		if err != nil {
			return nil, err
		}
		response.Exams[i] = resp
	}

	return response, nil
}

// ===== QUESTION MANAGEMENT =====

func (s *examService) AddQuestion(ctx context.Context, examID uint, req *CreateQuestionRequest, userID string) (*models.Question, error) {
	s.logger.Info("Adding question to exam", "exam_id", examID, "user_id", userID)

	req.CorrectOption = strings.ToUpper(strings.TrimSpace(req.CorrectOption))
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	_, exam, err := s.getManagedExam(ctx, examID, userID, "add_question")
	if err != nil {
		return nil, err
	}

	var question *models.Question
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		orderIndex := req.OrderIndex
		if orderIndex == 0 {
			maxOrder, err := s.repo.Question().MaxOrderIndex(ctx, tx, exam.ID)
			if err != nil {
				return fmt.Errorf("failed to get max order index: %w", err)
			}
			orderIndex = maxOrder + 1
		}

		question = questionFromCreateRequest(req, exam.ID, orderIndex)
		if err := s.repo.Question().Create(ctx, tx, question); err != nil {
			return fmt.Errorf("failed to create question: %w", err)
		}
		return s.repo.Exam().SyncTotalQuestions(ctx, tx, exam.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Question added successfully",
		"exam_id", exam.ID,
		"question_id", question.ID)
	return question, nil
}

// AddQuestionsBulk appends a batch of questions in request order, continuing
// the exam's order index sequence.
func (s *examService) AddQuestionsBulk(ctx context.Context, examID uint, req *BulkAddQuestionsRequest, userID string) ([]*models.Question, error) {
	s.logger.Info("Adding questions to exam in bulk",
		"exam_id", examID,
		"count", len(req.Questions),
		"user_id", userID)

	for i := range req.Questions {
		req.Questions[i].CorrectOption = strings.ToUpper(strings.TrimSpace(req.Questions[i].CorrectOption))
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	_, exam, err := s.getManagedExam(ctx, examID, userID, "add_questions")
	if err != nil {
		return nil, err
	}

	var questions []*models.Question
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		maxOrder, err := s.repo.Question().MaxOrderIndex(ctx, tx, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to get max order index: %w", err)
		}

		questions = make([]*models.Question, len(req.Questions))
		for i := range req.Questions {
			questions[i] = questionFromCreateRequest(&req.Questions[i], exam.ID, maxOrder+i+1)
		}
		if err := s.repo.Question().CreateBatch(ctx, tx, questions); err != nil {
			return fmt.Errorf("failed to create questions: %w", err)
		}
		return s.repo.Exam().SyncTotalQuestions(ctx, tx, exam.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Questions added successfully",
		"exam_id", exam.ID,
		"count", len(questions))
	return questions, nil
}

func (s *examService) UpdateQuestion(ctx context.Context, examID, questionID uint, req *UpdateQuestionRequest, userID string) (*models.Question, error) {
	s.logger.Info("Updating question",
		"exam_id", examID,
		"question_id", questionID,
		"user_id", userID)

	if req.CorrectOption != nil {
		upper := strings.ToUpper(strings.TrimSpace(*req.CorrectOption))
		req.CorrectOption = &upper
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	_, exam, err := s.getManagedExam(ctx, examID, userID, "update_question")
	if err != nil {
		return nil, err
	}

	question, err := s.repo.Question().GetByID(ctx, s.db, questionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if question.ExamID != exam.ID {
		return nil, ErrQuestionNotFound
	}

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		applyQuestionUpdates(question, req)
		if err := s.repo.Question().Update(ctx, tx, question); err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}

		// Toggling is_active changes the active question count.
		if req.IsActive != nil {
			return s.repo.Exam().SyncTotalQuestions(ctx, tx, exam.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Question updated successfully",
		"exam_id", exam.ID,
		"question_id", question.ID)
	return question, nil
}

func (s *examService) RemoveQuestion(ctx context.Context, examID, questionID uint, userID string) error {
	s.logger.Info("Removing question from exam",
		"exam_id", examID,
		"question_id", questionID,
		"user_id", userID)

	_, exam, err := s.getManagedExam(ctx, examID, userID, "remove_question")
	if err != nil {
		return err
	}

	question, err := s.repo.Question().GetByID(ctx, s.db, questionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to get question: %w", err)
	}
	if question.ExamID != exam.ID {
		return ErrQuestionNotFound
	}

	// Deactivation instead of deletion: past attempts keep grading against
	// the question through their frozen snapshots.
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Question().Deactivate(ctx, tx, questionID); err != nil {
			return fmt.Errorf("failed to deactivate question: %w", err)
		}
		return s.repo.Exam().SyncTotalQuestions(ctx, tx, exam.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Question removed successfully",
		"exam_id", exam.ID,
		"question_id", questionID)
	return nil
}
