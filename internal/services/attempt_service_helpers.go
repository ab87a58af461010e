package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ===== ACCESS HELPERS =====

// getOwnedAttempt loads an attempt and verifies it belongs to the student.
// Somebody else's attempt reads as not found, matching the scoped queries
// the student routes use everywhere else.
func (s *attemptService) getOwnedAttempt(ctx context.Context, tx *gorm.DB, attemptID, studentID uint) (*models.ExamAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, tx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

// ===== TIMING =====

// attemptDeadline is the moment the attempt's clock runs out.
func attemptDeadline(attempt *models.ExamAttempt, exam *models.Exam) time.Time {
	return attempt.StartedAt.Add(time.Duration(exam.DurationMinutes) * time.Minute)
}

func remainingSeconds(attempt *models.ExamAttempt, exam *models.Exam, now time.Time) int {
	remaining := int(attemptDeadline(attempt, exam).Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func attemptExpired(attempt *models.ExamAttempt, exam *models.Exam, now time.Time) bool {
	return !now.Before(attemptDeadline(attempt, exam))
}

// ===== RANDOMIZATION SNAPSHOT =====

// buildQuestionOrder freezes the delivery order of the active question set.
// Without shuffling the authored order is kept as-is.
func buildQuestionOrder(questions []*models.Question, shuffle bool) []uint {
	ids := make([]uint, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	if shuffle {
		rand.Shuffle(len(ids), func(i, j int) {
			ids[i], ids[j] = ids[j], ids[i]
		})
	}
	return ids
}

// buildAnswerOrder freezes a per-question label bijection, shown label to
// original label. When option shuffling is off the map stays empty and
// every read treats a missing entry as identity.
func buildAnswerOrder(questionIDs []uint, shuffle bool) map[uint]map[string]string {
	order := make(map[uint]map[string]string)
	if !shuffle {
		return order
	}
	for _, id := range questionIDs {
		originals := make([]models.OptionLabel, len(models.OptionLabels))
		copy(originals, models.OptionLabels)
		rand.Shuffle(len(originals), func(i, j int) {
			originals[i], originals[j] = originals[j], originals[i]
		})

		m := make(map[string]string, len(originals))
		for i, orig := range originals {
			m[string(models.OptionLabels[i])] = string(orig)
		}
		order[id] = m
	}
	return order
}

func encodeQuestionOrder(ids []uint) (datatypes.JSON, error) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode question order: %w", err)
	}
	return raw, nil
}

func decodeQuestionOrder(raw datatypes.JSON) ([]uint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode question order: %w", err)
	}
	return ids, nil
}

func encodeAnswerOrder(order map[uint]map[string]string) (datatypes.JSON, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer order: %w", err)
	}
	return raw, nil
}

func decodeAnswerOrder(raw datatypes.JSON) (map[uint]map[string]string, error) {
	if len(raw) == 0 {
		return map[uint]map[string]string{}, nil
	}
	var order map[uint]map[string]string
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("failed to decode answer order: %w", err)
	}
	if order == nil {
		order = map[uint]map[string]string{}
	}
	return order, nil
}

// toOriginalLabel translates a shown-space label into original space for
// one question. Questions without a stored bijection use identity.
func toOriginalLabel(order map[uint]map[string]string, questionID uint, label string) string {
	if m, ok := order[questionID]; ok {
		if orig, ok := m[label]; ok {
			return orig
		}
	}
	return label
}

// toShownLabel is the inverse translation, original space back to what the
// student sees.
func toShownLabel(order map[uint]map[string]string, questionID uint, label string) string {
	if m, ok := order[questionID]; ok {
		for shown, orig := range m {
			if orig == label {
				return shown
			}
		}
	}
	return label
}

// ===== RESPONSE BUILDING =====

// buildAttemptResponse renders the attempt for its student. Questions come
// out in the frozen order with option text arranged into shown-label slots;
// the correct option and explanations never appear here.
func (s *attemptService) buildAttemptResponse(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt, exam *models.Exam, includeQuestions bool) (*AttemptResponse, error) {
	questionIDs, err := decodeQuestionOrder(attempt.QuestionOrder)
	if err != nil {
		return nil, err
	}

	resp := &AttemptResponse{
		ExamAttempt:     attempt,
		ExamTitle:       exam.Title,
		DurationMinutes: exam.DurationMinutes,
		EndsAt:          attemptDeadline(attempt, exam),
		TotalQuestions:  len(questionIDs),
		CanSubmit:       attempt.Status == models.AttemptInProgress,
	}
	if attempt.Status == models.AttemptInProgress {
		resp.TimeRemainingSeconds = remainingSeconds(attempt, exam, time.Now())
	}

	answers, err := s.repo.Answer().GetByAttempt(ctx, tx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt answers: %w", err)
	}
	answersByQuestion := make(map[uint]*models.StudentAnswer, len(answers))
	for _, answer := range answers {
		answersByQuestion[answer.QuestionID] = answer
		if answer.SelectedOption != nil {
			resp.AnsweredCount++
		}
	}

	if !includeQuestions {
		return resp, nil
	}

	answerOrder, err := decodeAnswerOrder(attempt.AnswerOrder)
	if err != nil {
		return nil, err
	}

	questions, err := s.repo.Question().GetByIDs(ctx, tx, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt questions: %w", err)
	}
	questionsByID := make(map[uint]*models.Question, len(questions))
	for _, question := range questions {
		questionsByID[question.ID] = question
	}

	resp.Questions = make([]AttemptQuestion, 0, len(questionIDs))
	for i, id := range questionIDs {
		question, ok := questionsByID[id]
		if !ok {
			continue
		}

		item := AttemptQuestion{
			QuestionID:   question.ID,
			Index:        i,
			QuestionText: question.QuestionText,
			Marks:        question.Marks,
			Options:      make([]AttemptOption, 0, len(models.OptionLabels)),
		}
		for _, shown := range models.OptionLabels {
			original := toOriginalLabel(answerOrder, id, string(shown))
			item.Options = append(item.Options, AttemptOption{
				Label: string(shown),
				Text:  question.OptionText(models.OptionLabel(original)),
			})
		}

		if answer, ok := answersByQuestion[id]; ok {
			item.MarkedForReview = answer.MarkedForReview
			if answer.SelectedOption != nil {
				shown := toShownLabel(answerOrder, id, *answer.SelectedOption)
				item.SelectedOption = &shown
			}
		}

		resp.Questions = append(resp.Questions, item)
	}

	return resp, nil
}

// applyAnswer writes one answer row inside the caller's transaction. The
// attempt row lock is already held, which serializes writes per attempt.
func (s *attemptService) applyAnswer(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt, questionIDs []uint, answerOrder map[uint]map[string]string, req *SaveAnswerRequest, now time.Time) error {
	if !slices.Contains(questionIDs, req.QuestionID) {
		return ErrAnswerQuestionMismatch
	}

	original := toOriginalLabel(answerOrder, req.QuestionID, req.SelectedOption)
	answer := &models.StudentAnswer{
		AttemptID:       attempt.ID,
		QuestionID:      req.QuestionID,
		SelectedOption:  &original,
		MarkedForReview: req.MarkedForReview,
		AnsweredAt:      timePtr(now),
	}
	if err := s.repo.Answer().UpsertAnswer(ctx, tx, answer); err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// ===== EVENTS =====

// publishEvent emits a domain event when a publisher is wired. Publish
// failures are logged and never fail the operation that caused them.
func (s *attemptService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.eventPublisher == nil {
		return
	}
	event := events.NewEvent(eventType, data)
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", eventType,
			"event_id", event.ID,
			"error", err)
	}
}

func scheduleIDPtr(schedule *models.ExamSchedule) *uint {
	if schedule == nil {
		return nil
	}
	return &schedule.ID
}
