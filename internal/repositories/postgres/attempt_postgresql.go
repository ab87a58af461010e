package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edupilot/exam-service/internal/cache"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	cache.InvalidateAttemptCache(ctx, a.cacheManager, attempt.ID, attempt.StudentID, attempt.ExamID)

	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:%d", id)
	var attempt models.ExamAttempt

	err := a.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &attempt, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAttempt models.ExamAttempt
		if err := db.WithContext(ctx).First(&dbAttempt, id).Error; err != nil {
			return nil, err
		}
		return &dbAttempt, nil
	})
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	if err := db.WithContext(ctx).
		Preload("Exam").
		Preload("Student").
		Preload("Student.User").
		Preload("Answers").
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// GetByIDForUpdate locks the attempt row for the rest of the transaction.
// Status transitions and answer writes serialize behind this lock.
func (a *AttemptPostgreSQL) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Save(attempt).Error; err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}

	cache.InvalidateAttemptCache(ctx, a.cacheManager, attempt.ID, attempt.StudentID, attempt.ExamID)

	return nil
}

func (a *AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	if err := db.WithContext(ctx).
		Where("student_id = ? AND exam_id = ? AND status = ?", studentID, examID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		return nil, err
	}

	return &attempt, nil
}

// GetExpiredInProgress finds in_progress attempts whose window has elapsed,
// joining the exam row for its duration. The sweeper feeds these into the
// idempotent timeout transition.
func (a *AttemptPostgreSQL) GetExpiredInProgress(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.ExamAttempt

	query := db.WithContext(ctx).
		Joins("JOIN exams ON exams.id = exam_attempts.exam_id").
		Where("exam_attempts.status = ?", models.AttemptInProgress).
		Where("exam_attempts.started_at + make_interval(mins => exams.duration_minutes) <= ?", now).
		Order("exam_attempts.started_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get expired attempts: %w", err)
	}

	return attempts, nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.ExamAttempt
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.ExamAttempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Exam").Preload("Student").Preload("Student.User").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

// GetTerminalByStudentAndExam returns finished attempts newest first; the
// first element is the one retake permission is read from.
func (a *AttemptPostgreSQL) GetTerminalByStudentAndExam(ctx context.Context, tx *gorm.DB, studentID, examID uint) ([]*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.ExamAttempt
	if err := db.WithContext(ctx).
		Where("student_id = ? AND exam_id = ? AND status IN ?", studentID, examID, models.TerminalStatuses).
		Order("created_at DESC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get terminal attempts: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) CountTerminal(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int64, error) {
	return a.helpers.CountTerminalAttempts(ctx, examID, studentID)
}

func (a *AttemptPostgreSQL) GetNextAttemptNumber(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int, error) {
	count, err := a.helpers.CountTerminalAttempts(ctx, examID, studentID)
	return int(count) + 1, err
}

// GetPendingVerification lists terminal unverified attempts, most recently
// finished first
func (a *AttemptPostgreSQL) GetPendingVerification(ctx context.Context, tx *gorm.DB, filters repositories.VerificationFilters) ([]*models.ExamAttempt, int64, error) {
	db := a.getDB(tx)

	query := db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Joins("JOIN exams ON exams.id = exam_attempts.exam_id").
		Where("exam_attempts.status IN ? AND exam_attempts.is_verified = ?", models.TerminalStatuses, false)

	if filters.ExamID != nil {
		query = query.Where("exam_attempts.exam_id = ?", *filters.ExamID)
	}
	if filters.CourseID != nil {
		query = query.Where("exams.course_id = ?", *filters.CourseID)
	}
	if filters.InstitutionID != nil {
		query = query.Where("exams.institution_id = ?", *filters.InstitutionID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var attempts []*models.ExamAttempt
	if err := query.
		Order("exam_attempts.ended_at DESC").
		Preload("Exam").
		Preload("Student").
		Preload("Student.User").
		Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetVerifiedByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.ExamAttempt
	if err := db.WithContext(ctx).
		Where("exam_id = ? AND is_verified = ? AND status IN ?", examID, true, models.TerminalStatuses).
		Order("ended_at DESC").
		Preload("Student").
		Preload("Student.User").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get verified attempts: %w", err)
	}
	return attempts, nil
}

// GetVerifiedByStudent backs the student results listing; unverified rows
// never cross this boundary
func (a *AttemptPostgreSQL) GetVerifiedByStudent(ctx context.Context, tx *gorm.DB, studentID uint) ([]*models.ExamAttempt, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:student:%d:verified", studentID)
	var attempts []*models.ExamAttempt

	err := a.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &attempts, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAttempts []*models.ExamAttempt
		if err := db.WithContext(ctx).
			Where("student_id = ? AND is_verified = ? AND status IN ?", studentID, true, models.TerminalStatuses).
			Order("created_at DESC").
			Preload("Exam").
			Preload("Exam.Course").
			Find(&dbAttempts).Error; err != nil {
			return nil, fmt.Errorf("failed to get verified attempts by student: %w", err)
		}
		return dbAttempts, nil
	})

	return attempts, err
}

func (a *AttemptPostgreSQL) GetBestVerifiedPercentage(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*float64, error) {
	db := a.getDB(tx)
	var best sql.NullFloat64

	err := db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Where("student_id = ? AND exam_id = ? AND is_verified = ? AND status IN ?", studentID, examID, true, models.TerminalStatuses).
		Select("MAX(percentage)").
		Row().Scan(&best)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get best verified percentage: %w", err)
	}

	if !best.Valid {
		return nil, nil
	}
	value := best.Float64
	return &value, nil
}

// GetExamResultStats aggregates verified terminal attempts of one exam in a
// single query
func (a *AttemptPostgreSQL) GetExamResultStats(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.ExamResultStats, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("exam:%d:results", examID)
	var stats repositories.ExamResultStats

	err := a.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		fresh := &repositories.ExamResultStats{}

		var total, passed int64
		var avg, highest, lowest float64

		err := db.WithContext(ctx).
			Model(&models.ExamAttempt{}).
			Where("exam_id = ? AND is_verified = ? AND status IN ?", examID, true, models.TerminalStatuses).
			Select("COUNT(*), SUM(CASE WHEN passed = true THEN 1 ELSE 0 END), COALESCE(AVG(percentage), 0), COALESCE(MAX(percentage), 0), COALESCE(MIN(percentage), 0)").
			Row().Scan(&total, &passed, &avg, &highest, &lowest)
		if err != nil {
			return nil, fmt.Errorf("failed to get exam result stats: %w", err)
		}

		fresh.TotalAttempts = int(total)
		fresh.PassedCount = int(passed)
		fresh.FailedCount = int(total - passed)
		if total > 0 {
			fresh.PassRate = float64(passed) / float64(total) * 100
		}
		fresh.AveragePercentage = avg
		fresh.HighestPercentage = highest
		fresh.LowestPercentage = lowest

		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// GetVerificationStats aggregates the verification queue, scoped to an
// institution unless nil (super admin)
func (a *AttemptPostgreSQL) GetVerificationStats(ctx context.Context, tx *gorm.DB, institutionID *uint) (*repositories.VerificationStats, error) {
	db := a.getDB(tx)

	cacheKey := "verification:all"
	if institutionID != nil {
		cacheKey = fmt.Sprintf("verification:inst:%d", *institutionID)
	}
	var stats repositories.VerificationStats

	err := a.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		fresh := &repositories.VerificationStats{}

		scoped := func() *gorm.DB {
			query := db.WithContext(ctx).
				Model(&models.ExamAttempt{}).
				Joins("JOIN exams ON exams.id = exam_attempts.exam_id")
			if institutionID != nil {
				query = query.Where("exams.institution_id = ?", *institutionID)
			}
			return query
		}

		var pending int64
		if err := scoped().
			Where("exam_attempts.status IN ? AND exam_attempts.is_verified = ?", models.TerminalStatuses, false).
			Count(&pending).Error; err != nil {
			return nil, fmt.Errorf("failed to count pending verification: %w", err)
		}
		fresh.PendingCount = int(pending)

		now := time.Now()
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

		var verifiedToday int64
		if err := scoped().
			Where("exam_attempts.is_verified = ? AND exam_attempts.verified_at >= ?", true, startOfDay).
			Count(&verifiedToday).Error; err != nil {
			return nil, fmt.Errorf("failed to count verified today: %w", err)
		}
		fresh.VerifiedToday = int(verifiedToday)

		var totalVerified, passedVerified int64
		var avgPercentage float64
		err := scoped().
			Where("exam_attempts.is_verified = ?", true).
			Select("COUNT(*), SUM(CASE WHEN exam_attempts.passed = true THEN 1 ELSE 0 END), COALESCE(AVG(exam_attempts.percentage), 0)").
			Row().Scan(&totalVerified, &passedVerified, &avgPercentage)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate verified attempts: %w", err)
		}

		fresh.TotalVerified = int(totalVerified)
		if totalVerified > 0 {
			fresh.PassRate = float64(passedVerified) / float64(totalVerified) * 100
		}
		fresh.AveragePercentage = avgPercentage

		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (a *AttemptPostgreSQL) GetStudentStats(ctx context.Context, tx *gorm.DB, studentID uint) (*repositories.StudentAttemptStats, error) {
	db := a.getDB(tx)
	stats := &repositories.StudentAttemptStats{}

	var totalAttempts int64
	if err := db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Where("student_id = ?", studentID).
		Count(&totalAttempts).Error; err != nil {
		return nil, err
	}
	stats.TotalAttempts = int(totalAttempts)

	var examsTaken int64
	if err := db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Where("student_id = ?", studentID).
		Distinct("exam_id").
		Count(&examsTaken).Error; err != nil {
		return nil, err
	}
	stats.ExamsTaken = int(examsTaken)

	var examsPassed int64
	if err := db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Where("student_id = ? AND is_verified = ? AND passed = ?", studentID, true, true).
		Distinct("exam_id").
		Count(&examsPassed).Error; err != nil {
		return nil, err
	}
	stats.ExamsPassed = int(examsPassed)

	var avg, best float64
	err := db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Where("student_id = ? AND is_verified = ?", studentID, true).
		Select("COALESCE(AVG(percentage), 0), COALESCE(MAX(percentage), 0)").
		Row().Scan(&avg, &best)
	if err != nil {
		return nil, err
	}
	stats.AveragePercentage = avg
	stats.BestPercentage = best

	return stats, nil
}

// ===== ANSWER REPOSITORY IMPLEMENTATION =====

// AnswerPostgreSQL implements the AnswerRepository interface
type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

// NewAnswerPostgreSQL creates a new answer repository instance
func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (ar *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ar.db
}

// create inserts a single answer row; only UpsertAnswer reaches it
func (ar *AnswerPostgreSQL) create(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	db := ar.getDB(tx)
	if err := db.WithContext(ctx).Create(answer).Error; err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("attempt:%d:answers", answer.AttemptID),
		fmt.Sprintf("attempt:%d:question:%d", answer.AttemptID, answer.QuestionID),
	)

	return nil
}

// Update updates an existing answer
func (ar *AnswerPostgreSQL) Update(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	db := ar.getDB(tx)
	if err := db.WithContext(ctx).Save(answer).Error; err != nil {
		return fmt.Errorf("failed to update answer: %w", err)
	}

	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("attempt:%d:answers", answer.AttemptID),
		fmt.Sprintf("attempt:%d:question:%d", answer.AttemptID, answer.QuestionID),
	)

	return nil
}

// CreateBatch seeds the per-question answer rows when an attempt starts
func (ar *AnswerPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	db := ar.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(answers, 100).Error; err != nil {
		return fmt.Errorf("failed to create answers batch: %w", err)
	}

	attemptIDs := make(map[uint]bool)
	for _, answer := range answers {
		attemptIDs[answer.AttemptID] = true
	}
	for attemptID := range attemptIDs {
		ar.cacheManager.Fast.InvalidatePattern(ctx, fmt.Sprintf("attempt:%d:*", attemptID))
	}

	return nil
}

// UpsertAnswer creates or updates the single (attempt, question) row
func (ar *AnswerPostgreSQL) UpsertAnswer(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	existing, err := ar.getByAttemptAndQuestion(ctx, tx, answer.AttemptID, answer.QuestionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing answer: %w", err)
	}

	if existing != nil {
		answer.ID = existing.ID
		answer.CreatedAt = existing.CreatedAt
		return ar.Update(ctx, tx, answer)
	}

	return ar.create(ctx, tx, answer)
}

// GetByAttempt retrieves all answers for an attempt with caching
func (ar *AnswerPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
	db := ar.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:%d:answers", attemptID)
	var answers []*models.StudentAnswer

	err := ar.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &answers, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAnswers []*models.StudentAnswer
		if err := db.WithContext(ctx).
			Where("attempt_id = ?", attemptID).
			Order("question_id ASC").
			Find(&dbAnswers).Error; err != nil {
			return nil, fmt.Errorf("failed to get answers by attempt: %w", err)
		}
		return dbAnswers, nil
	})

	return answers, err
}

// GetByAttemptWithQuestions joins each answer to its question row; grading
// and review both need the key and marks
func (ar *AnswerPostgreSQL) GetByAttemptWithQuestions(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
	db := ar.getDB(tx)
	var answers []*models.StudentAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Preload("Question").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get answers with questions: %w", err)
	}

	return answers, nil
}

// getByAttemptAndQuestion backs the upsert's existence check
func (ar *AnswerPostgreSQL) getByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.StudentAnswer, error) {
	db := ar.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:%d:question:%d", attemptID, questionID)
	var answer models.StudentAnswer

	err := ar.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &answer, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAnswer models.StudentAnswer
		if err := db.WithContext(ctx).
			Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
			First(&dbAnswer).Error; err != nil {
			return nil, err
		}
		return &dbAnswer, nil
	})
	if err != nil {
		return nil, err
	}

	return &answer, nil
}
