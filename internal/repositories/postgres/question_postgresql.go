package postgres

import (
	"context"
	"fmt"

	"github.com/edupilot/exam-service/internal/cache"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type QuestionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}

// invalidateQuestionCaches drops the per-question key and every exam-scoped
// question listing touched by a mutation
func (q *QuestionPostgreSQL) invalidateQuestionCaches(ctx context.Context, questionID, examID uint) {
	cache.SafeDelete(ctx, q.cacheManager.Question, fmt.Sprintf("id:%d", questionID))
	cache.SafeInvalidatePattern(ctx, q.cacheManager.Question, fmt.Sprintf("exam:%d:*", examID))
	cache.SafeDelete(ctx, q.cacheManager.Exam,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("details:%d", examID))
}

// Create creates a new question
func (q *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Create(question).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}

	q.invalidateQuestionCaches(ctx, question.ID, question.ExamID)

	return nil
}

// GetByID retrieves a question by ID with caching
func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var question models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &question, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbQuestion models.Question
		if err := db.WithContext(ctx).First(&dbQuestion, id).Error; err != nil {
			return nil, err
		}
		return &dbQuestion, nil
	})
	if err != nil {
		return nil, err
	}

	return &question, nil
}

// Update updates an existing question
func (q *QuestionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Save(question).Error; err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}

	q.invalidateQuestionCaches(ctx, question.ID, question.ExamID)

	return nil
}

// Deactivate retires a question from future attempts. Frozen attempt
// snapshots and graded answers keep their reference, so no hard delete.
func (q *QuestionPostgreSQL) Deactivate(ctx context.Context, tx *gorm.DB, id uint) error {
	db := q.getDB(tx)

	var question models.Question
	if err := db.WithContext(ctx).Select("id, exam_id").First(&question, id).Error; err != nil {
		return fmt.Errorf("failed to get question before deactivate: %w", err)
	}

	if err := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("id = ?", id).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate question: %w", err)
	}

	q.invalidateQuestionCaches(ctx, id, question.ExamID)

	return nil
}

// CreateBatch creates multiple questions in batches
func (q *QuestionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}

	db := q.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(questions, 100).Error; err != nil {
		return fmt.Errorf("failed to create questions batch: %w", err)
	}

	examIDs := make(map[uint]bool)
	for _, question := range questions {
		examIDs[question.ExamID] = true
	}
	for examID := range examIDs {
		cache.SafeInvalidatePattern(ctx, q.cacheManager.Question, fmt.Sprintf("exam:%d:*", examID))
		cache.SafeDelete(ctx, q.cacheManager.Exam,
			fmt.Sprintf("id:%d", examID),
			fmt.Sprintf("details:%d", examID))
	}

	return nil
}

// GetByIDs retrieves multiple questions by their IDs
func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	if len(ids) == 0 {
		return []*models.Question{}, nil
	}

	db := q.getDB(tx)
	var questions []*models.Question
	if err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to get questions by IDs: %w", err)
	}

	return questions, nil
}

// GetByExam retrieves questions of an exam in authored order
func (q *QuestionPostgreSQL) GetByExam(ctx context.Context, tx *gorm.DB, examID uint, activeOnly bool) ([]*models.Question, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("exam:%d:active:%t", examID, activeOnly)
	var questions []*models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &questions, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		query := db.WithContext(ctx).Where("exam_id = ?", examID)
		if activeOnly {
			query = query.Where("is_active = ?", true)
		}

		var dbQuestions []*models.Question
		if err := query.Order("order_index ASC, id ASC").Find(&dbQuestions).Error; err != nil {
			return nil, fmt.Errorf("failed to get questions by exam: %w", err)
		}
		return dbQuestions, nil
	})

	return questions, err
}

// MaxOrderIndex returns the highest order_index of an exam's questions, 0 when none
func (q *QuestionPostgreSQL) MaxOrderIndex(ctx context.Context, tx *gorm.DB, examID uint) (int, error) {
	db := q.getDB(tx)
	var maxIndex int
	err := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("exam_id = ?", examID).
		Select("COALESCE(MAX(order_index), 0)").
		Scan(&maxIndex).Error
	return maxIndex, err
}
