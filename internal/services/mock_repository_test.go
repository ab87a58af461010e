package services

import (
	"context"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"gorm.io/gorm"
)

// MockRepository implements repositories.Repository without a database.
// Each sub-repository delegates to per-method Fn hooks; unset hooks fall
// back to not-found for single-row reads and no-ops for writes, so a test
// only wires the calls its path actually makes.
type MockRepository struct {
	ExamRepo       MockExamRepo
	QuestionRepo   MockQuestionRepo
	ScheduleRepo   MockScheduleRepo
	AttemptRepo    MockAttemptRepo
	AnswerRepo     MockAnswerRepo
	StudentRepo    MockStudentRepo
	EnrollmentRepo MockEnrollmentRepo
	PaymentRepo    MockPaymentRepo
	CourseRepo     MockCourseRepo
	UserRepo       MockUserRepo

	WithTransactionFn func(ctx context.Context, fn func(tx *gorm.DB) error) error
}

func (m *MockRepository) Exam() repositories.ExamRepository             { return &m.ExamRepo }
func (m *MockRepository) Question() repositories.QuestionRepository     { return &m.QuestionRepo }
func (m *MockRepository) Schedule() repositories.ScheduleRepository     { return &m.ScheduleRepo }
func (m *MockRepository) Attempt() repositories.AttemptRepository       { return &m.AttemptRepo }
func (m *MockRepository) Answer() repositories.AnswerRepository         { return &m.AnswerRepo }
func (m *MockRepository) Student() repositories.StudentRepository       { return &m.StudentRepo }
func (m *MockRepository) Enrollment() repositories.EnrollmentRepository { return &m.EnrollmentRepo }
func (m *MockRepository) Payment() repositories.PaymentRepository       { return &m.PaymentRepo }
func (m *MockRepository) Course() repositories.CourseRepository         { return &m.CourseRepo }
func (m *MockRepository) User() repositories.UserRepository             { return &m.UserRepo }

// WithTransaction runs fn directly; mocked methods ignore the tx handle.
func (m *MockRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if m.WithTransactionFn != nil {
		return m.WithTransactionFn(ctx, fn)
	}
	return fn(nil)
}

func (m *MockRepository) Ping(ctx context.Context) error { return nil }
func (m *MockRepository) Close() error                   { return nil }

// ===== EXAM =====

type MockExamRepo struct {
	CreateFn               func(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByIDFn              func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByIDWithQuestionsFn func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	UpdateFn               func(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	DeleteFn               func(ctx context.Context, tx *gorm.DB, id uint) error
	ListFn                 func(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error)
	GetActiveByCoursesFn   func(ctx context.Context, tx *gorm.DB, courseIDs []uint) ([]*models.Exam, error)
	SyncTotalQuestionsFn   func(ctx context.Context, tx *gorm.DB, examID uint) error
}

func (m *MockExamRepo) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, tx, exam)
	}
	return nil
}

func (m *MockExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockExamRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	if m.GetByIDWithQuestionsFn != nil {
		return m.GetByIDWithQuestionsFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockExamRepo) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx, exam)
	}
	return nil
}

func (m *MockExamRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, tx, id)
	}
	return nil
}

func (m *MockExamRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, tx, filters)
	}
	return nil, 0, nil
}

func (m *MockExamRepo) GetActiveByCourses(ctx context.Context, tx *gorm.DB, courseIDs []uint) ([]*models.Exam, error) {
	if m.GetActiveByCoursesFn != nil {
		return m.GetActiveByCoursesFn(ctx, tx, courseIDs)
	}
	return nil, nil
}

func (m *MockExamRepo) SyncTotalQuestions(ctx context.Context, tx *gorm.DB, examID uint) error {
	if m.SyncTotalQuestionsFn != nil {
		return m.SyncTotalQuestionsFn(ctx, tx, examID)
	}
	return nil
}

// ===== QUESTION =====

type MockQuestionRepo struct {
	CreateFn        func(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByIDFn       func(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	UpdateFn        func(ctx context.Context, tx *gorm.DB, question *models.Question) error
	DeactivateFn    func(ctx context.Context, tx *gorm.DB, id uint) error
	CreateBatchFn   func(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByIDsFn      func(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)
	GetByExamFn     func(ctx context.Context, tx *gorm.DB, examID uint, activeOnly bool) ([]*models.Question, error)
	MaxOrderIndexFn func(ctx context.Context, tx *gorm.DB, examID uint) (int, error)
}

func (m *MockQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, tx, question)
	}
	return nil
}

func (m *MockQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx, question)
	}
	return nil
}

func (m *MockQuestionRepo) Deactivate(ctx context.Context, tx *gorm.DB, id uint) error {
	if m.DeactivateFn != nil {
		return m.DeactivateFn(ctx, tx, id)
	}
	return nil
}

func (m *MockQuestionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if m.CreateBatchFn != nil {
		return m.CreateBatchFn(ctx, tx, questions)
	}
	return nil
}

func (m *MockQuestionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	if m.GetByIDsFn != nil {
		return m.GetByIDsFn(ctx, tx, ids)
	}
	return nil, nil
}

func (m *MockQuestionRepo) GetByExam(ctx context.Context, tx *gorm.DB, examID uint, activeOnly bool) ([]*models.Question, error) {
	if m.GetByExamFn != nil {
		return m.GetByExamFn(ctx, tx, examID, activeOnly)
	}
	return nil, nil
}

func (m *MockQuestionRepo) MaxOrderIndex(ctx context.Context, tx *gorm.DB, examID uint) (int, error) {
	if m.MaxOrderIndexFn != nil {
		return m.MaxOrderIndexFn(ctx, tx, examID)
	}
	return 0, nil
}

// ===== SCHEDULE =====

type MockScheduleRepo struct {
	CreateFn          func(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error
	GetByIDFn         func(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSchedule, error)
	UpdateFn          func(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error
	CancelFn          func(ctx context.Context, tx *gorm.DB, id uint) error
	ListFn            func(ctx context.Context, tx *gorm.DB, filters repositories.ScheduleFilters) ([]*models.ExamSchedule, int64, error)
	GetActiveByExamFn func(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamSchedule, error)
}

func (m *MockScheduleRepo) Create(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, tx, schedule)
	}
	return nil
}

func (m *MockScheduleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSchedule, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockScheduleRepo) Update(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx, schedule)
	}
	return nil
}

func (m *MockScheduleRepo) Cancel(ctx context.Context, tx *gorm.DB, id uint) error {
	if m.CancelFn != nil {
		return m.CancelFn(ctx, tx, id)
	}
	return nil
}

func (m *MockScheduleRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ScheduleFilters) ([]*models.ExamSchedule, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, tx, filters)
	}
	return nil, 0, nil
}

func (m *MockScheduleRepo) GetActiveByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamSchedule, error) {
	if m.GetActiveByExamFn != nil {
		return m.GetActiveByExamFn(ctx, tx, examID)
	}
	return nil, nil
}

// ===== ATTEMPT =====

type MockAttemptRepo struct {
	CreateFn                      func(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error
	GetByIDFn                     func(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)
	GetByIDWithDetailsFn          func(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)
	UpdateFn                      func(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error
	GetByIDForUpdateFn            func(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)
	GetActiveAttemptFn            func(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*models.ExamAttempt, error)
	GetExpiredInProgressFn        func(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamAttempt, error)
	ListFn                        func(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error)
	GetTerminalByStudentAndExamFn func(ctx context.Context, tx *gorm.DB, studentID, examID uint) ([]*models.ExamAttempt, error)
	CountTerminalFn               func(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int64, error)
	GetNextAttemptNumberFn        func(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int, error)
	GetPendingVerificationFn      func(ctx context.Context, tx *gorm.DB, filters repositories.VerificationFilters) ([]*models.ExamAttempt, int64, error)
	GetVerifiedByExamFn           func(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamAttempt, error)
	GetVerifiedByStudentFn        func(ctx context.Context, tx *gorm.DB, studentID uint) ([]*models.ExamAttempt, error)
	GetBestVerifiedPercentageFn   func(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*float64, error)
	GetExamResultStatsFn          func(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.ExamResultStats, error)
	GetVerificationStatsFn        func(ctx context.Context, tx *gorm.DB, institutionID *uint) (*repositories.VerificationStats, error)
	GetStudentStatsFn             func(ctx context.Context, tx *gorm.DB, studentID uint) (*repositories.StudentAttemptStats, error)
}

func (m *MockAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, tx, attempt)
	}
	return nil
}

func (m *MockAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockAttemptRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	if m.GetByIDWithDetailsFn != nil {
		return m.GetByIDWithDetailsFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx, attempt)
	}
	return nil
}

func (m *MockAttemptRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
	if m.GetByIDForUpdateFn != nil {
		return m.GetByIDForUpdateFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockAttemptRepo) GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*models.ExamAttempt, error) {
	if m.GetActiveAttemptFn != nil {
		return m.GetActiveAttemptFn(ctx, tx, studentID, examID)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockAttemptRepo) GetExpiredInProgress(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamAttempt, error) {
	if m.GetExpiredInProgressFn != nil {
		return m.GetExpiredInProgressFn(ctx, tx, now, limit)
	}
	return nil, nil
}

func (m *MockAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, tx, filters)
	}
	return nil, 0, nil
}

func (m *MockAttemptRepo) GetTerminalByStudentAndExam(ctx context.Context, tx *gorm.DB, studentID, examID uint) ([]*models.ExamAttempt, error) {
	if m.GetTerminalByStudentAndExamFn != nil {
		return m.GetTerminalByStudentAndExamFn(ctx, tx, studentID, examID)
	}
	return nil, nil
}

func (m *MockAttemptRepo) CountTerminal(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int64, error) {
	if m.CountTerminalFn != nil {
		return m.CountTerminalFn(ctx, tx, studentID, examID)
	}
	return 0, nil
}

func (m *MockAttemptRepo) GetNextAttemptNumber(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int, error) {
	if m.GetNextAttemptNumberFn != nil {
		return m.GetNextAttemptNumberFn(ctx, tx, studentID, examID)
	}
	return 1, nil
}

func (m *MockAttemptRepo) GetPendingVerification(ctx context.Context, tx *gorm.DB, filters repositories.VerificationFilters) ([]*models.ExamAttempt, int64, error) {
	if m.GetPendingVerificationFn != nil {
		return m.GetPendingVerificationFn(ctx, tx, filters)
	}
	return nil, 0, nil
}

func (m *MockAttemptRepo) GetVerifiedByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamAttempt, error) {
	if m.GetVerifiedByExamFn != nil {
		return m.GetVerifiedByExamFn(ctx, tx, examID)
	}
	return nil, nil
}

func (m *MockAttemptRepo) GetVerifiedByStudent(ctx context.Context, tx *gorm.DB, studentID uint) ([]*models.ExamAttempt, error) {
	if m.GetVerifiedByStudentFn != nil {
		return m.GetVerifiedByStudentFn(ctx, tx, studentID)
	}
	return nil, nil
}

func (m *MockAttemptRepo) GetBestVerifiedPercentage(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*float64, error) {
	if m.GetBestVerifiedPercentageFn != nil {
		return m.GetBestVerifiedPercentageFn(ctx, tx, studentID, examID)
	}
	return nil, nil
}

func (m *MockAttemptRepo) GetExamResultStats(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.ExamResultStats, error) {
	if m.GetExamResultStatsFn != nil {
		return m.GetExamResultStatsFn(ctx, tx, examID)
	}
	return &repositories.ExamResultStats{}, nil
}

func (m *MockAttemptRepo) GetVerificationStats(ctx context.Context, tx *gorm.DB, institutionID *uint) (*repositories.VerificationStats, error) {
	if m.GetVerificationStatsFn != nil {
		return m.GetVerificationStatsFn(ctx, tx, institutionID)
	}
	return &repositories.VerificationStats{}, nil
}

func (m *MockAttemptRepo) GetStudentStats(ctx context.Context, tx *gorm.DB, studentID uint) (*repositories.StudentAttemptStats, error) {
	if m.GetStudentStatsFn != nil {
		return m.GetStudentStatsFn(ctx, tx, studentID)
	}
	return &repositories.StudentAttemptStats{}, nil
}

// ===== ANSWER =====

type MockAnswerRepo struct {
	UpdateFn                    func(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error
	CreateBatchFn               func(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error
	UpsertAnswerFn              func(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error
	GetByAttemptFn              func(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error)
	GetByAttemptWithQuestionsFn func(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error)
}

func (m *MockAnswerRepo) Update(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx, answer)
	}
	return nil
}

func (m *MockAnswerRepo) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if m.CreateBatchFn != nil {
		return m.CreateBatchFn(ctx, tx, answers)
	}
	return nil
}

func (m *MockAnswerRepo) UpsertAnswer(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	if m.UpsertAnswerFn != nil {
		return m.UpsertAnswerFn(ctx, tx, answer)
	}
	return nil
}

func (m *MockAnswerRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
	if m.GetByAttemptFn != nil {
		return m.GetByAttemptFn(ctx, tx, attemptID)
	}
	return nil, nil
}

func (m *MockAnswerRepo) GetByAttemptWithQuestions(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
	if m.GetByAttemptWithQuestionsFn != nil {
		return m.GetByAttemptWithQuestionsFn(ctx, tx, attemptID)
	}
	return nil, nil
}

// ===== STUDENT =====

type MockStudentRepo struct {
	GetByUserIDFn func(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error)
}

func (m *MockStudentRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error) {
	if m.GetByUserIDFn != nil {
		return m.GetByUserIDFn(ctx, tx, userID)
	}
	return nil, gorm.ErrRecordNotFound
}

// ===== ENROLLMENT =====

type MockEnrollmentRepo struct {
	HasActiveEnrollmentFn func(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error)
	ActiveCourseIDsFn     func(ctx context.Context, tx *gorm.DB, studentID uint) ([]uint, error)
}

func (m *MockEnrollmentRepo) HasActiveEnrollment(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
	if m.HasActiveEnrollmentFn != nil {
		return m.HasActiveEnrollmentFn(ctx, tx, studentID, courseID)
	}
	return false, nil
}

func (m *MockEnrollmentRepo) ActiveCourseIDs(ctx context.Context, tx *gorm.DB, studentID uint) ([]uint, error) {
	if m.ActiveCourseIDsFn != nil {
		return m.ActiveCourseIDsFn(ctx, tx, studentID)
	}
	return nil, nil
}

// ===== PAYMENT =====

type MockPaymentRepo struct {
	HasPaymentFn func(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error)
}

func (m *MockPaymentRepo) HasPayment(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
	if m.HasPaymentFn != nil {
		return m.HasPaymentFn(ctx, tx, studentID, courseID)
	}
	return false, nil
}

// ===== COURSE =====

type MockCourseRepo struct {
	GetByIDFn       func(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error)
	GetModuleByIDFn func(ctx context.Context, tx *gorm.DB, id uint) (*models.CourseModule, error)
}

func (m *MockCourseRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockCourseRepo) GetModuleByID(ctx context.Context, tx *gorm.DB, id uint) (*models.CourseModule, error) {
	if m.GetModuleByIDFn != nil {
		return m.GetModuleByIDFn(ctx, tx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

// ===== USER =====

type MockUserRepo struct {
	GetByIDFn func(ctx context.Context, id string) (*models.User, error)
	ListFn    func(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error)
	SearchFn  func(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filters)
	}
	return nil, 0, nil
}

func (m *MockUserRepo) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, filters)
	}
	return nil, 0, nil
}

// ===== SHARED TEST HELPERS =====

func strPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }

func boolPtr(v bool) *bool { return &v }
