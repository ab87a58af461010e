package services

import (
	"context"
	"io"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ===== EXAM DTOs =====

type CreateQuestionRequest struct {
	QuestionText  string  `json:"question_text" validate:"required,min=1"`
	OptionA       string  `json:"option_a" validate:"required,min=1"`
	OptionB       string  `json:"option_b" validate:"required,min=1"`
	OptionC       string  `json:"option_c" validate:"required,min=1"`
	OptionD       string  `json:"option_d" validate:"required,min=1"`
	CorrectOption string  `json:"correct_option" validate:"required,option_label"`
	Marks         int     `json:"marks" validate:"omitempty,min=1,max=100"`
	OrderIndex    int     `json:"order_index" validate:"omitempty,min=0"`
	Explanation   *string `json:"explanation" validate:"omitempty,max=2000"`
}

type UpdateQuestionRequest struct {
	QuestionText  *string `json:"question_text" validate:"omitempty,min=1"`
	OptionA       *string `json:"option_a" validate:"omitempty,min=1"`
	OptionB       *string `json:"option_b" validate:"omitempty,min=1"`
	OptionC       *string `json:"option_c" validate:"omitempty,min=1"`
	OptionD       *string `json:"option_d" validate:"omitempty,min=1"`
	CorrectOption *string `json:"correct_option" validate:"omitempty,option_label"`
	Marks         *int    `json:"marks" validate:"omitempty,min=1,max=100"`
	OrderIndex    *int    `json:"order_index" validate:"omitempty,min=0"`
	Explanation   *string `json:"explanation" validate:"omitempty,max=2000"`
	IsActive      *bool   `json:"is_active"`
}

type BulkAddQuestionsRequest struct {
	Questions []CreateQuestionRequest `json:"questions" validate:"required,min=1,max=200,dive"`
}

type CreateExamRequest struct {
	CourseID        uint    `json:"course_id" validate:"required"`
	ModuleID        uint    `json:"module_id" validate:"required"`
	Title           string  `json:"title" validate:"required,exam_title"`
	Description     *string `json:"description" validate:"omitempty,max=1000"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,exam_duration"`
	PassingMarks    int     `json:"passing_marks" validate:"omitempty,passing_marks"`

	BatchTime       string  `json:"batch_time" validate:"required"`
	BatchMonth      string  `json:"batch_month" validate:"required,batch_month"`
	BatchYear       string  `json:"batch_year" validate:"required,batch_year"`
	BatchIdentifier *string `json:"batch_identifier" validate:"omitempty,oneof=A B"`

	AllowRetakes          bool  `json:"allow_retakes"`
	MaxRetakes            int   `json:"max_retakes" validate:"omitempty,max_retakes"`
	ShuffleQuestions      *bool `json:"shuffle_questions"`
	ShuffleOptions        *bool `json:"shuffle_options"`
	ShowResultImmediately bool  `json:"show_result_immediately"`

	Questions []CreateQuestionRequest `json:"questions" validate:"omitempty,dive"`
}

type UpdateExamRequest struct {
	Title           *string `json:"title" validate:"omitempty,exam_title"`
	Description     *string `json:"description" validate:"omitempty,max=1000"`
	ModuleID        *uint   `json:"module_id"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,exam_duration"`
	PassingMarks    *int    `json:"passing_marks" validate:"omitempty,passing_marks"`

	BatchTime       *string `json:"batch_time"`
	BatchMonth      *string `json:"batch_month" validate:"omitempty,batch_month"`
	BatchYear       *string `json:"batch_year" validate:"omitempty,batch_year"`
	BatchIdentifier *string `json:"batch_identifier" validate:"omitempty,oneof=A B"`

	AllowRetakes          *bool `json:"allow_retakes"`
	MaxRetakes            *int  `json:"max_retakes" validate:"omitempty,max_retakes"`
	ShuffleQuestions      *bool `json:"shuffle_questions"`
	ShuffleOptions        *bool `json:"shuffle_options"`
	ShowResultImmediately *bool `json:"show_result_immediately"`
	IsActive              *bool `json:"is_active"`
}

type ExamResponse struct {
	*models.Exam
	CourseName   string `json:"course_name,omitempty"`
	ModuleName   string `json:"module_name,omitempty"`
	AttemptCount int64  `json:"attempt_count"`
	CanEdit      bool   `json:"can_edit"`
	CanDelete    bool   `json:"can_delete"`
}

type ExamListResponse struct {
	Exams []*ExamResponse `json:"exams"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type ImportQuestionsResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ===== SCHEDULE DTOs =====

type CreateScheduleRequest struct {
	ExamID          uint      `json:"exam_id" validate:"required"`
	ScheduledDate   time.Time `json:"scheduled_date" validate:"required"`
	StartTime       string    `json:"start_time" validate:"required,datetime=15:04"`
	EndTime         string    `json:"end_time" validate:"required,datetime=15:04"`
	BatchTime       string    `json:"batch_time" validate:"required"`
	BatchIdentifier *string   `json:"batch_identifier" validate:"omitempty,oneof=A B"`
	BatchMonth      *string   `json:"batch_month" validate:"omitempty,batch_month"`
	BatchYear       *string   `json:"batch_year" validate:"omitempty,batch_year"`
}

type UpdateScheduleRequest struct {
	ScheduledDate   *time.Time `json:"scheduled_date"`
	StartTime       *string    `json:"start_time" validate:"omitempty,datetime=15:04"`
	EndTime         *string    `json:"end_time" validate:"omitempty,datetime=15:04"`
	BatchTime       *string    `json:"batch_time"`
	BatchIdentifier *string    `json:"batch_identifier" validate:"omitempty,oneof=A B"`
	IsActive        *bool      `json:"is_active"`
}

type ScheduleListResponse struct {
	Schedules []*models.ExamSchedule `json:"schedules"`
	Total     int64                  `json:"total"`
	Page      int                    `json:"page"`
	Size      int                    `json:"size"`
}

// ===== ELIGIBILITY DTOs =====

// EligibilityResult is the outcome of the eligibility gate for one
// student/exam pair. When Locked is set, Reason carries the student-facing
// explanation; Schedule is the window that matched, if any.
type EligibilityResult struct {
	Locked    bool                 `json:"locked"`
	Reason    string               `json:"reason,omitempty"`
	CanRetake bool                 `json:"can_retake"`
	Schedule  *models.ExamSchedule `json:"schedule,omitempty"`
}

// ===== ATTEMPT DTOs =====

type StartAttemptRequest struct {
	ExamID uint `json:"exam_id" validate:"required"`
}

type SaveAnswerRequest struct {
	QuestionID      uint   `json:"question_id" validate:"required"`
	SelectedOption  string `json:"selected_option" validate:"required,option_label"` // shown-space label
	MarkedForReview bool   `json:"marked_for_review"`
	TimeRemaining   *int   `json:"time_remaining" validate:"omitempty,min=0"`        // DEPRECATED: server time is authoritative
}

type SaveAnswerResponse struct {
	Status        string `json:"status"`
	TimeRemaining int    `json:"time_remaining"`
}

type SubmitAttemptRequest struct {
	Answers []SaveAnswerRequest `json:"answers" validate:"omitempty,dive"`
}

// AttemptOption is one choice as the student sees it: the label is in shown
// space, the text comes from the original option it maps to.
type AttemptOption struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type AttemptQuestion struct {
	QuestionID      uint            `json:"question_id"`
	Index           int             `json:"index"`
	QuestionText    string          `json:"question_text"`
	Marks           int             `json:"marks"`
	Options         []AttemptOption `json:"options"`
	SelectedOption  *string         `json:"selected_option,omitempty"`
	MarkedForReview bool            `json:"marked_for_review"`
}

type AttemptResponse struct {
	*models.ExamAttempt
	ExamTitle            string            `json:"exam_title"`
	DurationMinutes      int               `json:"duration_minutes"`
	EndsAt               time.Time         `json:"ends_at"`
	TotalQuestions       int               `json:"total_questions"`
	AnsweredCount        int               `json:"answered_count"`
	TimeRemainingSeconds int               `json:"time_remaining_seconds"`
	CanSubmit            bool              `json:"can_submit"`
	Questions            []AttemptQuestion `json:"questions,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*models.ExamAttempt `json:"attempts"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	Size     int                   `json:"size"`
}

type AttemptResultSummary struct {
	TotalQuestions int     `json:"total_questions"`
	TotalAnswered  int     `json:"total_answered"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalMarks     int     `json:"total_marks"`
	ObtainedMarks  int     `json:"obtained_marks"`
	Percentage     float64 `json:"percentage"`
	Passed         bool    `json:"passed"`
}

// SubmitAttemptResponse hides the graded result until verification releases
// it; ResultVisible mirrors the exam's show_result_immediately flag.
type SubmitAttemptResponse struct {
	AttemptID     uint                  `json:"attempt_id"`
	Status        models.AttemptStatus  `json:"status"`
	ResultVisible bool                  `json:"result_visible"`
	Message       string                `json:"message,omitempty"`
	Result        *AttemptResultSummary `json:"result,omitempty"`
}

// GradingResult is the outcome of grading one attempt's frozen question set.
type GradingResult struct {
	TotalMarks     int     `json:"total_marks"`
	ObtainedMarks  int     `json:"obtained_marks"`
	Percentage     float64 `json:"percentage"`
	Passed         bool    `json:"passed"`
	TotalAnswered  int     `json:"total_answered"`
	CorrectAnswers int     `json:"correct_answers"`
}

// ===== STUDENT DTOs =====

type AvailableExamResponse struct {
	ExamID          uint   `json:"exam_id"`
	ExamTitle       string `json:"exam_title"`
	CourseID        uint   `json:"course_id"`
	CourseName      string `json:"course_name"`
	ModuleID        uint   `json:"module_id"`
	ModuleName      string `json:"module_name"`
	TotalQuestions  int    `json:"total_questions"`
	DurationMinutes int    `json:"duration_minutes"`
	PassingMarks    int    `json:"passing_marks"`

	IsLocked   bool   `json:"is_locked"`
	LockReason string `json:"lock_reason,omitempty"`

	ScheduleID    *uint      `json:"schedule_id,omitempty"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	StartTime     string     `json:"start_time,omitempty"`
	EndTime       string     `json:"end_time,omitempty"`

	PreviousAttempts int      `json:"previous_attempts"`
	CanRetake        bool     `json:"can_retake"`
	BestScore        *float64 `json:"best_score,omitempty"`

	HasActiveAttempt bool  `json:"has_active_attempt"`
	ActiveAttemptID  *uint `json:"active_attempt_id,omitempty"`
}

type ExamResultResponse struct {
	AttemptID            uint                 `json:"attempt_id"`
	ExamID               uint                 `json:"exam_id"`
	ExamTitle            string               `json:"exam_title"`
	CourseName           string               `json:"course_name"`
	ModuleName           string               `json:"module_name"`
	AttemptNumber        int                  `json:"attempt_number"`
	Status               models.AttemptStatus `json:"status"`
	StartedAt            time.Time            `json:"started_at"`
	EndedAt              *time.Time           `json:"ended_at,omitempty"`
	DurationTakenMinutes *int                 `json:"duration_taken_minutes,omitempty"`
	TotalQuestions       int                  `json:"total_questions"`
	TotalAnswered        int                  `json:"total_answered"`
	CorrectAnswers       int                  `json:"correct_answers"`
	TotalMarks           int                  `json:"total_marks"`
	ObtainedMarks        int                  `json:"obtained_marks"`
	Percentage           float64              `json:"percentage"`
	Passed               bool                 `json:"passed"`
	IsVerified           bool                 `json:"is_verified"`
	VerifiedAt           *time.Time           `json:"verified_at,omitempty"`
}

// ===== VERIFICATION DTOs =====

type PendingAttemptResponse struct {
	*models.ExamAttempt
	ExamTitle      string `json:"exam_title"`
	StudentName    string `json:"student_name,omitempty"`
	StudentEmail   string `json:"student_email,omitempty"`
	StudentCode    string `json:"student_code,omitempty"`
	TotalQuestions int    `json:"total_questions"`
}

type PendingVerificationListResponse struct {
	Attempts []*PendingAttemptResponse `json:"attempts"`
	Total    int64                     `json:"total"`
	Page     int                       `json:"page"`
	Size     int                       `json:"size"`
}

// QuestionReview is one question with the full answer key, for managers and
// for students whose result has been verified.
type QuestionReview struct {
	QuestionID      uint               `json:"question_id"`
	OrderIndex      int                `json:"order_index"`
	QuestionText    string             `json:"question_text"`
	OptionA         string             `json:"option_a"`
	OptionB         string             `json:"option_b"`
	OptionC         string             `json:"option_c"`
	OptionD         string             `json:"option_d"`
	CorrectOption   models.OptionLabel `json:"correct_option"`
	Marks           int                `json:"marks"`
	Explanation     *string            `json:"explanation,omitempty"`
	SelectedOption  *string            `json:"selected_option,omitempty"`
	IsCorrect       *bool              `json:"is_correct,omitempty"`
	MarksObtained   int                `json:"marks_obtained"`
	MarkedForReview bool               `json:"marked_for_review"`
	AnsweredAt      *time.Time         `json:"answered_at,omitempty"`
}

type AttemptReviewResponse struct {
	*models.ExamAttempt
	ExamTitle        string            `json:"exam_title"`
	CourseName       string            `json:"course_name,omitempty"`
	ModuleName       string            `json:"module_name,omitempty"`
	StudentName      string            `json:"student_name,omitempty"`
	StudentEmail     string            `json:"student_email,omitempty"`
	PassingMarks     int               `json:"passing_marks"`
	TotalQuestions   int               `json:"total_questions"`
	TimeTakenMinutes *int              `json:"time_taken_minutes,omitempty"`
	Questions        []*QuestionReview `json:"questions"`
}

type VerifyAttemptRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=1000"`
}

type AllowRetakeRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=1000"`
}

type BulkVerifyRequest struct {
	AttemptIDs []uint `json:"attempt_ids" validate:"required,min=1,dive,required"`
}

// BulkVerifyResponse reports how many of the requested attempts were
// actually verified; ineligible ones are skipped, not failed.
type BulkVerifyResponse struct {
	VerifiedCount  int `json:"verified_count"`
	TotalRequested int `json:"total_requested"`
}

type VerificationStatsResponse struct {
	PendingVerification int     `json:"pending_verification"`
	VerifiedToday       int     `json:"verified_today"`
	TotalVerified       int     `json:"total_verified"`
	PassRate            float64 `json:"pass_rate"`
	AverageScore        float64 `json:"average_score"`
}

// ===== SERVICE INTERFACES =====

type ExamService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateExamRequest, userID string) (*ExamResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	GetWithQuestions(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error)

	// Question management
	AddQuestion(ctx context.Context, examID uint, req *CreateQuestionRequest, userID string) (*models.Question, error)
	AddQuestionsBulk(ctx context.Context, examID uint, req *BulkAddQuestionsRequest, userID string) ([]*models.Question, error)
	UpdateQuestion(ctx context.Context, examID, questionID uint, req *UpdateQuestionRequest, userID string) (*models.Question, error)
	RemoveQuestion(ctx context.Context, examID, questionID uint, userID string) error

	// Spreadsheet import/export
	ImportQuestions(ctx context.Context, examID uint, r io.Reader, userID string) (*ImportQuestionsResult, error)
	ExportResults(ctx context.Context, examID uint, userID string) (*excelize.File, error)
}

type ScheduleService interface {
	Create(ctx context.Context, req *CreateScheduleRequest, userID string) (*models.ExamSchedule, error)
	GetByID(ctx context.Context, id uint, userID string) (*models.ExamSchedule, error)
	Update(ctx context.Context, id uint, req *UpdateScheduleRequest, userID string) (*models.ExamSchedule, error)
	Cancel(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.ScheduleFilters, userID string) (*ScheduleListResponse, error)
	GetByExam(ctx context.Context, examID uint, userID string) ([]*models.ExamSchedule, error)
}

type EligibilityService interface {
	// Evaluate resolves the exam and student, then runs the full gate chain.
	Evaluate(ctx context.Context, examID uint, userID string) (*EligibilityResult, error)

	// EvaluateExam runs the gate chain over already-loaded rows:
	// enrollment, then payment, then schedule window, then retake policy.
	// The first failing gate wins.
	EvaluateExam(ctx context.Context, exam *models.Exam, student *models.Student, now time.Time) (*EligibilityResult, error)

	// EvaluateAccess runs only the first three gates. The start path uses
	// it so that resuming an in-progress attempt is never blocked by
	// retake counting.
	EvaluateAccess(ctx context.Context, exam *models.Exam, student *models.Student, now time.Time) (*EligibilityResult, error)

	// CheckRetakePolicy runs only the retake gate.
	CheckRetakePolicy(ctx context.Context, exam *models.Exam, student *models.Student) (*EligibilityResult, error)
}

type AttemptService interface {
	// Lifecycle
	Start(ctx context.Context, req *StartAttemptRequest, userID string) (*AttemptResponse, error)
	GetState(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error)
	SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, userID string) (*SaveAnswerResponse, error)
	Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, userID string) (*SubmitAttemptResponse, error)

	// Time management
	GetTimeRemaining(ctx context.Context, attemptID uint, userID string) (int, error) // seconds
	HandleTimeout(ctx context.Context, attemptID uint) error
	SweepExpired(ctx context.Context, limit int) (int, error)

	// List operations (managers)
	List(ctx context.Context, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)
}

type GradingService interface {
	// GradeAttempt is pure: it scores answers against the frozen question
	// set and annotates the answer rows in place without touching storage.
	GradeAttempt(exam *models.Exam, questions []*models.Question, answers []*models.StudentAnswer) *GradingResult

	// FinalizeAttempt grades and stamps the attempt inside the caller's
	// transaction, moving it to the given terminal status.
	FinalizeAttempt(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt, exam *models.Exam, status models.AttemptStatus, endedAt time.Time) (*GradingResult, error)

	// Statistics
	GetExamResultStats(ctx context.Context, examID uint, userID string) (*repositories.ExamResultStats, error)
}

type VerificationService interface {
	ListPending(ctx context.Context, filters repositories.VerificationFilters, userID string) (*PendingVerificationListResponse, error)
	Review(ctx context.Context, attemptID uint, userID string) (*AttemptReviewResponse, error)
	Verify(ctx context.Context, attemptID uint, req *VerifyAttemptRequest, userID string) (*models.ExamAttempt, error)
	AllowRetake(ctx context.Context, attemptID uint, req *AllowRetakeRequest, userID string) (*models.ExamAttempt, error)
	BulkVerify(ctx context.Context, req *BulkVerifyRequest, userID string) (*BulkVerifyResponse, error)
	Statistics(ctx context.Context, userID string) (*VerificationStatsResponse, error)
}

type StudentService interface {
	ListAvailableExams(ctx context.Context, userID string) ([]*AvailableExamResponse, error)
	ListResults(ctx context.Context, userID string) ([]*ExamResultResponse, error)
	GetResult(ctx context.Context, attemptID uint, userID string) (*AttemptReviewResponse, error)
	GetStats(ctx context.Context, userID string) (*repositories.StudentAttemptStats, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Exam() ExamService
	Schedule() ScheduleService
	Eligibility() EligibilityService
	Attempt() AttemptService
	Grading() GradingService
	Verification() VerificationService
	Student() StudentService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
