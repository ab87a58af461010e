package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptTimedOut   AttemptStatus = "timed_out"
	// AttemptCompleted is a legacy terminal marker still present in older
	// rows; it is accepted everywhere terminal status is tested.
	AttemptCompleted AttemptStatus = "completed"
)

// IsTerminal reports whether the status belongs to the terminal set.
// No transition ever leaves a terminal state.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptTimedOut || s == AttemptCompleted
}

// TerminalStatuses is the terminal set as used in repository filters.
var TerminalStatuses = []AttemptStatus{AttemptSubmitted, AttemptTimedOut, AttemptCompleted}

type ExamAttempt struct {
	ID         uint  `json:"id" gorm:"primaryKey"`
	ExamID     uint  `json:"exam_id" gorm:"not null;index;uniqueIndex:idx_exam_student_active,where:status = 'in_progress'"`
	StudentID  uint  `json:"student_id" gorm:"not null;index;uniqueIndex:idx_exam_student_active,where:status = 'in_progress'"`
	ScheduleID *uint `json:"schedule_id" gorm:"index"`

	AttemptNumber int           `json:"attempt_number" gorm:"not null;default:1"`
	Status        AttemptStatus `json:"status" gorm:"not null;default:in_progress;index"`

	// Timing
	StartedAt     time.Time  `json:"started_at" gorm:"not null"`
	EndedAt       *time.Time `json:"ended_at"`
	TimeRemaining int        `json:"time_remaining"` // seconds snapshot, refreshed on resume/answer

	// Results, populated by grading on the terminal transition
	TotalMarks     int     `json:"total_marks"`
	ObtainedMarks  int     `json:"obtained_marks"`
	Percentage     float64 `json:"percentage"`
	Passed         bool    `json:"passed"`
	TotalAnswered  int     `json:"total_answered"`
	CorrectAnswers int     `json:"correct_answers"`

	// Randomization snapshot, frozen at creation and never recomputed.
	// QuestionOrder is the ordered list of question ids; AnswerOrder maps
	// question id -> (shown label -> original label).
	QuestionOrder datatypes.JSON `json:"question_order" gorm:"type:jsonb"`
	AnswerOrder   datatypes.JSON `json:"answer_order" gorm:"type:jsonb"`

	// Verification gate: results stay hidden from the student until set.
	IsVerified        bool       `json:"is_verified" gorm:"not null;default:false;index"`
	VerifiedBy        *string    `json:"verified_by" gorm:"size:255"`
	VerifiedAt        *time.Time `json:"verified_at"`
	VerificationNotes *string    `json:"verification_notes" gorm:"type:text"`

	// Retake grant
	RetakeAllowed   bool       `json:"retake_allowed" gorm:"not null;default:false"`
	RetakeAllowedBy *string    `json:"retake_allowed_by" gorm:"size:255"`
	RetakeAllowedAt *time.Time `json:"retake_allowed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Exam     Exam            `json:"exam" gorm:"foreignKey:ExamID"`
	Student  Student         `json:"student" gorm:"foreignKey:StudentID"`
	Schedule *ExamSchedule   `json:"schedule,omitempty" gorm:"foreignKey:ScheduleID"`
	Answers  []StudentAnswer `json:"answers" gorm:"foreignKey:AttemptID"`
}

type StudentAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index;uniqueIndex:idx_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;index;uniqueIndex:idx_attempt_question"`

	// SelectedOption is stored in original label space; shuffled labels are
	// translated back through the attempt's AnswerOrder before persisting.
	SelectedOption *string `json:"selected_option" gorm:"size:1"`
	IsCorrect      *bool   `json:"is_correct"` // null until graded
	MarksObtained  int     `json:"marks_obtained" gorm:"not null;default:0"`

	MarkedForReview bool       `json:"marked_for_review" gorm:"not null;default:false"`
	AnsweredAt      *time.Time `json:"answered_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Attempt  ExamAttempt `json:"-" gorm:"foreignKey:AttemptID"`
	Question Question    `json:"-" gorm:"foreignKey:QuestionID"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}

func (StudentAnswer) TableName() string {
	return "student_answers"
}
