package models

import (
	"time"

	"gorm.io/gorm"
)

type OptionLabel string

const (
	OptionA OptionLabel = "A"
	OptionB OptionLabel = "B"
	OptionC OptionLabel = "C"
	OptionD OptionLabel = "D"
)

// OptionLabels is the fixed label sequence questions are authored in.
var OptionLabels = []OptionLabel{OptionA, OptionB, OptionC, OptionD}

type Exam struct {
	ID            uint    `json:"id" gorm:"primaryKey"`
	CourseID      uint    `json:"course_id" gorm:"not null;index"`
	ModuleID      uint    `json:"module_id" gorm:"not null;index"`
	InstitutionID uint    `json:"institution_id" gorm:"not null;index"`
	Title         string  `json:"title" gorm:"not null;size:200" validate:"required,min=1,max=200"`
	Description   *string `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`

	// TotalQuestions tracks the count of active questions and is updated on
	// every question mutation.
	TotalQuestions  int `json:"total_questions" gorm:"not null;default:0"`
	PassingMarks    int `json:"passing_marks" gorm:"not null;default:40" validate:"min=0,max=100"` // percentage threshold
	DurationMinutes int `json:"duration_minutes" gorm:"not null;default:60" validate:"required,min=1,max=480"`

	// Batch targeting
	BatchTime       string  `json:"batch_time" gorm:"not null;index;size:20"` // e.g., "9AM-10AM"
	BatchMonth      string  `json:"batch_month" gorm:"not null;index;size:2"` // MM
	BatchYear       string  `json:"batch_year" gorm:"not null;index;size:4"`  // YYYY
	BatchIdentifier *string `json:"batch_identifier" gorm:"index;size:1"`     // "A" or "B"

	// Settings
	IsActive              bool `json:"is_active" gorm:"not null;default:true;index"`
	AllowRetakes          bool `json:"allow_retakes" gorm:"not null;default:false"`
	MaxRetakes            int  `json:"max_retakes" gorm:"not null;default:0"`                 // 0 = unlimited when retakes allowed
	ShuffleQuestions      bool `json:"shuffle_questions" gorm:"not null;default:true"`
	ShuffleOptions        bool `json:"shuffle_options" gorm:"not null;default:true"`
	ShowResultImmediately bool `json:"show_result_immediately" gorm:"not null;default:false"` // false = needs verification

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Course    Course         `json:"course" gorm:"foreignKey:CourseID"`
	Module    CourseModule   `json:"module" gorm:"foreignKey:ModuleID"`
	Questions []Question     `json:"questions" gorm:"foreignKey:ExamID"`
	Schedules []ExamSchedule `json:"schedules" gorm:"foreignKey:ExamID"`
	Attempts  []ExamAttempt  `json:"attempts" gorm:"foreignKey:ExamID"`
	Creator   User           `json:"creator" gorm:"foreignKey:CreatedBy"`
}

type Question struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	ExamID uint `json:"exam_id" gorm:"not null;index"`

	QuestionText string `json:"question_text" gorm:"type:text;not null" validate:"required,min=1"`
	OptionA      string `json:"option_a" gorm:"not null" validate:"required,min=1"`
	OptionB      string `json:"option_b" gorm:"not null" validate:"required,min=1"`
	OptionC      string `json:"option_c" gorm:"not null" validate:"required,min=1"`
	OptionD      string `json:"option_d" gorm:"not null" validate:"required,min=1"`

	CorrectOption OptionLabel `json:"correct_option" gorm:"size:1;not null;check:correct_option IN ('A','B','C','D')" validate:"required,oneof=A B C D"`

	Marks       int     `json:"marks" gorm:"not null;default:1" validate:"min=1,max=100"`
	OrderIndex  int     `json:"order_index" gorm:"not null;default:0"`
	Explanation *string `json:"explanation,omitempty" gorm:"type:text"` // shown to managers during review only

	IsActive  bool      `json:"is_active" gorm:"not null;default:true;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Exam Exam `json:"-" gorm:"foreignKey:ExamID"`
}

// OptionText returns the option text for an original-space label.
func (q *Question) OptionText(label OptionLabel) string {
	switch label {
	case OptionA:
		return q.OptionA
	case OptionB:
		return q.OptionB
	case OptionC:
		return q.OptionC
	case OptionD:
		return q.OptionD
	}
	return ""
}

type ExamSchedule struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	ExamID        uint `json:"exam_id" gorm:"not null;index"`
	InstitutionID uint `json:"institution_id" gorm:"not null;index"`

	// Batch targeting; identifier/month/year act as optional filters.
	BatchTime       string  `json:"batch_time" gorm:"not null;index;size:20" validate:"required"`
	BatchIdentifier *string `json:"batch_identifier" gorm:"index;size:1" validate:"omitempty,oneof=A B"`
	BatchMonth      *string `json:"batch_month" gorm:"index;size:2"`
	BatchYear       *string `json:"batch_year" gorm:"index;size:4"`

	// Window: one calendar date plus wall-clock bounds.
	ScheduledDate time.Time `json:"scheduled_date" gorm:"type:date;not null;index" validate:"required"`
	StartTime     string    `json:"start_time" gorm:"size:5;not null" validate:"required,datetime=15:04"` // "09:00"
	EndTime       string    `json:"end_time" gorm:"size:5;not null" validate:"required,datetime=15:04"`   // "10:00"

	IsActive bool `json:"is_active" gorm:"not null;default:true;index"`

	CreatedBy string    `json:"created_by" gorm:"not null;size:255"`
	CreatedAt time.Time `json:"created_at"`

	// Relations
	Exam Exam `json:"-" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

func (Question) TableName() string {
	return "questions"
}

func (ExamSchedule) TableName() string {
	return "exam_schedules"
}
