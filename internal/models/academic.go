package models

import (
	"time"
)

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
)

type Institution struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"not null;size:200"`
	Code string `json:"code" gorm:"not null;uniqueIndex;size:20"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Course struct {
	ID            uint    `json:"id" gorm:"primaryKey"`
	InstitutionID uint    `json:"institution_id" gorm:"not null;index"`
	Name          string  `json:"name" gorm:"not null;size:200"`
	Description   *string `json:"description" gorm:"type:text"`
	FeeAmount     float64 `json:"fee_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Modules []CourseModule `json:"modules,omitempty" gorm:"foreignKey:CourseID"`
}

type CourseModule struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	CourseID uint `json:"course_id" gorm:"not null;index"`

	ModuleNumber int     `json:"module_number" gorm:"not null"`
	ModuleName   string  `json:"module_name" gorm:"not null;size:200"`
	Description  *string `json:"description" gorm:"type:text"`
	OrderIndex   int     `json:"order_index" gorm:"not null;default:0"`
	IsActive     bool    `json:"is_active" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Student struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	UserID        string `json:"user_id" gorm:"not null;uniqueIndex;size:255"`
	InstitutionID uint   `json:"institution_id" gorm:"not null;index"`
	Code          string `json:"code" gorm:"uniqueIndex;size:40"` // institution-issued student code

	// Batch membership, matched against exam schedules.
	BatchTime       string  `json:"batch_time" gorm:"index;size:20"` // e.g., "9AM-10AM"
	BatchMonth      string  `json:"batch_month" gorm:"index;size:2"` // MM
	BatchYear       string  `json:"batch_year" gorm:"index;size:4"`  // YYYY
	BatchIdentifier *string `json:"batch_identifier" gorm:"index;size:1"`

	EnrollmentDate *time.Time `json:"enrollment_date" gorm:"type:date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Relations
	User        User         `json:"user" gorm:"foreignKey:UserID"`
	Enrollments []Enrollment `json:"enrollments,omitempty" gorm:"foreignKey:StudentID"`
}

type Enrollment struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	StudentID uint `json:"student_id" gorm:"not null;index;uniqueIndex:idx_student_course"`
	CourseID  uint `json:"course_id" gorm:"not null;index;uniqueIndex:idx_student_course"`

	Status      EnrollmentStatus `json:"status" gorm:"not null;default:active;index"`
	EnrolledAt  time.Time        `json:"enrolled_at" gorm:"type:date"`
	CompletedAt *time.Time       `json:"completed_at" gorm:"type:date"`

	CreatedAt time.Time `json:"created_at"`
}

// FeePayment records a single payment toward a course. Exam eligibility only
// checks existence, never balance.
type FeePayment struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	StudentID uint `json:"student_id" gorm:"not null;index"`
	CourseID  uint `json:"course_id" gorm:"not null;index"`

	Amount        float64   `json:"amount" gorm:"not null"`
	PaymentDate   time.Time `json:"payment_date" gorm:"type:date"`
	PaymentMethod *string   `json:"payment_method" gorm:"size:40"` // cash, card, upi, ...
	Notes         *string   `json:"notes" gorm:"size:500"`

	CreatedAt time.Time `json:"created_at"`
}

func (Institution) TableName() string {
	return "institutions"
}

func (Course) TableName() string {
	return "courses"
}

func (CourseModule) TableName() string {
	return "course_modules"
}

func (Student) TableName() string {
	return "students"
}

func (Enrollment) TableName() string {
	return "enrollments"
}

func (FeePayment) TableName() string {
	return "fee_payments"
}
