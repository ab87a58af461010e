package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	eventSource  = "exam-service"
	eventVersion = "1.0"
)

// Event types published to the exam events topic.
const (
	EventAttemptStarted   = "attempt.started"
	EventAttemptSubmitted = "attempt.submitted"
	EventAttemptTimedOut  = "attempt.timed_out"
	EventAttemptVerified  = "attempt.verified"
	EventRetakeGranted    = "attempt.retake_granted"
	EventExamCreated      = "exam.created"
)

// Event is the envelope for every message on the exam events topic.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an event envelope with a fresh ID and timestamp.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AttemptStartedPayload is emitted when a student enters an exam.
type AttemptStartedPayload struct {
	AttemptID     uint      `json:"attempt_id"`
	ExamID        uint      `json:"exam_id"`
	StudentID     uint      `json:"student_id"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
}

// AttemptCompletedPayload is emitted on submission and on timeout.
type AttemptCompletedPayload struct {
	AttemptID     uint    `json:"attempt_id"`
	ExamID        uint    `json:"exam_id"`
	StudentID     uint    `json:"student_id"`
	Status        string  `json:"status"`
	ObtainedMarks int     `json:"obtained_marks"`
	TotalMarks    int     `json:"total_marks"`
	Percentage    float64 `json:"percentage"`
	Passed        bool    `json:"passed"`
}

// AttemptVerifiedPayload is emitted when a manager verifies a result.
type AttemptVerifiedPayload struct {
	AttemptID  uint   `json:"attempt_id"`
	ExamID     uint   `json:"exam_id"`
	StudentID  uint   `json:"student_id"`
	VerifiedBy string `json:"verified_by"`
}

// RetakeGrantedPayload is emitted when a manager opens a retake.
type RetakeGrantedPayload struct {
	AttemptID uint   `json:"attempt_id"`
	ExamID    uint   `json:"exam_id"`
	StudentID uint   `json:"student_id"`
	AllowedBy string `json:"allowed_by"`
}

// ExamCreatedPayload is emitted when a new exam is set up.
type ExamCreatedPayload struct {
	ExamID    uint   `json:"exam_id"`
	CourseID  uint   `json:"course_id"`
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
}
