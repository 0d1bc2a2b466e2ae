// Package domain holds the entities of the registration engine: students,
// courses, seat configuration, bookings, waitlist entries, preferences, and
// the audit trail. These are consumed read-only where noted (Student,
// Course) and owned by the registration service everywhere else.
package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Student is created externally and consumed read-only by the core.
type Student struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID      string             `bson:"student_id" json:"studentId"` // stable human-facing identifier
	Name           string             `bson:"name" json:"name"`
	Email          string             `bson:"email" json:"email"`
	GPA            float64            `bson:"gpa" json:"gpa"` // in [0, 4.0]
	Major          string             `bson:"major" json:"major"`
	Year           int                `bson:"year" json:"year"` // 1..N
	Interests      []string           `bson:"interests" json:"interests"`
	CompletedCourses []string         `bson:"completed_courses" json:"completedCourses"`
}

// Course is created externally and consumed read-only by the core.
type Course struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code              string             `bson:"code" json:"code"` // e.g. "CS101"
	Name              string             `bson:"name" json:"name"`
	Category          string             `bson:"category" json:"category"`
	Difficulty        string             `bson:"difficulty" json:"difficulty"`
	InstructorID      string             `bson:"instructor_id" json:"instructorId"`
	Weekdays          []time.Weekday     `bson:"weekdays" json:"weekdays"`
	StartTime         string             `bson:"start_time" json:"startTime"` // "15:00"
	EndTime           string             `bson:"end_time" json:"endTime"`
	ClassroomID       string             `bson:"classroom_id" json:"classroomId"`
	MinRecommendedGPA float64            `bson:"min_recommended_gpa" json:"minRecommendedGpa"`
	Prerequisites     []string           `bson:"prerequisites" json:"prerequisites"`
	Tags              []string           `bson:"tags" json:"tags"`
	PreferredYears    []int              `bson:"preferred_years" json:"preferredYears"`
}

// BookingStatus is the course registration-window lifecycle state (§4.4).
type BookingStatus string

const (
	StatusClosed       BookingStatus = "CLOSED"
	StatusOpen         BookingStatus = "OPEN"
	StatusWaitlistOnly BookingStatus = "WAITLIST_ONLY"
	StatusStarted      BookingStatus = "STARTED"
	StatusCompleted    BookingStatus = "COMPLETED"
)

// SeatConfig is one per course. Invariant: TotalSeats = Rows * SeatsPerRow.
type SeatConfig struct {
	CourseID       primitive.ObjectID `bson:"course_id" json:"courseId"`
	TotalSeats     int                `bson:"total_seats" json:"totalSeats"`
	Rows           int                `bson:"rows" json:"rows"`
	SeatsPerRow    int                `bson:"seats_per_row" json:"seatsPerRow"`
	Status         BookingStatus      `bson:"status" json:"status"`
	BookingOpensAt time.Time          `bson:"booking_opens_at" json:"bookingOpensAt"`
	BookingCloses  time.Time          `bson:"booking_closes_at" json:"bookingClosesAt"`
}

// SeatBooking records a student's occupation of a seat in a course.
//
// Uniqueness: at most one active booking per (courseId, seatLabel); at most
// one active booking per (courseId, studentId); a student is never
// simultaneously in both an active SeatBooking and a non-terminal
// WaitlistEntry for the same course.
type SeatBooking struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CourseID  primitive.ObjectID `bson:"course_id" json:"courseId"`
	StudentID string             `bson:"student_id" json:"studentId"`
	SeatLabel string             `bson:"seat_label" json:"seatLabel"`
	BookedAt  time.Time          `bson:"booked_at" json:"bookedAt"`
	Active    bool               `bson:"active" json:"active"`
}

// WaitlistStatus is the lifecycle of a WaitlistEntry.
type WaitlistStatus string

const (
	WaitlistWaiting    WaitlistStatus = "WAITING"
	WaitlistProcessing WaitlistStatus = "PROCESSING"
	WaitlistAllocated  WaitlistStatus = "ALLOCATED"
	WaitlistExpired    WaitlistStatus = "EXPIRED"
	WaitlistCancelled  WaitlistStatus = "CANCELLED"
)

// IsTerminal reports whether the status can never transition again.
func (s WaitlistStatus) IsTerminal() bool {
	switch s {
	case WaitlistAllocated, WaitlistExpired, WaitlistCancelled:
		return true
	default:
		return false
	}
}

// FactorScores is the per-factor breakdown produced by the scoring engine.
type FactorScores struct {
	GPA      float64 `bson:"gpa" json:"gpa"`
	Interest float64 `bson:"interest" json:"interest"`
	Time     float64 `bson:"time" json:"time"`
	Year     float64 `bson:"year" json:"year"`
	Prereq   float64 `bson:"prereq" json:"prereq"`
}

// WaitlistEntry is keyed by (courseId, studentId) while in a non-terminal
// status; the composite score is the sole ranking signal on a waitlist.
type WaitlistEntry struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CourseID       primitive.ObjectID `bson:"course_id" json:"courseId"`
	StudentID      string             `bson:"student_id" json:"studentId"`
	Scores         FactorScores       `bson:"scores" json:"scores"`
	CompositeScore float64            `bson:"composite_score" json:"compositeScore"`
	Status         WaitlistStatus     `bson:"status" json:"status"`
	AppliedAt      time.Time          `bson:"applied_at" json:"appliedAt"`
	PreferredSeat  string             `bson:"preferred_seat,omitempty" json:"preferredSeat,omitempty"`
}

// CoursePreference ranks a student's desired courses; priority 1 is most
// preferred. Priorities within a student are unique and dense (1..K).
type CoursePreference struct {
	StudentID   string             `bson:"student_id" json:"studentId"`
	CourseID    primitive.ObjectID `bson:"course_id" json:"courseId"`
	Priority    int                `bson:"priority" json:"priority"`
	MatchReason string             `bson:"match_reason" json:"matchReason"`
}

// EventType enumerates the Event Bus's published event kinds (§4.6).
type EventType string

const (
	EventSeatBooked           EventType = "SEAT_BOOKED"
	EventSeatReleased         EventType = "SEAT_RELEASED"
	EventWaitlistUpdated      EventType = "WAITLIST_UPDATED"
	EventBookingStatusChanged EventType = "BOOKING_STATUS_CHANGED"
	EventStudentAutoEnrolled  EventType = "STUDENT_AUTO_ENROLLED"
)

// RegistrationEvent is an append-only audit record of a state-mutating
// operation, independent of the transient pub/sub event of the same shape.
type RegistrationEvent struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	EventType EventType              `bson:"event_type" json:"eventType"`
	StudentID string                 `bson:"student_id,omitempty" json:"studentId,omitempty"`
	CourseID  primitive.ObjectID     `bson:"course_id" json:"courseId"`
	SeatLabel string                 `bson:"seat_label,omitempty" json:"seatLabel,omitempty"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp time.Time              `bson:"timestamp" json:"timestamp"`
}
