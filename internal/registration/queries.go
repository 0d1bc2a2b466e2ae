package registration

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/scoring"
	"github.com/campusreg/registrar/internal/seatmap"
)

// ResolveCourseID resolves a course by opaque ID or human code down to its
// ObjectID, for callers (the streaming gateway) that only need the
// identifier the Event Bus topics and course locks are keyed by.
func (s *Service) ResolveCourseID(ctx context.Context, idOrCode string) (primitive.ObjectID, error) {
	c, err := s.resolveCourse(ctx, idOrCode)
	if err != nil {
		return primitive.ObjectID{}, err
	}
	return c.ID, nil
}

// CourseAvailability is one row of the course listing (spec §6,
// GET /api/registration/courses).
type CourseAvailability struct {
	Course        domain.Course
	Status        domain.BookingStatus
	TotalSeats    int
	FreeSeats     int
	WaitlistSize  int
}

// ListCourses returns every course alongside its current availability.
func (s *Service) ListCourses(ctx context.Context) ([]CourseAvailability, error) {
	courses, err := s.st.ListCourses(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to list courses", err)
	}
	out := make([]CourseAvailability, 0, len(courses))
	for _, c := range courses {
		var row CourseAvailability
		err := s.withCourseLock(ctx, c.ID, func(cs *courseState) error {
			row = CourseAvailability{
				Course:       c,
				Status:       cs.config.Status,
				TotalSeats:   cs.config.TotalSeats,
				FreeSeats:    cs.config.TotalSeats - cs.seats.OccupiedCount(),
				WaitlistSize: s.waitlist.Size(c.ID),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// ClassroomState is the Seat Map snapshot returned by
// GET /api/registration/classroom/:courseId.
type ClassroomState struct {
	CourseID   primitive.ObjectID
	Status     domain.BookingStatus
	TotalSeats int
	Occupied   int
	Available  int
	Seats      []seatmap.Seat
}

// Classroom returns the current Seat Map state for a course, resolved by
// opaque ID or human code.
func (s *Service) Classroom(ctx context.Context, courseIDOrCode string) (ClassroomState, error) {
	course, err := s.resolveCourse(ctx, courseIDOrCode)
	if err != nil {
		return ClassroomState{}, err
	}
	var out ClassroomState
	err = s.withCourseLock(ctx, course.ID, func(cs *courseState) error {
		occupied := cs.seats.OccupiedCount()
		out = ClassroomState{
			CourseID:   course.ID,
			Status:     cs.config.Status,
			TotalSeats: cs.config.TotalSeats,
			Occupied:   occupied,
			Available:  cs.config.TotalSeats - occupied,
			Seats:      cs.seats.Seats(),
		}
		return nil
	})
	return out, err
}

// WaitlistTopN returns the top-N entries for a course (GET
// /api/registration/waitlist/:courseId?limit=N).
func (s *Service) WaitlistTopN(ctx context.Context, courseIDOrCode string, limit int) ([]domain.WaitlistEntry, error) {
	course, err := s.resolveCourse(ctx, courseIDOrCode)
	if err != nil {
		return nil, err
	}
	if err := s.withCourseLock(ctx, course.ID, func(cs *courseState) error { return nil }); err != nil {
		return nil, err
	}
	return s.waitlist.TopK(course.ID, limit), nil
}

// StudentStatus is the payload for GET /api/registration/student/:id/status.
type StudentStatus struct {
	StudentID   string
	Bookings    []domain.SeatBooking
	Waitlisted  []domain.WaitlistEntry
	Preferences []domain.CoursePreference
}

// Status reports a student's enrollments, waitlist memberships and
// preferences.
func (s *Service) Status(ctx context.Context, studentID string) (StudentStatus, error) {
	if _, err := s.resolveStudent(ctx, studentID); err != nil {
		return StudentStatus{}, err
	}
	bookings, err := s.st.ListStudentBookings(ctx, studentID)
	if err != nil {
		return StudentStatus{}, apierr.Wrap(apierr.Internal, "failed to list student bookings", err)
	}
	waitlisted, err := s.st.ListStudentWaitlistEntries(ctx, studentID)
	if err != nil {
		return StudentStatus{}, apierr.Wrap(apierr.Internal, "failed to list student waitlist entries", err)
	}
	prefs, err := s.st.GetPreferences(ctx, studentID)
	if err != nil {
		return StudentStatus{}, apierr.Wrap(apierr.Internal, "failed to load preferences", err)
	}
	return StudentStatus{StudentID: studentID, Bookings: bookings, Waitlisted: waitlisted, Preferences: prefs}, nil
}

// Recommendation is one scored candidate course for a student.
type Recommendation struct {
	Course domain.Course
	Score  scoring.Result
}

// Recommend scores every course against a student and returns them best
// first (GET /api/registration/student/:id/preferences, "Recommended
// courses"). This is a read-only ranking query, distinct from the
// persisted CoursePreference list ReplacePreferences manages.
func (s *Service) Recommend(ctx context.Context, studentID string) ([]Recommendation, error) {
	student, err := s.resolveStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	courses, err := s.st.ListCourses(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to list courses", err)
	}
	now := s.now()
	out := make([]Recommendation, 0, len(courses))
	for _, c := range courses {
		out = append(out, Recommendation{Course: c, Score: s.scorer.Score(student, c, now, now)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score.Composite > out[j].Score.Composite })
	return out, nil
}

// ReplacePreferences validates and persists a student's full preference
// list. Priorities must be unique and dense (1..K), per spec §3.
func (s *Service) ReplacePreferences(ctx context.Context, studentID string, prefs []domain.CoursePreference) error {
	if _, err := s.resolveStudent(ctx, studentID); err != nil {
		return err
	}
	seen := make(map[int]bool, len(prefs))
	for _, p := range prefs {
		if p.Priority < 1 || p.Priority > len(prefs) || seen[p.Priority] {
			return apierr.New(apierr.ConfigurationInvalid, "preference priorities must be unique and dense from 1")
		}
		seen[p.Priority] = true
	}
	if err := s.st.ReplacePreferences(ctx, studentID, prefs); err != nil {
		return apierr.Wrap(apierr.Internal, "failed to replace preferences", err)
	}
	return nil
}
