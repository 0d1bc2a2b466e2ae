package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/allocation"
	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/eventbus"
	"github.com/campusreg/registrar/internal/scoring"
	"github.com/campusreg/registrar/internal/seatmap"
	"github.com/campusreg/registrar/internal/store/memstore"
)

// occupiedSeats collapses a ClassroomState's seat array down to the
// seatLabel -> studentId shape the older map-based assertions expect.
func occupiedSeats(seats []seatmap.Seat) map[string]string {
	out := make(map[string]string, len(seats))
	for _, seat := range seats {
		if seat.Occupied {
			out[seat.Label] = seat.StudentID
		}
	}
	return out
}

func newService(t *testing.T, clock func() time.Time) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	scorer, err := scoring.New(scoring.DefaultWeights(), scoring.DefaultLambda)
	if err != nil {
		t.Fatal(err)
	}
	alloc, err := allocation.New(allocation.Balanced)
	if err != nil {
		t.Fatal(err)
	}
	return New(st, eventbus.New(), nil, scorer, alloc, clock), st
}

func seedCourse(st *memstore.Store, code string, totalSeats, seatsPerRow int, status domain.BookingStatus) domain.Course {
	c := domain.Course{ID: primitive.NewObjectID(), Code: code, Name: code}
	cfg := domain.SeatConfig{CourseID: c.ID, TotalSeats: totalSeats, Rows: (totalSeats + seatsPerRow - 1) / seatsPerRow, SeatsPerRow: seatsPerRow, Status: status}
	st.SeedCourse(c, cfg)
	return c
}

func seedStudent(st *memstore.Store, id string, gpa float64) domain.Student {
	s := domain.Student{ID: primitive.NewObjectID(), StudentID: id, GPA: gpa, Year: 1}
	st.SeedStudent(s)
	return s
}

func TestApplyCapacityTwoThreeApplicantsThenAllocate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clockTick := 0
	clock := func() time.Time { return base.Add(time.Duration(clockTick) * time.Second) }
	svc, st := newService(t, clock)

	course := seedCourse(st, "X", 2, 2, domain.StatusOpen)
	seedStudent(st, "A", 3.9)
	seedStudent(st, "B", 3.5)
	seedStudent(st, "C", 3.0)

	ctx := context.Background()
	for i, id := range []string{"A", "B", "C"} {
		clockTick = i
		if _, err := svc.Apply(ctx, ApplyRequest{StudentID: id, CourseIDOrCode: course.Code, AutoRegister: false}); err != nil {
			t.Fatalf("apply %s: %v", id, err)
		}
	}

	summary, err := svc.RunAllocation(ctx, []primitive.ObjectID{course.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(summary.Assignments))
	}

	classroom, err := svc.Classroom(ctx, course.Code)
	if err != nil {
		t.Fatal(err)
	}
	seatOf := map[string]string{}
	for label, student := range occupiedSeats(classroom.Seats) {
		seatOf[student] = label
	}
	if _, ok := seatOf["A"]; !ok {
		t.Fatal("expected A enrolled")
	}
	if _, ok := seatOf["B"]; !ok {
		t.Fatal("expected B enrolled")
	}
	if _, ok := seatOf["C"]; ok {
		t.Fatal("expected C not enrolled")
	}
	rank, err := svc.waitlist.RankOf(course.ID, "C")
	if err != nil || rank != 1 {
		t.Fatalf("expected C at waitlist rank 1, got rank=%d err=%v", rank, err)
	}
}

func TestAutoFillOnDrop(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 2, 2, domain.StatusOpen)
	seedStudent(st, "A", 3.9)
	seedStudent(st, "B", 3.5)
	seedStudent(st, "C", 3.0)
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		if _, err := svc.Apply(ctx, ApplyRequest{StudentID: id, CourseIDOrCode: course.Code, AutoRegister: true}); err != nil {
			t.Fatalf("apply %s: %v", id, err)
		}
	}
	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "C", CourseIDOrCode: course.Code, AutoRegister: true}); err != nil {
		t.Fatalf("apply C: %v", err)
	}

	if err := svc.Drop(ctx, "B", course.Code); err != nil {
		t.Fatal(err)
	}

	classroom, err := svc.Classroom(ctx, course.Code)
	if err != nil {
		t.Fatal(err)
	}
	foundC := false
	for _, student := range occupiedSeats(classroom.Seats) {
		if student == "C" {
			foundC = true
		}
		if student == "B" {
			t.Fatal("B should no longer hold a seat")
		}
	}
	if !foundC {
		t.Fatal("expected C auto-enrolled into the vacated seat")
	}
	if _, err := svc.waitlist.RankOf(course.ID, "C"); err == nil {
		t.Fatal("expected C to no longer be on the waitlist")
	}
}

func TestTieBreakByApplicationTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clockTick := 0
	clock := func() time.Time { return base.Add(time.Duration(clockTick) * time.Second) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 0, 1, domain.StatusOpen)
	seedStudent(st, "early", 3.5)
	seedStudent(st, "late", 3.5)
	ctx := context.Background()

	clockTick = 0
	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "early", CourseIDOrCode: course.Code}); err != nil {
		t.Fatal(err)
	}
	clockTick = 5
	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "late", CourseIDOrCode: course.Code}); err != nil {
		t.Fatal(err)
	}

	rank, err := svc.waitlist.RankOf(course.ID, "early")
	if err != nil || rank != 1 {
		t.Fatalf("expected earlier applicant to rank first, got rank=%d err=%v", rank, err)
	}
}

func TestPreferenceCascadeOnAllocation(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	courseX := seedCourse(st, "X", 1, 1, domain.StatusOpen)
	courseY := seedCourse(st, "Y", 1, 1, domain.StatusOpen)
	seedStudent(st, "S", 3.5)
	ctx := context.Background()

	if err := svc.ReplacePreferences(ctx, "S", []domain.CoursePreference{
		{StudentID: "S", CourseID: courseX.ID, Priority: 1},
		{StudentID: "S", CourseID: courseY.ID, Priority: 2},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "S", CourseIDOrCode: courseX.Code}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "S", CourseIDOrCode: courseY.Code}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RunAllocation(ctx, []primitive.ObjectID{courseX.ID, courseY.ID}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.waitlist.RankOf(courseX.ID, "S"); err == nil {
		t.Fatal("expected S removed from X's waitlist (won a seat there)")
	}
	if _, err := svc.waitlist.RankOf(courseY.ID, "S"); err == nil {
		t.Fatal("expected S's lower-priority waitlist entry on Y cancelled by the cascade")
	}
}

func TestBookingStateTransitionsThroughWaitlistOnlyAndBack(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 1, 1, domain.StatusOpen)
	seedStudent(st, "A", 3.5)
	seedStudent(st, "B", 3.5)
	ctx := context.Background()

	if err := svc.BookSpecificSeat(ctx, "A", course.Code, "A1"); err != nil {
		t.Fatal(err)
	}
	classroom, err := svc.Classroom(ctx, course.Code)
	if err != nil {
		t.Fatal(err)
	}
	if classroom.Status != domain.StatusWaitlistOnly {
		t.Fatalf("expected WAITLIST_ONLY after seat taken, got %s", classroom.Status)
	}

	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "B", CourseIDOrCode: course.Code, AutoRegister: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.waitlist.RankOf(course.ID, "B"); err != nil {
		t.Fatal("expected B to be waitlisted since the course has no free seats")
	}

	if err := svc.Drop(ctx, "A", course.Code); err != nil {
		t.Fatal(err)
	}
	classroom, err = svc.Classroom(ctx, course.Code)
	if err != nil {
		t.Fatal(err)
	}
	if classroom.Status != domain.StatusWaitlistOnly {
		t.Fatalf("expected state to return to WAITLIST_ONLY (B auto-filled A1), got %s", classroom.Status)
	}
	if occupiedSeats(classroom.Seats)["A1"] != "B" {
		t.Fatalf("expected B auto-enrolled into A1, got %v", classroom.Seats)
	}
}

func TestConcurrentApplyProducesExactlyCapacitySeats(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 10, 10, domain.StatusOpen)

	const applicants = 100
	ids := make([]string, applicants)
	for i := 0; i < applicants; i++ {
		id := string(rune('A' + i%26)) + string(rune('0'+i/26))
		ids[i] = id
		seedStudent(st, id, 3.0)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			_, _ = svc.Apply(ctx, ApplyRequest{StudentID: studentID, CourseIDOrCode: course.Code, AutoRegister: true})
		}(id)
	}
	wg.Wait()

	classroom, err := svc.Classroom(ctx, course.Code)
	if err != nil {
		t.Fatal(err)
	}
	if classroom.Occupied != 10 {
		t.Fatalf("expected exactly 10 occupied seats, got %d", classroom.Occupied)
	}
	seen := map[string]bool{}
	for label, student := range occupiedSeats(classroom.Seats) {
		if seen[label] {
			t.Fatalf("duplicate seat label %s", label)
		}
		seen[label] = true
		if student == "" {
			t.Fatal("seat occupant must not be empty")
		}
	}
	if svc.waitlist.Size(course.ID) != 90 {
		t.Fatalf("expected 90 waitlisted applicants, got %d", svc.waitlist.Size(course.ID))
	}
}

func TestDropIsIdempotent(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 1, 1, domain.StatusOpen)
	seedStudent(st, "A", 3.5)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "A", CourseIDOrCode: course.Code, AutoRegister: true}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Drop(ctx, "A", course.Code); err != nil {
		t.Fatal(err)
	}
	if err := svc.Drop(ctx, "A", course.Code); err != nil {
		t.Fatalf("second drop should be a no-op, got error: %v", err)
	}
}

func TestDropRejectedOnCompletedCourse(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 1, 1, domain.StatusCompleted)
	seedStudent(st, "A", 3.5)
	ctx := context.Background()

	err := svc.Drop(ctx, "A", course.Code)
	if err == nil {
		t.Fatal("expected drop to be rejected on a completed course")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.BookingClosed {
		t.Fatalf("expected apierr.BookingClosed, got %v", err)
	}
}

func TestApplyRejectsDuplicateWaitlistEntry(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc, st := newService(t, clock)
	course := seedCourse(st, "X", 0, 1, domain.StatusOpen)
	seedStudent(st, "A", 3.5)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "A", CourseIDOrCode: course.Code}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Apply(ctx, ApplyRequest{StudentID: "A", CourseIDOrCode: course.Code}); err == nil {
		t.Fatal("expected AlreadyWaitlisted on duplicate apply")
	}
}
