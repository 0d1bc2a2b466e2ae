package allocation

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/domain"
)

func entry(studentID string, composite float64, appliedAt time.Time) domain.WaitlistEntry {
	return domain.WaitlistEntry{StudentID: studentID, CompositeScore: composite, AppliedAt: appliedAt, Status: domain.WaitlistWaiting}
}

func TestParseStrategyRejectsUnknown(t *testing.T) {
	if _, err := ParseStrategy("made-up"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if _, err := ParseStrategy("balanced"); err != nil {
		t.Fatalf("balanced should be valid: %v", err)
	}
}

func TestGreedyAssignsTopKPerCourse(t *testing.T) {
	courseID := primitive.NewObjectID()
	t0 := time.Now()
	input := Input{
		Courses: []CourseInput{{
			CourseID:  courseID,
			FreeSeats: 2,
			Waitlist: []domain.WaitlistEntry{
				entry("a", 0.9, t0),
				entry("b", 0.8, t0),
				entry("c", 0.5, t0),
			},
		}},
	}
	e, _ := New(Greedy)
	result, err := e.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(result.Assignments))
	}
	winners := map[string]bool{}
	for _, a := range result.Assignments {
		winners[a.StudentID] = true
	}
	if !winners["a"] || !winners["b"] || winners["c"] {
		t.Fatalf("expected a and b to win, c to lose: %+v", winners)
	}
}

func TestGreedyDoesNotDeconflictAcrossCourses(t *testing.T) {
	t0 := time.Now()
	c1, c2 := primitive.NewObjectID(), primitive.NewObjectID()
	input := Input{
		Courses: []CourseInput{
			{CourseID: c1, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{entry("s", 0.9, t0)}},
			{CourseID: c2, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{entry("s", 0.9, t0)}},
		},
	}
	e, _ := New(Greedy)
	result, _ := e.Run(input)
	if len(result.Assignments) != 2 {
		t.Fatalf("expected greedy to double-assign student across courses, got %d", len(result.Assignments))
	}
}

func TestCourseOptimalDeconflictsAcrossCourses(t *testing.T) {
	t0 := time.Now()
	c1, c2 := primitive.NewObjectID(), primitive.NewObjectID()
	if c2.Hex() < c1.Hex() {
		c1, c2 = c2, c1
	}
	input := Input{
		Courses: []CourseInput{
			{CourseID: c1, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{entry("s", 0.9, t0)}},
			{CourseID: c2, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{entry("s", 0.9, t0), entry("other", 0.1, t0)}},
		},
	}
	e, _ := New(CourseOptimal)
	result, _ := e.Run(input)
	if len(result.Assignments) != 2 {
		t.Fatalf("expected 2 assignments (s in c1, other in c2), got %d: %+v", len(result.Assignments), result.Assignments)
	}
	for _, a := range result.Assignments {
		if a.StudentID == "s" && a.CourseID != c1 {
			t.Fatalf("expected student s to be claimed by the first course in sorted order")
		}
	}
}

func TestBalancedStudentHoldsMostPreferredCourse(t *testing.T) {
	t0 := time.Now()
	x, y := primitive.NewObjectID(), primitive.NewObjectID()
	input := Input{
		Courses: []CourseInput{
			{CourseID: x, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{entry("s", 0.9, t0)}},
			{CourseID: y, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{entry("s", 0.9, t0)}},
		},
		Preferences: map[string][]domain.CoursePreference{
			"s": {
				{StudentID: "s", CourseID: x, Priority: 1},
				{StudentID: "s", CourseID: y, Priority: 2},
			},
		},
	}
	e, _ := New(Balanced)
	result, err := e.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Assignments) != 1 {
		t.Fatalf("expected exactly one seat for s, got %d: %+v", len(result.Assignments), result.Assignments)
	}
	if result.Assignments[0].CourseID != x {
		t.Fatalf("expected s to be held by preferred course x")
	}
}

func TestBalancedFillsCapacityWithMultipleStudents(t *testing.T) {
	t0 := time.Now()
	courseID := primitive.NewObjectID()
	input := Input{
		Courses: []CourseInput{
			{CourseID: courseID, FreeSeats: 2, Waitlist: []domain.WaitlistEntry{
				entry("a", 0.9, t0), entry("b", 0.8, t0), entry("c", 0.3, t0),
			}},
		},
	}
	e, _ := New(Balanced)
	result, _ := e.Run(input)
	if len(result.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(result.Assignments))
	}
}

func TestStudentOptimalBumpsWeakerHeldStudent(t *testing.T) {
	t0 := time.Now()
	courseID := primitive.NewObjectID()
	input := Input{
		Courses: []CourseInput{
			{CourseID: courseID, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{
				entry("weak", 0.3, t0),
				entry("strong", 0.9, t0),
			}},
		},
		Preferences: map[string][]domain.CoursePreference{
			"weak":   {{StudentID: "weak", CourseID: courseID, Priority: 1}},
			"strong": {{StudentID: "strong", CourseID: courseID, Priority: 1}},
		},
	}
	e, _ := New(StudentOptimal)
	result, err := e.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Assignments) != 1 || result.Assignments[0].StudentID != "strong" {
		t.Fatalf("expected strong to win the single seat, got %+v", result.Assignments)
	}
}

func TestStudentOptimalFallsBackToSecondChoiceWhenRejected(t *testing.T) {
	t0 := time.Now()
	x, y := primitive.NewObjectID(), primitive.NewObjectID()
	input := Input{
		Courses: []CourseInput{
			{CourseID: x, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{
				entry("weak", 0.3, t0), entry("strong", 0.9, t0),
			}},
			{CourseID: y, FreeSeats: 1, Waitlist: []domain.WaitlistEntry{
				entry("weak", 0.3, t0),
			}},
		},
		Preferences: map[string][]domain.CoursePreference{
			"weak":   {{StudentID: "weak", CourseID: x, Priority: 1}, {StudentID: "weak", CourseID: y, Priority: 2}},
			"strong": {{StudentID: "strong", CourseID: x, Priority: 1}},
		},
	}
	e, _ := New(StudentOptimal)
	result, err := e.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]primitive.ObjectID{}
	for _, a := range result.Assignments {
		got[a.StudentID] = a.CourseID
	}
	if got["strong"] != x {
		t.Fatalf("expected strong to win course x")
	}
	if got["weak"] != y {
		t.Fatalf("expected weak to fall back to course y, got %+v", got)
	}
}
