package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/campusreg/registrar/internal/domain"
)

func TestDefaultWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights should be valid: %v", err)
	}
}

func TestWeightsValidateRejectsBadSum(t *testing.T) {
	w := Weights{GPA: 0.5, Interest: 0.5, Time: 0.5, Year: 0, Prereq: 0}
	if err := w.Validate(); err == nil {
		t.Fatal("expected error for weights summing above 1")
	}
}

func TestScoreDeterministic(t *testing.T) {
	e, err := New(DefaultWeights(), DefaultLambda)
	if err != nil {
		t.Fatal(err)
	}
	student := domain.Student{GPA: 3.8, Year: 2, Interests: []string{"ai", "robotics"}, CompletedCourses: []string{"CS100"}}
	course := domain.Course{Tags: []string{"ai", "ml"}, PreferredYears: []int{2, 3}, Prerequisites: []string{"CS100"}}
	applied := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r1 := e.Score(student, course, applied, opened)
	r2 := e.Score(student, course, applied, opened)
	if r1 != r2 {
		t.Fatalf("score not deterministic: %+v vs %+v", r1, r2)
	}
	if r1.Composite < 0 || r1.Composite > 1 {
		t.Fatalf("composite out of [0,1]: %v", r1.Composite)
	}
}

func TestInterestScoreJaccard(t *testing.T) {
	s := domain.Student{Interests: []string{"a", "b"}}
	c := domain.Course{Tags: []string{"b", "c"}}
	got := interestScore(s, c)
	want := 1.0 / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("interestScore = %v, want %v", got, want)
	}
}

func TestInterestScoreEmptyUnion(t *testing.T) {
	if got := interestScore(domain.Student{}, domain.Course{}); got != 0 {
		t.Fatalf("interestScore with empty union = %v, want 0", got)
	}
}

func TestTimeScoreDecaysToHalfAtOneDay(t *testing.T) {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	applied := opened.Add(24 * time.Hour)
	got := timeScore(applied, opened, DefaultLambda)
	if math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("timeScore at 24h = %v, want ~0.5", got)
	}
}

func TestTimeScoreClampsNegativeDelta(t *testing.T) {
	opened := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	applied := opened.Add(-time.Hour)
	if got := timeScore(applied, opened, DefaultLambda); got != 1 {
		t.Fatalf("timeScore before open = %v, want 1", got)
	}
}

func TestYearScoreExactAndDistance(t *testing.T) {
	c := domain.Course{PreferredYears: []int{3}}
	if got := yearScore(domain.Student{Year: 3}, c); got != 1 {
		t.Fatalf("exact year match = %v, want 1", got)
	}
	got := yearScore(domain.Student{Year: 1}, c)
	want := 1 - 2.0/4.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("distance year score = %v, want %v", got, want)
	}
}

func TestPrereqScoreEmptyPrereqsIsPerfect(t *testing.T) {
	if got := prereqScore(domain.Student{}, domain.Course{}); got != 1 {
		t.Fatalf("prereqScore with no prereqs = %v, want 1", got)
	}
}

func TestPrereqScorePartialCredit(t *testing.T) {
	s := domain.Student{CompletedCourses: []string{"CS100"}}
	c := domain.Course{Prerequisites: []string{"CS100", "CS200"}}
	if got := prereqScore(s, c); got != 0.5 {
		t.Fatalf("prereqScore = %v, want 0.5", got)
	}
}

func TestHasMetPrerequisites(t *testing.T) {
	s := domain.Student{CompletedCourses: []string{"CS100"}}
	c := domain.Course{Prerequisites: []string{"CS100", "CS200"}}
	if HasMetPrerequisites(s, c) {
		t.Fatal("expected unmet prerequisites")
	}
	c.Prerequisites = []string{"CS100"}
	if !HasMetPrerequisites(s, c) {
		t.Fatal("expected met prerequisites")
	}
}
