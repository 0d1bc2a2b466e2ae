// Package scoring implements the pure, stateless ranking function that
// decides priority among students competing for the same course (spec §4.1).
package scoring

import (
	"math"
	"time"

	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/domain"
)

// Weights are the per-factor contributions to the composite score. They
// must sum to 1 within Epsilon.
type Weights struct {
	GPA      float64
	Interest float64
	Time     float64
	Year     float64
	Prereq   float64
}

// DefaultWeights matches spec §4.1's defaults.
func DefaultWeights() Weights {
	return Weights{GPA: 0.35, Interest: 0.30, Time: 0.20, Year: 0.10, Prereq: 0.05}
}

// Epsilon bounds the acceptable drift of Σw from 1.0.
const Epsilon = 1e-6

// Validate rejects weight sets whose sum strays from 1 by more than Epsilon.
func (w Weights) Validate() error {
	sum := w.GPA + w.Interest + w.Time + w.Year + w.Prereq
	if math.Abs(sum-1.0) > Epsilon {
		return apierr.New(apierr.ConfigurationInvalid, "scoring weights must sum to 1.0")
	}
	return nil
}

// DefaultLambda is chosen so timeScore ≈ 0.5 at 24 hours: ln(2)/24.
const DefaultLambda = math.Ln2 / 24

// Engine is a stateless scorer parameterized by weights and decay rate.
type Engine struct {
	Weights Weights
	Lambda  float64
}

// New builds an Engine, validating that weights sum to 1.
func New(weights Weights, lambda float64) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if lambda <= 0 {
		return nil, apierr.New(apierr.ConfigurationInvalid, "timeDecayLambda must be positive")
	}
	return &Engine{Weights: weights, Lambda: lambda}, nil
}

// Result is the per-factor breakdown plus the composite score.
type Result struct {
	domain.FactorScores
	Composite float64
}

// Score computes a composite score in [0, 1] for a student applying to a
// course at appliedAt, given the course's booking-open timestamp openedAt.
// Deterministic: identical inputs always produce an identical result.
func (e *Engine) Score(student domain.Student, course domain.Course, appliedAt, openedAt time.Time) Result {
	r := Result{
		FactorScores: domain.FactorScores{
			GPA:      gpaScore(student),
			Interest: interestScore(student, course),
			Time:     timeScore(appliedAt, openedAt, e.Lambda),
			Year:     yearScore(student, course),
			Prereq:   prereqScore(student, course),
		},
	}
	composite := e.Weights.GPA*r.GPA +
		e.Weights.Interest*r.Interest +
		e.Weights.Time*r.Time +
		e.Weights.Year*r.Year +
		e.Weights.Prereq*r.Prereq
	r.Composite = round6(clamp01(composite))
	return r
}

func gpaScore(s domain.Student) float64 {
	return clamp01(s.GPA / 4.0)
}

func interestScore(s domain.Student, c domain.Course) float64 {
	interests := toSet(s.Interests)
	tags := toSet(c.Tags)
	if len(interests) == 0 && len(tags) == 0 {
		return 0
	}
	inter := 0
	union := map[string]struct{}{}
	for k := range interests {
		union[k] = struct{}{}
	}
	for k := range tags {
		union[k] = struct{}{}
		if _, ok := interests[k]; ok {
			inter++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func timeScore(appliedAt, openedAt time.Time, lambda float64) float64 {
	deltaHours := appliedAt.Sub(openedAt).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	return math.Exp(-lambda * deltaHours)
}

func yearScore(s domain.Student, c domain.Course) float64 {
	if containsInt(c.PreferredYears, s.Year) {
		return 1
	}
	if len(c.PreferredYears) == 0 {
		return 0
	}
	minDistance := math.MaxInt32
	for _, y := range c.PreferredYears {
		d := y - s.Year
		if d < 0 {
			d = -d
		}
		if d < minDistance {
			minDistance = d
		}
	}
	return math.Max(0, 1-float64(minDistance)/4)
}

func prereqScore(s domain.Student, c domain.Course) float64 {
	if len(c.Prerequisites) == 0 {
		return 1
	}
	completed := toSet(s.CompletedCourses)
	matched := 0
	for _, p := range c.Prerequisites {
		if _, ok := completed[p]; ok {
			matched++
		}
	}
	denom := len(c.Prerequisites)
	if denom < 1 {
		denom = 1
	}
	return float64(matched) / float64(denom)
}

// HasMetPrerequisites reports whether the student has completed every
// prerequisite of the course (used by the registration service's apply()
// validation, not by the score itself, which rewards partial credit).
func HasMetPrerequisites(s domain.Student, c domain.Course) bool {
	completed := toSet(s.CompletedCourses)
	for _, p := range c.Prerequisites {
		if _, ok := completed[p]; !ok {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

func containsInt(items []int, v int) bool {
	for _, i := range items {
		if i == v {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round6(v float64) float64 {
	const factor = 1e6
	return math.Round(v*factor) / factor
}
