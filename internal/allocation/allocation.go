// Package allocation implements the batch matcher invoked when a course's
// booking window closes or on demand (spec §4.5): Greedy, Balanced
// (course-proposing deferred acceptance, the default), Student-optimal
// (student-proposing deferred acceptance), and Course-optimal.
package allocation

import (
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/domain"
)

// Strategy names the matching algorithm to run.
type Strategy string

const (
	Greedy         Strategy = "greedy"
	Balanced       Strategy = "balanced"
	StudentOptimal Strategy = "student-optimal"
	CourseOptimal  Strategy = "course-optimal"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case Greedy, Balanced, StudentOptimal, CourseOptimal:
		return Strategy(name), nil
	default:
		return "", apierr.New(apierr.ConfigurationInvalid, "unknown allocation strategy: "+name)
	}
}

// CourseInput is one course's allocation-relevant state: how many free
// seats remain and its waitlist ordered by the §4.2 total order
// (compositeScore DESC, appliedAt ASC, studentId ASC).
type CourseInput struct {
	CourseID  primitive.ObjectID
	FreeSeats int
	Waitlist  []domain.WaitlistEntry
}

// Input is the full batch to match: every contending course plus each
// student's ranked course preferences (priority 1 = most preferred). A
// student's list may name courses outside this batch or courses the student
// is not waitlisted on; the strategies only use priorities of courses whose
// waitlist holds the student.
type Input struct {
	Courses     []CourseInput
	Preferences map[string][]domain.CoursePreference // studentId -> preferences, any order
}

// Assignment is one seat awarded by the engine. The registration service
// turns this into a SeatBooking, picking a seat label via seatmap.
type Assignment struct {
	StudentID string
	CourseID  primitive.ObjectID
	Entry     domain.WaitlistEntry
}

// Result is the outcome of a single Run.
type Result struct {
	Assignments []Assignment
}

// Engine runs one configured Strategy.
type Engine struct {
	Strategy Strategy
}

// New builds an Engine for strategy, validating it is recognized.
func New(strategy Strategy) (*Engine, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	return &Engine{Strategy: strategy}, nil
}

// Run executes the configured strategy over input.
func (e *Engine) Run(input Input) (Result, error) {
	switch e.Strategy {
	case Greedy:
		return runGreedy(input), nil
	case CourseOptimal:
		return runCourseOptimal(input), nil
	case StudentOptimal:
		return runStudentOptimal(input), nil
	case Balanced:
		return runBalanced(input), nil
	default:
		return Result{}, apierr.New(apierr.ConfigurationInvalid, "unknown allocation strategy: "+string(e.Strategy))
	}
}

func sortedCourseIDs(courses []CourseInput) []CourseInput {
	out := make([]CourseInput, len(courses))
	copy(out, courses)
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID.Hex() < out[j].CourseID.Hex() })
	return out
}

// runGreedy assigns, per course independently, the top-FreeSeats waitlist
// entries. Students appearing on multiple waitlists are not deconflicted:
// the same student can win a seat in more than one course.
func runGreedy(input Input) Result {
	var result Result
	for _, c := range input.Courses {
		k := c.FreeSeats
		if k > len(c.Waitlist) {
			k = len(c.Waitlist)
		}
		for i := 0; i < k; i++ {
			entry := c.Waitlist[i]
			result.Assignments = append(result.Assignments, Assignment{
				StudentID: entry.StudentID,
				CourseID:  c.CourseID,
				Entry:     entry,
			})
		}
	}
	return result
}

// runCourseOptimal is a single deconflicted pass over courses in sorted
// identifier order: each course greedily claims the best remaining
// applicants from its own waitlist, skipping students already claimed by
// an earlier course in this pass.
func runCourseOptimal(input Input) Result {
	courses := sortedCourseIDs(input.Courses)
	claimed := make(map[string]bool)

	var result Result
	for _, c := range courses {
		remaining := c.FreeSeats
		for _, entry := range c.Waitlist {
			if remaining <= 0 {
				break
			}
			if claimed[entry.StudentID] {
				continue
			}
			claimed[entry.StudentID] = true
			remaining--
			result.Assignments = append(result.Assignments, Assignment{
				StudentID: entry.StudentID,
				CourseID:  c.CourseID,
				Entry:     entry,
			})
		}
	}
	return result
}

// preferenceRank returns studentId's priority for courseId (lower is more
// preferred), or math.MaxInt32 if the student expressed no preference for
// that course.
func preferenceRank(prefs map[string][]domain.CoursePreference, studentID string, courseID primitive.ObjectID) int {
	for _, p := range prefs[studentID] {
		if p.CourseID == courseID {
			return p.Priority
		}
	}
	return math.MaxInt32
}

// runBalanced is course-proposing deferred acceptance: each course offers
// its next-best unassigned applicant a seat, one offer at a time, as long
// as it has unfilled capacity; a student holds only the single most
// preferred course among the offers it currently has, rejecting the rest.
func runBalanced(input Input) Result {
	entryByKey := make(map[string]domain.WaitlistEntry)
	waitlists := make(map[primitive.ObjectID][]domain.WaitlistEntry)
	capacity := make(map[primitive.ObjectID]int)
	pointer := make(map[primitive.ObjectID]int)
	heldBy := make(map[string]primitive.ObjectID) // studentId -> course currently holding them

	for _, c := range input.Courses {
		waitlists[c.CourseID] = c.Waitlist
		capacity[c.CourseID] = c.FreeSeats
		for _, entry := range c.Waitlist {
			entryByKey[entryKey(c.CourseID, entry.StudentID)] = entry
		}
	}
	held := make(map[primitive.ObjectID]map[string]bool)
	for _, c := range input.Courses {
		held[c.CourseID] = make(map[string]bool)
	}

	courses := sortedCourseIDs(input.Courses)
	for {
		proposed := false
		for _, c := range courses {
			list := waitlists[c.CourseID]
			for len(held[c.CourseID]) < capacity[c.CourseID] && pointer[c.CourseID] < len(list) {
				candidate := list[pointer[c.CourseID]]
				pointer[c.CourseID]++
				proposed = true

				currentHolder, hasHolder := heldBy[candidate.StudentID]
				if !hasHolder {
					held[c.CourseID][candidate.StudentID] = true
					heldBy[candidate.StudentID] = c.CourseID
					continue
				}
				if currentHolder == c.CourseID {
					continue
				}
				currentRank := preferenceRank(input.Preferences, candidate.StudentID, currentHolder)
				offerRank := preferenceRank(input.Preferences, candidate.StudentID, c.CourseID)
				if offerRank < currentRank {
					delete(held[currentHolder], candidate.StudentID)
					held[c.CourseID][candidate.StudentID] = true
					heldBy[candidate.StudentID] = c.CourseID
				}
				// else: candidate rejects this offer; c.CourseID's pointer has
				// already advanced past them for good.
			}
		}
		if !proposed {
			break
		}
	}

	var result Result
	for _, c := range courses {
		for studentID := range held[c.CourseID] {
			entry := entryByKey[entryKey(c.CourseID, studentID)]
			result.Assignments = append(result.Assignments, Assignment{
				StudentID: studentID,
				CourseID:  c.CourseID,
				Entry:     entry,
			})
		}
	}
	sortAssignments(result.Assignments)
	return result
}

// runStudentOptimal is student-proposing deferred acceptance: each
// unmatched student proposes to their most-preferred remaining course;
// each course holds its top-capacity-many proposals by composite score,
// rejecting the weakest when over capacity.
func runStudentOptimal(input Input) Result {
	entryByKey := make(map[string]domain.WaitlistEntry)
	waitlistMembership := make(map[string]map[primitive.ObjectID]bool)
	capacity := make(map[primitive.ObjectID]int)
	held := make(map[primitive.ObjectID][]domain.WaitlistEntry)

	for _, c := range input.Courses {
		capacity[c.CourseID] = c.FreeSeats
		for _, entry := range c.Waitlist {
			entryByKey[entryKey(c.CourseID, entry.StudentID)] = entry
			if waitlistMembership[entry.StudentID] == nil {
				waitlistMembership[entry.StudentID] = make(map[primitive.ObjectID]bool)
			}
			waitlistMembership[entry.StudentID][c.CourseID] = true
		}
	}

	candidates := make(map[string][]primitive.ObjectID) // studentId -> preferred courses, in priority order, filtered to waitlists they're on
	for studentID, prefs := range input.Preferences {
		sorted := make([]domain.CoursePreference, len(prefs))
		copy(sorted, prefs)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
		for _, p := range sorted {
			if waitlistMembership[studentID][p.CourseID] {
				candidates[studentID] = append(candidates[studentID], p.CourseID)
			}
		}
	}
	pointer := make(map[string]int)
	assignedTo := make(map[string]primitive.ObjectID)

	queue := make([]string, 0, len(candidates))
	for studentID := range candidates {
		queue = append(queue, studentID)
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		studentID := queue[0]
		queue = queue[1:]

		if _, already := assignedTo[studentID]; already {
			continue
		}
		list := candidates[studentID]
		if pointer[studentID] >= len(list) {
			continue
		}
		courseID := list[pointer[studentID]]
		pointer[studentID]++
		entry := entryByKey[entryKey(courseID, studentID)]

		bucket := held[courseID]
		if len(bucket) < capacity[courseID] {
			bucket = append(bucket, entry)
			held[courseID] = bucket
			assignedTo[studentID] = courseID
			continue
		}

		weakestIdx, weakest := weakestHeld(bucket)
		if len(bucket) == 0 || entry.CompositeScore <= weakest.CompositeScore {
			queue = append(queue, studentID)
			continue
		}
		bumped := bucket[weakestIdx]
		bucket[weakestIdx] = entry
		held[courseID] = bucket
		delete(assignedTo, bumped.StudentID)
		assignedTo[studentID] = courseID
		queue = append(queue, bumped.StudentID)
	}

	var result Result
	for courseID, bucket := range held {
		for _, entry := range bucket {
			result.Assignments = append(result.Assignments, Assignment{
				StudentID: entry.StudentID,
				CourseID:  courseID,
				Entry:     entry,
			})
		}
	}
	sortAssignments(result.Assignments)
	return result
}

func weakestHeld(bucket []domain.WaitlistEntry) (int, domain.WaitlistEntry) {
	idx := 0
	for i, e := range bucket {
		if e.CompositeScore < bucket[idx].CompositeScore {
			idx = i
		}
	}
	if len(bucket) == 0 {
		return -1, domain.WaitlistEntry{}
	}
	return idx, bucket[idx]
}

func entryKey(courseID primitive.ObjectID, studentID string) string {
	return courseID.Hex() + "|" + studentID
}

func sortAssignments(assignments []Assignment) {
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].CourseID != assignments[j].CourseID {
			return assignments[i].CourseID.Hex() < assignments[j].CourseID.Hex()
		}
		return assignments[i].StudentID < assignments[j].StudentID
	})
}
