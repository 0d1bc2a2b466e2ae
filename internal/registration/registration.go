// Package registration is the registration engine's transactional core
// (spec §4.4): it owns the per-course state machine, coordinates the
// Scoring Engine, Waitlist Store, Seat Map, Allocation Engine and Event
// Bus, and is the only component permitted to mutate seats or waitlists.
//
// Every state-mutating operation acquires the target course's striped
// lock (one *sync.Mutex per course, held in a map guarded by its own
// small mutex) for its entire critical section: in-memory mutation, the
// persistent store.Commit, and event publication all happen before the
// lock is released, so an observer of a published event can always find
// the matching state on a subsequent query (spec §5).
package registration

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/allocation"
	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/cache"
	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/eventbus"
	"github.com/campusreg/registrar/internal/scoring"
	"github.com/campusreg/registrar/internal/seatmap"
	"github.com/campusreg/registrar/internal/store"
	"github.com/campusreg/registrar/internal/waitlist"
)

// courseState is the in-memory runtime state for one course, loaded
// lazily from the store on first touch and mutated only while its mu is
// held. mu is the striping primitive described in spec §5.
type courseState struct {
	mu     sync.Mutex
	loaded bool

	config         domain.SeatConfig
	seats          *seatmap.Map
	studentSeat    map[string]string             // studentId -> seatLabel, active bookings only
	studentBooking map[string]domain.SeatBooking // studentId -> booking record
}

// Service is the registration engine's core.
type Service struct {
	st       store.Store
	waitlist *waitlist.Store
	bus      *eventbus.Bus
	wcache   *cache.WaitlistCache
	scorer   *scoring.Engine
	alloc    *allocation.Engine
	now      func() time.Time

	statesMu sync.Mutex
	states   map[primitive.ObjectID]*courseState
}

// New builds a Service. clock defaults to time.Now if nil (tests may
// supply a frozen clock, per the determinism testable property in §8).
func New(st store.Store, bus *eventbus.Bus, wcache *cache.WaitlistCache, scorer *scoring.Engine, alloc *allocation.Engine, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		st:       st,
		waitlist: waitlist.NewStore(),
		bus:      bus,
		wcache:   wcache,
		scorer:   scorer,
		alloc:    alloc,
		now:      clock,
		states:   make(map[primitive.ObjectID]*courseState),
	}
}

func (s *Service) getState(courseID primitive.ObjectID) *courseState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	cs, ok := s.states[courseID]
	if !ok {
		cs = &courseState{}
		s.states[courseID] = cs
	}
	return cs
}

// ensureLoaded populates cs from the store on first touch. Caller must
// hold cs.mu.
func (s *Service) ensureLoaded(ctx context.Context, courseID primitive.ObjectID, cs *courseState) error {
	if cs.loaded {
		return nil
	}
	cfg, err := s.st.GetSeatConfig(ctx, courseID)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "seat configuration not found", err)
	}
	seats := seatmap.New(cfg.TotalSeats, cfg.SeatsPerRow)

	bookings, err := s.st.ListActiveBookings(ctx, courseID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to load active bookings", err)
	}
	studentSeat := make(map[string]string, len(bookings))
	studentBooking := make(map[string]domain.SeatBooking, len(bookings))
	for _, b := range bookings {
		_ = seats.Occupy(b.SeatLabel, b.StudentID)
		studentSeat[b.StudentID] = b.SeatLabel
		studentBooking[b.StudentID] = b
	}

	entries, err := s.st.ListWaitlistEntries(ctx, courseID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to load waitlist entries", err)
	}
	for _, e := range entries {
		if !e.Status.IsTerminal() {
			_ = s.waitlist.Insert(courseID, e)
		}
	}

	cs.config = cfg
	cs.seats = seats
	cs.studentSeat = studentSeat
	cs.studentBooking = studentBooking
	cs.loaded = true
	return nil
}

// resolveCourse looks up a course by opaque id or human code. The result's
// ID is what locking and the waitlist/seat map are keyed by.
func (s *Service) resolveCourse(ctx context.Context, idOrCode string) (domain.Course, error) {
	c, err := s.st.GetCourse(ctx, idOrCode)
	if err != nil {
		return domain.Course{}, apierr.Wrap(apierr.NotFound, "course not found", err)
	}
	return c, nil
}

func (s *Service) resolveStudent(ctx context.Context, studentID string) (domain.Student, error) {
	st, err := s.st.GetStudent(ctx, studentID)
	if err != nil {
		return domain.Student{}, apierr.Wrap(apierr.NotFound, "student not found", err)
	}
	return st, nil
}

func (s *Service) syncWaitlistCache(ctx context.Context, courseID primitive.ObjectID) {
	if s.wcache == nil {
		return
	}
	snapshot := s.waitlist.Snapshot(courseID)
	scores := make(map[string]float64, len(snapshot))
	for _, e := range snapshot {
		scores[e.StudentID] = e.CompositeScore
	}
	s.wcache.Sync(ctx, courseID.Hex(), scores)
}

func (s *Service) publish(courseID primitive.ObjectID, evt domain.RegistrationEvent) {
	if s.bus == nil {
		return
	}
	evt.CourseID = courseID
	evt.Timestamp = s.now()
	s.bus.Publish(eventbus.Topic(courseID.Hex()), evt)
}

// ApplyRequest is the input to Apply.
type ApplyRequest struct {
	StudentID      string
	CourseIDOrCode string
	PreferredSeat  string
	AutoRegister   bool
}

// ApplyResult reports the outcome of Apply.
type ApplyResult struct {
	Status    string // "enrolled" | "waitlisted"
	SeatLabel string
	Score     scoring.Result
	Position  int // 1-based, only meaningful when Status == "waitlisted"
}

// Apply is spec §4.4's apply operation.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	student, err := s.resolveStudent(ctx, req.StudentID)
	if err != nil {
		return ApplyResult{}, err
	}
	course, err := s.resolveCourse(ctx, req.CourseIDOrCode)
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	err = s.withCourseLock(ctx, course.ID, func(cs *courseState) error {
		switch cs.config.Status {
		case domain.StatusStarted, domain.StatusCompleted:
			return apierr.New(apierr.BookingClosed, "course is not accepting applications")
		}
		if _, enrolled := cs.studentSeat[student.StudentID]; enrolled {
			return apierr.New(apierr.AlreadyEnrolled, "student already has an active booking for this course")
		}
		if _, err := s.waitlist.RankOf(course.ID, student.StudentID); err == nil {
			return apierr.New(apierr.AlreadyWaitlisted, "student is already on this course's waitlist")
		}
		if !scoring.HasMetPrerequisites(student, course) {
			return apierr.New(apierr.PrerequisiteMissing, "student has not completed all prerequisites")
		}

		appliedAt := s.now()
		score := s.scorer.Score(student, course, appliedAt, cs.config.BookingOpensAt)

		canAutoEnroll := cs.config.Status == domain.StatusOpen && req.AutoRegister && !cs.seats.IsFull()
		if canAutoEnroll {
			seatLabel, err := s.occupySeat(cs, req.PreferredSeat, student.StudentID)
			if err != nil {
				return err
			}
			booking := domain.SeatBooking{
				ID:        primitive.NewObjectID(),
				CourseID:  course.ID,
				StudentID: student.StudentID,
				SeatLabel: seatLabel,
				BookedAt:  appliedAt,
				Active:    true,
			}
			cs.studentSeat[student.StudentID] = seatLabel
			cs.studentBooking[student.StudentID] = booking

			tx := store.Transaction{
				UpsertBookings: []domain.SeatBooking{booking},
				Events: []domain.RegistrationEvent{{
					EventType: domain.EventSeatBooked,
					StudentID: student.StudentID,
					SeatLabel: seatLabel,
				}},
			}
			s.maybeTransitionToWaitlistOnly(cs, &tx)
			if err := s.st.Commit(ctx, course.ID, tx); err != nil {
				return apierr.Wrap(apierr.Internal, "failed to commit seat booking", err)
			}
			s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventSeatBooked, StudentID: student.StudentID, SeatLabel: seatLabel})
			if cs.config.Status == domain.StatusWaitlistOnly {
				s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cs.config.Status)}})
			}

			result = ApplyResult{Status: "enrolled", SeatLabel: seatLabel, Score: score}
			return nil
		}

		entry := waitlist.NewEntry(course.ID, student.StudentID, score.FactorScores, score.Composite, appliedAt, req.PreferredSeat)
		if err := s.waitlist.Insert(course.ID, entry); err != nil {
			return apierr.New(apierr.AlreadyWaitlisted, "student is already on this course's waitlist")
		}
		position, _ := s.waitlist.RankOf(course.ID, student.StudentID)

		if err := s.st.Commit(ctx, course.ID, store.Transaction{
			UpsertWaitlist: []domain.WaitlistEntry{entry},
			Events:         []domain.RegistrationEvent{{EventType: domain.EventWaitlistUpdated, StudentID: student.StudentID}},
		}); err != nil {
			s.waitlist.Remove(course.ID, student.StudentID)
			return apierr.Wrap(apierr.Internal, "failed to commit waitlist entry", err)
		}
		s.syncWaitlistCache(ctx, course.ID)
		s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventWaitlistUpdated, StudentID: student.StudentID})

		result = ApplyResult{Status: "waitlisted", Score: score, Position: position}
		return nil
	})
	return result, err
}

// occupySeat picks a seat for studentId: preferredLabel if non-empty and
// available, falling back to the lowest-numbered free seat otherwise —
// the pinned resolution for autoRegister=true with a taken preferredSeat.
func (s *Service) occupySeat(cs *courseState, preferredLabel, studentID string) (string, error) {
	if preferredLabel != "" {
		if err := cs.seats.Occupy(preferredLabel, studentID); err == nil {
			return preferredLabel, nil
		}
	}
	label, ok := cs.seats.PickLowestFree()
	if !ok {
		return "", apierr.New(apierr.CapacityExceeded, "no free seats remain")
	}
	if err := cs.seats.Occupy(label, studentID); err != nil {
		return "", err
	}
	return label, nil
}

// maybeTransitionToWaitlistOnly flips OPEN->WAITLIST_ONLY when the seat
// map is now full, recording the change on tx.
func (s *Service) maybeTransitionToWaitlistOnly(cs *courseState, tx *store.Transaction) {
	if cs.config.Status == domain.StatusOpen && cs.seats.IsFull() {
		cs.config.Status = domain.StatusWaitlistOnly
		cfg := cs.config
		tx.SeatConfig = &cfg
	}
}

// BookSpecificSeat is spec §4.4's bookSpecificSeat operation.
func (s *Service) BookSpecificSeat(ctx context.Context, studentID, courseIDOrCode, seatLabel string) error {
	student, err := s.resolveStudent(ctx, studentID)
	if err != nil {
		return err
	}
	course, err := s.resolveCourse(ctx, courseIDOrCode)
	if err != nil {
		return err
	}

	return s.withCourseLock(ctx, course.ID, func(cs *courseState) error {
		if cs.config.Status != domain.StatusOpen {
			return apierr.New(apierr.BookingClosed, "course is not open for direct seat booking")
		}
		if _, enrolled := cs.studentSeat[student.StudentID]; enrolled {
			return apierr.New(apierr.AlreadyEnrolled, "student already has an active booking for this course")
		}
		if err := cs.seats.Occupy(seatLabel, student.StudentID); err != nil {
			return err
		}

		booking := domain.SeatBooking{
			ID:        primitive.NewObjectID(),
			CourseID:  course.ID,
			StudentID: student.StudentID,
			SeatLabel: seatLabel,
			BookedAt:  s.now(),
			Active:    true,
		}
		cs.studentSeat[student.StudentID] = seatLabel
		cs.studentBooking[student.StudentID] = booking

		tx := store.Transaction{
			UpsertBookings: []domain.SeatBooking{booking},
			Events:         []domain.RegistrationEvent{{EventType: domain.EventSeatBooked, StudentID: student.StudentID, SeatLabel: seatLabel}},
		}
		s.maybeTransitionToWaitlistOnly(cs, &tx)
		if err := s.st.Commit(ctx, course.ID, tx); err != nil {
			return apierr.Wrap(apierr.Internal, "failed to commit seat booking", err)
		}
		s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventSeatBooked, StudentID: student.StudentID, SeatLabel: seatLabel})
		if cs.config.Status == domain.StatusWaitlistOnly {
			s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cs.config.Status)}})
		}
		return nil
	})
}

// Drop is spec §4.4's drop operation. Idempotent: dropping a student with
// no active booking succeeds without emitting SEAT_RELEASED a second time.
func (s *Service) Drop(ctx context.Context, studentID, courseIDOrCode string) error {
	course, err := s.resolveCourse(ctx, courseIDOrCode)
	if err != nil {
		return err
	}

	return s.withCourseLock(ctx, course.ID, func(cs *courseState) error {
		if cs.config.Status == domain.StatusCompleted {
			return apierr.New(apierr.BookingClosed, "course has completed; drop is not permitted")
		}
		seatLabel, hadBooking := cs.studentSeat[studentID]
		if !hadBooking {
			return nil
		}

		booking := cs.studentBooking[studentID]
		booking.Active = false
		cs.seats.Release(seatLabel)
		delete(cs.studentSeat, studentID)
		delete(cs.studentBooking, studentID)

		tx := store.Transaction{
			UpsertBookings: []domain.SeatBooking{booking},
			Events:         []domain.RegistrationEvent{{EventType: domain.EventSeatReleased, StudentID: studentID, SeatLabel: seatLabel}},
		}
		s.autoFill(course.ID, cs, &tx)

		wasWaitlistOnly := cs.config.Status == domain.StatusWaitlistOnly
		if wasWaitlistOnly && !cs.seats.IsFull() {
			cs.config.Status = domain.StatusOpen
			cfg := cs.config
			tx.SeatConfig = &cfg
		}

		if err := s.st.Commit(ctx, course.ID, tx); err != nil {
			return apierr.Wrap(apierr.Internal, "failed to commit drop", err)
		}
		s.syncWaitlistCache(ctx, course.ID)

		s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventSeatReleased, StudentID: studentID, SeatLabel: seatLabel})
		for _, evt := range tx.Events {
			if evt.EventType == domain.EventStudentAutoEnrolled {
				s.publish(course.ID, evt)
			}
		}
		if cs.config.Status == domain.StatusOpen && wasWaitlistOnly {
			s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cs.config.Status)}})
		}
		return nil
	})
}

// autoFill promotes waitlisted students into free seats until the course
// is full or the waitlist is empty. Caller must hold cs's lock. Appends
// every resulting write to tx; the caller commits once.
func (s *Service) autoFill(courseID primitive.ObjectID, cs *courseState, tx *store.Transaction) {
	for !cs.seats.IsFull() {
		entry, err := s.waitlist.PopTop(courseID)
		if err != nil {
			return
		}
		label, err := s.occupySeat(cs, entry.PreferredSeat, entry.StudentID)
		if err != nil {
			// Seat picked was unavailable for an unexpected reason; the
			// entry is already popped, so drop it rather than spin.
			continue
		}
		booking := domain.SeatBooking{
			ID:        primitive.NewObjectID(),
			CourseID:  courseID,
			StudentID: entry.StudentID,
			SeatLabel: label,
			BookedAt:  s.now(),
			Active:    true,
		}
		cs.studentSeat[entry.StudentID] = label
		cs.studentBooking[entry.StudentID] = booking

		tx.UpsertBookings = append(tx.UpsertBookings, booking)
		tx.DeleteWaitlistIDs = append(tx.DeleteWaitlistIDs, entry.ID)
		tx.Events = append(tx.Events, domain.RegistrationEvent{
			EventType: domain.EventStudentAutoEnrolled,
			StudentID: entry.StudentID,
			SeatLabel: label,
		})
	}
}

// OpenBooking is spec §4.4's openBooking operation.
func (s *Service) OpenBooking(ctx context.Context, courseIDOrCode string) error {
	course, err := s.resolveCourse(ctx, courseIDOrCode)
	if err != nil {
		return err
	}
	return s.withCourseLock(ctx, course.ID, func(cs *courseState) error {
		if cs.config.Status != domain.StatusClosed {
			return apierr.New(apierr.BookingAlreadyOpen, "course booking is already open or past opening")
		}
		cs.config.Status = domain.StatusOpen
		cs.config.BookingOpensAt = s.now()
		cfg := cs.config
		if err := s.st.Commit(ctx, course.ID, store.Transaction{
			SeatConfig: &cfg,
			Events:     []domain.RegistrationEvent{{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cfg.Status)}}},
		}); err != nil {
			return apierr.Wrap(apierr.Internal, "failed to commit booking open", err)
		}
		s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cfg.Status)}})
		return nil
	})
}

// CloseBooking is spec §4.4's closeBooking operation. Closing transitions
// an OPEN or WAITLIST_ONLY course to STARTED and triggers a final
// runAllocation for the course (see DESIGN.md's Open Question resolution:
// CLOSED is reserved for the pre-opening state, so closing the booking
// window moves the course into STARTED rather than back to CLOSED).
func (s *Service) CloseBooking(ctx context.Context, courseIDOrCode string) error {
	course, err := s.resolveCourse(ctx, courseIDOrCode)
	if err != nil {
		return err
	}
	err = s.withCourseLock(ctx, course.ID, func(cs *courseState) error {
		if cs.config.Status != domain.StatusOpen && cs.config.Status != domain.StatusWaitlistOnly {
			return apierr.New(apierr.BookingClosed, "course booking is not open")
		}
		cs.config.Status = domain.StatusStarted
		cfg := cs.config
		if err := s.st.Commit(ctx, course.ID, store.Transaction{
			SeatConfig: &cfg,
			Events:     []domain.RegistrationEvent{{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cfg.Status)}}},
		}); err != nil {
			return apierr.Wrap(apierr.Internal, "failed to commit booking close", err)
		}
		s.publish(course.ID, domain.RegistrationEvent{EventType: domain.EventBookingStatusChanged, Metadata: map[string]interface{}{"status": string(cfg.Status)}})
		return nil
	})
	if err != nil {
		return err
	}
	_, err = s.RunAllocation(ctx, []primitive.ObjectID{course.ID})
	return err
}

// AllocationSummary reports what RunAllocation committed.
type AllocationSummary struct {
	Assignments []allocation.Assignment
}

// RunAllocation is spec §4.5's batch matcher. When courseIDs is empty,
// every course known to the store is considered. Course locks are
// acquired together in sorted identifier order (spec §5) so the
// preference cascade (spec §4.4, §9) can see and cancel a winner's
// lower-priority waitlist entries on any other course in the batch.
//
// The cascade only reaches courses included in this call's batch: a
// courseIDs subset narrower than "every course with a waitlist" limits
// cascade visibility to that subset, since acquiring additional course
// locks discovered only after assignments are known would risk lock
// ordering violations (documented in DESIGN.md).
func (s *Service) RunAllocation(ctx context.Context, courseIDs []primitive.ObjectID) (AllocationSummary, error) {
	if len(courseIDs) == 0 {
		courses, err := s.st.ListCourses(ctx)
		if err != nil {
			return AllocationSummary{}, apierr.Wrap(apierr.Internal, "failed to list courses", err)
		}
		for _, c := range courses {
			courseIDs = append(courseIDs, c.ID)
		}
	}
	sort.Slice(courseIDs, func(i, j int) bool { return courseIDs[i].Hex() < courseIDs[j].Hex() })

	states := make([]*courseState, len(courseIDs))
	for i, id := range courseIDs {
		states[i] = s.getState(id)
		states[i].mu.Lock()
	}
	defer func() {
		for i := len(states) - 1; i >= 0; i-- {
			states[i].mu.Unlock()
		}
	}()

	for i, id := range courseIDs {
		if err := s.ensureLoaded(ctx, id, states[i]); err != nil {
			return AllocationSummary{}, err
		}
	}

	input := allocation.Input{Preferences: make(map[string][]domain.CoursePreference)}
	prefsFetched := make(map[string]bool)
	entryIDByCourse := make(map[primitive.ObjectID]map[string]primitive.ObjectID, len(courseIDs))
	for i, id := range courseIDs {
		cs := states[i]
		free := cs.config.TotalSeats - cs.seats.OccupiedCount()
		if free < 0 {
			free = 0
		}
		snapshot := s.waitlist.Snapshot(id)
		input.Courses = append(input.Courses, allocation.CourseInput{
			CourseID:  id,
			FreeSeats: free,
			Waitlist:  snapshot,
		})
		byStudent := make(map[string]primitive.ObjectID, len(snapshot))
		for _, entry := range snapshot {
			byStudent[entry.StudentID] = entry.ID
		}
		entryIDByCourse[id] = byStudent
		for _, entry := range snapshot {
			if prefsFetched[entry.StudentID] {
				continue
			}
			prefsFetched[entry.StudentID] = true
			prefs, err := s.st.GetPreferences(ctx, entry.StudentID)
			if err != nil {
				return AllocationSummary{}, apierr.Wrap(apierr.Internal, "failed to load preferences", err)
			}
			input.Preferences[entry.StudentID] = prefs
		}
	}

	result, err := s.alloc.Run(input)
	if err != nil {
		return AllocationSummary{}, err
	}

	txByCourse := make(map[primitive.ObjectID]*store.Transaction, len(courseIDs))
	stateByCourse := make(map[primitive.ObjectID]*courseState, len(courseIDs))
	for i, id := range courseIDs {
		stateByCourse[id] = states[i]
		txByCourse[id] = &store.Transaction{}
	}

	wonCourseOf := make(map[string]primitive.ObjectID)
	for _, a := range result.Assignments {
		cs := stateByCourse[a.CourseID]
		tx := txByCourse[a.CourseID]

		label, err := s.occupySeat(cs, a.Entry.PreferredSeat, a.StudentID)
		if err != nil {
			continue
		}
		booking := domain.SeatBooking{
			ID:        primitive.NewObjectID(),
			CourseID:  a.CourseID,
			StudentID: a.StudentID,
			SeatLabel: label,
			BookedAt:  s.now(),
			Active:    true,
		}
		cs.studentSeat[a.StudentID] = label
		cs.studentBooking[a.StudentID] = booking
		s.waitlist.Remove(a.CourseID, a.StudentID)

		tx.UpsertBookings = append(tx.UpsertBookings, booking)
		tx.DeleteWaitlistIDs = append(tx.DeleteWaitlistIDs, a.Entry.ID)
		tx.Events = append(tx.Events, domain.RegistrationEvent{EventType: domain.EventSeatBooked, StudentID: a.StudentID, SeatLabel: label})
		wonCourseOf[a.StudentID] = a.CourseID

		s.maybeTransitionToWaitlistOnly(cs, tx)
	}

	// Preference cascade: a student who won a seat drops their waitlist
	// entries on every lower-priority course within this batch.
	for studentID, wonCourseID := range wonCourseOf {
		prefs := input.Preferences[studentID]
		wonPriority, found := -1, false
		for _, p := range prefs {
			if p.CourseID == wonCourseID {
				wonPriority, found = p.Priority, true
			}
		}
		if !found {
			continue
		}
		for _, p := range prefs {
			if p.Priority <= wonPriority || p.CourseID == wonCourseID {
				continue
			}
			if _, inBatch := stateByCourse[p.CourseID]; !inBatch {
				continue
			}
			if !s.waitlist.Remove(p.CourseID, studentID) {
				continue
			}
			tx := txByCourse[p.CourseID]
			if entryID, ok := entryIDByCourse[p.CourseID][studentID]; ok {
				tx.DeleteWaitlistIDs = append(tx.DeleteWaitlistIDs, entryID)
			}
			tx.Events = append(tx.Events, domain.RegistrationEvent{EventType: domain.EventWaitlistUpdated, StudentID: studentID})
		}
	}

	for _, id := range courseIDs {
		tx := *txByCourse[id]
		if tx.IsEmpty() {
			continue
		}
		if err := s.st.Commit(ctx, id, tx); err != nil {
			return AllocationSummary{}, apierr.Wrap(apierr.Internal, "failed to commit allocation", err)
		}
		s.syncWaitlistCache(ctx, id)
		for _, evt := range tx.Events {
			s.publish(id, evt)
		}
	}

	return AllocationSummary{Assignments: result.Assignments}, nil
}

// withCourseLock acquires courseId's striped lock for the duration of fn,
// ensuring the course's runtime state is loaded first.
func (s *Service) withCourseLock(ctx context.Context, courseID primitive.ObjectID, fn func(*courseState) error) error {
	cs := s.getState(courseID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := s.ensureLoaded(ctx, courseID, cs); err != nil {
		return err
	}
	return fn(cs)
}
