// Package mongostore is the production store.Store backed by MongoDB,
// generalizing the teacher's per-entity *mongo.Collection repository
// pattern from the single seating domain to this engine's entities, and
// adding the transactional Commit spec §6 requires via a session-bound
// multi-document transaction.
package mongostore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/store"
)

// Store is a MongoDB-backed store.Store.
type Store struct {
	client       *mongo.Client
	students     *mongo.Collection
	courses      *mongo.Collection
	seatConfigs  *mongo.Collection
	bookings     *mongo.Collection
	waitlist     *mongo.Collection
	preferences  *mongo.Collection
	events       *mongo.Collection
}

// New builds a Store over db's collections.
func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:      client,
		students:    db.Collection("students"),
		courses:     db.Collection("courses"),
		seatConfigs: db.Collection("seat_configs"),
		bookings:    db.Collection("seat_bookings"),
		waitlist:    db.Collection("waitlist_entries"),
		preferences: db.Collection("course_preferences"),
		events:      db.Collection("registration_events"),
	}
}

// EnsureIndexes creates the unique indexes backing the §3 uniqueness
// invariants. Call once at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "course_id", Value: 1}, {Key: "seat_label", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys:    bson.D{{Key: "course_id", Value: 1}, {Key: "student_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"active": true}),
		},
	})
	return err
}

func (s *Store) GetStudent(ctx context.Context, studentID string) (domain.Student, error) {
	var st domain.Student
	err := s.students.FindOne(ctx, bson.M{"student_id": studentID}).Decode(&st)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Student{}, store.ErrNotFound
		}
		return domain.Student{}, err
	}
	return st, nil
}

func (s *Store) GetCourse(ctx context.Context, idOrCode string) (domain.Course, error) {
	filter := bson.M{"code": idOrCode}
	if id, err := primitive.ObjectIDFromHex(idOrCode); err == nil {
		filter = bson.M{"_id": id}
	}
	var c domain.Course
	if err := s.courses.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Course{}, store.ErrNotFound
		}
		return domain.Course{}, err
	}
	return c, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]domain.Course, error) {
	cursor, err := s.courses.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var courses []domain.Course
	if err := cursor.All(ctx, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

func (s *Store) GetSeatConfig(ctx context.Context, courseID primitive.ObjectID) (domain.SeatConfig, error) {
	var cfg domain.SeatConfig
	err := s.seatConfigs.FindOne(ctx, bson.M{"course_id": courseID}).Decode(&cfg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SeatConfig{}, store.ErrNotFound
		}
		return domain.SeatConfig{}, err
	}
	return cfg, nil
}

func (s *Store) ListActiveBookings(ctx context.Context, courseID primitive.ObjectID) ([]domain.SeatBooking, error) {
	cursor, err := s.bookings.Find(ctx, bson.M{"course_id": courseID, "active": true})
	if err != nil {
		return nil, err
	}
	var bookings []domain.SeatBooking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *Store) ListWaitlistEntries(ctx context.Context, courseID primitive.ObjectID) ([]domain.WaitlistEntry, error) {
	cursor, err := s.waitlist.Find(ctx, bson.M{"course_id": courseID})
	if err != nil {
		return nil, err
	}
	var entries []domain.WaitlistEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListStudentBookings(ctx context.Context, studentID string) ([]domain.SeatBooking, error) {
	cursor, err := s.bookings.Find(ctx, bson.M{"student_id": studentID, "active": true})
	if err != nil {
		return nil, err
	}
	var bookings []domain.SeatBooking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *Store) ListStudentWaitlistEntries(ctx context.Context, studentID string) ([]domain.WaitlistEntry, error) {
	cursor, err := s.waitlist.Find(ctx, bson.M{
		"student_id": studentID,
		"status":     bson.M{"$nin": []domain.WaitlistStatus{domain.WaitlistAllocated, domain.WaitlistExpired, domain.WaitlistCancelled}},
	})
	if err != nil {
		return nil, err
	}
	var entries []domain.WaitlistEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetPreferences(ctx context.Context, studentID string) ([]domain.CoursePreference, error) {
	cursor, err := s.preferences.Find(ctx, bson.M{"student_id": studentID})
	if err != nil {
		return nil, err
	}
	var prefs []domain.CoursePreference
	if err := cursor.All(ctx, &prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

func (s *Store) ReplacePreferences(ctx context.Context, studentID string, prefs []domain.CoursePreference) error {
	_, err := s.preferences.DeleteMany(ctx, bson.M{"student_id": studentID})
	if err != nil {
		return err
	}
	if len(prefs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(prefs))
	for i, p := range prefs {
		docs[i] = p
	}
	_, err = s.preferences.InsertMany(ctx, docs)
	return err
}

// Commit applies tx inside a session transaction, so a reader never
// observes a partial course update.
func (s *Store) Commit(ctx context.Context, courseID primitive.ObjectID, tx store.Transaction) error {
	if tx.IsEmpty() {
		return nil
	}
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if tx.SeatConfig != nil {
			_, err := s.seatConfigs.ReplaceOne(sessCtx, bson.M{"course_id": courseID}, tx.SeatConfig, options.Replace().SetUpsert(true))
			if err != nil {
				return nil, err
			}
		}
		for _, b := range tx.UpsertBookings {
			if b.ID.IsZero() {
				b.ID = primitive.NewObjectID()
			}
			_, err := s.bookings.ReplaceOne(sessCtx, bson.M{"_id": b.ID}, b, options.Replace().SetUpsert(true))
			if err != nil {
				return nil, err
			}
		}
		for _, e := range tx.UpsertWaitlist {
			if e.ID.IsZero() {
				e.ID = primitive.NewObjectID()
			}
			_, err := s.waitlist.ReplaceOne(sessCtx, bson.M{"_id": e.ID}, e, options.Replace().SetUpsert(true))
			if err != nil {
				return nil, err
			}
		}
		if len(tx.DeleteWaitlistIDs) > 0 {
			_, err := s.waitlist.DeleteMany(sessCtx, bson.M{"_id": bson.M{"$in": tx.DeleteWaitlistIDs}})
			if err != nil {
				return nil, err
			}
		}
		if len(tx.Events) > 0 {
			docs := make([]interface{}, len(tx.Events))
			for i, e := range tx.Events {
				if e.ID.IsZero() {
					e.ID = primitive.NewObjectID()
				}
				docs[i] = e
			}
			if _, err := s.events.InsertMany(sessCtx, docs); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}
