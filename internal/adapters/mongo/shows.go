package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxHoldAttempts bounds the optimistic loop in PlaceHold. A retry only
// happens when the blocking entries turned out to be expired pending holds.
const maxHoldAttempts = 3

// ShowStore keeps shows with their seat holds embedded, so that every hold
// mutation is a single-document atomic update.
type ShowStore struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewShowStore(db *mongo.Database, logger observability.Logger) *ShowStore {
	return &ShowStore{
		coll:   db.Collection("shows"),
		logger: logger,
	}
}

type ShowDoc struct {
	ID        string        `bson:"_id"`
	MovieID   string        `bson:"movieId"`
	TheaterID string        `bson:"theaterId"`
	ScreenID  string        `bson:"screenId"`
	VendorID  string        `bson:"vendorId"`
	Status    string        `bson:"status"`
	StartTime time.Time     `bson:"startTime"`
	EndTime   time.Time     `bson:"endTime"`
	ShowDate  time.Time     `bson:"showDate"`
	SeatHolds []SeatHoldDoc `bson:"seatHolds"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

type SeatHoldDoc struct {
	SeatNumber string    `bson:"seatNumber"`
	SeatPrice  float64   `bson:"seatPrice"`
	Type       string    `bson:"type"`
	Row        string    `bson:"row"`
	Column     int       `bson:"column"`
	UserID     string    `bson:"userId"`
	BookingID  string    `bson:"bookingId"`
	PlacedAt   time.Time `bson:"placedAt"`
	IsPending  bool      `bson:"isPending"`
}

// unpinned matches entries no booking has claimed, including documents
// written before bookingId existed.
var unpinned = bson.M{"$in": bson.A{nil, ""}}

func (d *ShowDoc) toDomain() *domain.Show {
	show := &domain.Show{
		ID:        d.ID,
		MovieID:   d.MovieID,
		TheaterID: d.TheaterID,
		ScreenID:  d.ScreenID,
		VendorID:  d.VendorID,
		Status:    domain.ShowStatus(d.Status),
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
		ShowDate:  d.ShowDate,
		SeatHolds: make([]domain.SeatHold, 0, len(d.SeatHolds)),
	}
	for _, h := range d.SeatHolds {
		show.SeatHolds = append(show.SeatHolds, h.toDomain())
	}
	return show
}

func (h SeatHoldDoc) toDomain() domain.SeatHold {
	return domain.SeatHold{
		SeatNumber: h.SeatNumber,
		SeatPrice:  h.SeatPrice,
		Type:       h.Type,
		Position:   domain.SeatPosition{Row: h.Row, Column: h.Column},
		UserID:     h.UserID,
		BookingID:  h.BookingID,
		PlacedAt:   h.PlacedAt,
		IsPending:  h.IsPending,
	}
}

func holdDoc(h domain.SeatHold) SeatHoldDoc {
	return SeatHoldDoc{
		SeatNumber: h.SeatNumber,
		SeatPrice:  h.SeatPrice,
		Type:       h.Type,
		Row:        h.Position.Row,
		Column:     h.Position.Column,
		UserID:     h.UserID,
		BookingID:  h.BookingID,
		PlacedAt:   h.PlacedAt,
		IsPending:  h.IsPending,
	}
}

// InsertShow stores a new show. Show management lives elsewhere; this exists
// for seeding and tests.
func (s *ShowStore) InsertShow(ctx context.Context, show domain.Show) error {
	now := time.Now().UTC()
	doc := ShowDoc{
		ID:        show.ID,
		MovieID:   show.MovieID,
		TheaterID: show.TheaterID,
		ScreenID:  show.ScreenID,
		VendorID:  show.VendorID,
		Status:    string(show.Status),
		StartTime: show.StartTime,
		EndTime:   show.EndTime,
		ShowDate:  show.ShowDate,
		SeatHolds: []SeatHoldDoc{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, h := range show.SeatHolds {
		doc.SeatHolds = append(doc.SeatHolds, holdDoc(h))
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		s.logger.Error("failed to insert show", err)
		return domain.StorageErr(err, "insert show")
	}
	return nil
}

func (s *ShowStore) GetShow(ctx context.Context, showID string) (*domain.Show, error) {
	var doc ShowDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": showID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageErr(err, "get show")
	}
	return doc.toDomain(), nil
}

// PlaceHold pushes all holds in one conditional update guarded by "none of
// these seat numbers has an entry". Expired pending entries for the requested
// seats are pulled first so they never block a new hold.
func (s *ShowStore) PlaceHold(ctx context.Context, showID string, holds []domain.SeatHold, now time.Time, ttl time.Duration) ([]domain.SeatHold, error) {
	seats := make([]string, 0, len(holds))
	seen := make(map[string]bool, len(holds))
	docs := make([]SeatHoldDoc, 0, len(holds))
	placed := make([]domain.SeatHold, 0, len(holds))
	placedAt := now.UTC().Truncate(time.Millisecond)
	for _, h := range holds {
		if seen[h.SeatNumber] {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "seat %s requested twice", h.SeatNumber)
		}
		seen[h.SeatNumber] = true
		seats = append(seats, h.SeatNumber)
		h.PlacedAt = placedAt
		h.IsPending = true
		placed = append(placed, h)
		docs = append(docs, holdDoc(h))
	}
	cutoff := now.Add(-ttl).UTC()

	for attempt := 1; attempt <= maxHoldAttempts; attempt++ {
		_, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": showID},
			bson.M{"$pull": bson.M{"seatHolds": bson.M{
				"seatNumber": bson.M{"$in": seats},
				"isPending":  true,
				"placedAt":   bson.M{"$lte": cutoff},
			}}},
		)
		if err != nil {
			return nil, domain.StorageErr(err, "pull expired holds")
		}

		res, err := s.coll.UpdateOne(ctx,
			bson.M{
				"_id":                  showID,
				"status":               string(domain.ShowScheduled),
				"seatHolds.seatNumber": bson.M{"$nin": seats},
			},
			bson.M{
				"$push": bson.M{"seatHolds": bson.M{"$each": docs}},
				"$set":  bson.M{"updatedAt": now.UTC()},
			},
		)
		if err != nil {
			return nil, domain.StorageErr(err, "push holds")
		}
		if res.MatchedCount == 1 {
			return placed, nil
		}

		show, err := s.GetShow(ctx, showID)
		if err != nil {
			return nil, err
		}
		if !show.Bookable() {
			return nil, domain.ErrShowNotBookable
		}
		if taken := show.Conflicts(seats, now, ttl); len(taken) > 0 {
			return nil, domain.NewSeatConflict("", taken...)
		}
		observability.HoldCASRetries.Inc()
		s.logger.WithField("show_id", showID).WithField("attempt", attempt).Debug("hold blocked by lapsed entry, retrying")
	}
	return nil, domain.NewSeatConflict("contended, try again", seats...)
}

func (s *ShowStore) ExtendHold(ctx context.Context, showID, userID, bookingID string, seatNumbers []string, cutoff, placedAt time.Time) ([]string, error) {
	if bookingID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking id is required")
	}
	at := placedAt.UTC().Truncate(time.Millisecond)
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{
				"h.seatNumber": bson.M{"$in": seatNumbers},
				"h.userId":     userID,
				"h.isPending":  true,
				"h.placedAt":   bson.M{"$gt": cutoff.UTC()},
				"h.bookingId":  bson.M{"$in": bson.A{nil, "", bookingID}},
			}},
		})
	var after ShowDoc
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": showID},
		bson.M{"$set": bson.M{
			"seatHolds.$[h].placedAt":  at,
			"seatHolds.$[h].bookingId": bookingID,
			"updatedAt":                time.Now().UTC(),
		}},
		opts,
	).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageErr(err, "extend holds")
	}
	var extended []string
	for _, h := range after.SeatHolds {
		if h.UserID == userID && h.BookingID == bookingID && h.IsPending && h.PlacedAt.Equal(at) && contains(seatNumbers, h.SeatNumber) {
			extended = append(extended, h.SeatNumber)
		}
	}
	return extended, nil
}

// ConfirmHold flips the entries pinned to bookingID and reads the after-image
// to report which requested seats the booking actually owns.
func (s *ShowStore) ConfirmHold(ctx context.Context, showID, userID, bookingID string, seatNumbers []string) ([]string, error) {
	if bookingID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking id is required")
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{
				"h.seatNumber": bson.M{"$in": seatNumbers},
				"h.userId":     userID,
				"h.bookingId":  bookingID,
			}},
		})
	var after ShowDoc
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": showID},
		bson.M{"$set": bson.M{"seatHolds.$[h].isPending": false, "updatedAt": time.Now().UTC()}},
		opts,
	).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageErr(err, "confirm holds")
	}
	var confirmed []string
	for _, h := range after.SeatHolds {
		if h.UserID == userID && h.BookingID == bookingID && !h.IsPending && contains(seatNumbers, h.SeatNumber) {
			confirmed = append(confirmed, h.SeatNumber)
		}
	}
	return confirmed, nil
}

func (s *ShowStore) ReleaseHold(ctx context.Context, showID string, seatNumbers []string, userID string) ([]string, error) {
	return s.pull(ctx, showID, bson.M{
		"seatNumber": bson.M{"$in": seatNumbers},
		"userId":     userID,
		"isPending":  true,
		"bookingId":  unpinned,
	}, func(h SeatHoldDoc) bool {
		return h.UserID == userID && h.IsPending && h.BookingID == "" && contains(seatNumbers, h.SeatNumber)
	})
}

func (s *ShowStore) ReleaseBookingHolds(ctx context.Context, showID, bookingID string) ([]string, error) {
	if bookingID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "booking id is required")
	}
	return s.pull(ctx, showID, bson.M{"bookingId": bookingID}, func(h SeatHoldDoc) bool {
		return h.BookingID == bookingID
	})
}

func (s *ShowStore) ReleaseExpiredHolds(ctx context.Context, showID string, olderThan time.Time) ([]string, error) {
	cutoff := olderThan.UTC()
	return s.pull(ctx, showID, bson.M{
		"isPending": true,
		"placedAt":  bson.M{"$lte": cutoff},
	}, func(h SeatHoldDoc) bool {
		return h.IsPending && !h.PlacedAt.After(cutoff)
	})
}

// pull removes matching entries and reports which seats they held, using the
// pre-image of the same atomic update.
func (s *ShowStore) pull(ctx context.Context, showID string, cond bson.M, match func(SeatHoldDoc) bool) ([]string, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var before ShowDoc
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": showID},
		bson.M{"$pull": bson.M{"seatHolds": cond}},
		opts,
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageErr(err, "pull holds")
	}
	var released []string
	for _, h := range before.SeatHolds {
		if match(h) {
			released = append(released, h.SeatNumber)
		}
	}
	return released, nil
}

func (s *ShowStore) TransitionStatus(ctx context.Context, showID string, from, to domain.ShowStatus) (bool, error) {
	domain.MustTransition(from, to)
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": showID, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, domain.StorageErr(err, "transition show status")
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": showID})
	if err != nil {
		return false, domain.StorageErr(err, "count show")
	}
	if n == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
