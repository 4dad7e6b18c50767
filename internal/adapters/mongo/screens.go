package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const seatUnavailable = "Unavailable"

// ScreenLayouts reads seat layouts of screens.
type ScreenLayouts struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewScreenLayouts(db *mongo.Database, logger observability.Logger) *ScreenLayouts {
	return &ScreenLayouts{
		coll:   db.Collection("screens"),
		logger: logger,
	}
}

type ScreenDoc struct {
	ID        string    `bson:"_id"`
	TheaterID string    `bson:"theaterId"`
	Name      string    `bson:"name"`
	Capacity  int       `bson:"capacity"`
	Seats     []SeatDoc `bson:"seats"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type SeatDoc struct {
	Number string  `bson:"number"`
	Row    string  `bson:"row"`
	Column int     `bson:"column"`
	Type   string  `bson:"type"`
	Price  float64 `bson:"price"`
	Status string  `bson:"status"`
}

func (c *ScreenLayouts) FindLayoutForScreen(ctx context.Context, screenID string) (*domain.SeatLayout, error) {
	var screen ScreenDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": screenID}).Decode(&screen)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get screen", err)
		return nil, domain.StorageErr(err, "get screen")
	}

	layout := &domain.SeatLayout{
		ScreenID: screen.ID,
		Capacity: screen.Capacity,
		Seats:    make([]domain.LayoutSeat, 0, len(screen.Seats)),
	}
	for _, s := range screen.Seats {
		layout.Seats = append(layout.Seats, domain.LayoutSeat{
			Number:    s.Number,
			Type:      s.Type,
			Price:     s.Price,
			Position:  domain.SeatPosition{Row: s.Row, Column: s.Column},
			Available: s.Status != seatUnavailable,
		})
	}
	if layout.Capacity == 0 {
		layout.Capacity = len(layout.Seats)
	}
	return layout, nil
}

// CreateScreen stores a screen layout; used for seeding and tests.
func (c *ScreenLayouts) CreateScreen(ctx context.Context, screen ScreenDoc) error {
	screen.CreatedAt = time.Now()
	screen.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, screen)
	if err != nil {
		c.logger.Error("failed to create screen", err)
		return domain.StorageErr(err, "create screen")
	}
	return nil
}
