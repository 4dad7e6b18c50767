package domain

// LayoutSeat is one physical seat of a screen.
type LayoutSeat struct {
	Number    string       `json:"number"`
	Type      string       `json:"type"`
	Price     float64      `json:"price"`
	Position  SeatPosition `json:"position"`
	Available bool         `json:"available"`
}

type SeatLayout struct {
	ScreenID string       `json:"screen_id"`
	Capacity int          `json:"capacity"`
	Seats    []LayoutSeat `json:"seats"`
}

func (l *SeatLayout) Seat(number string) (LayoutSeat, bool) {
	for _, s := range l.Seats {
		if s.Number == number {
			return s, true
		}
	}
	return LayoutSeat{}, false
}
