package domain

const (
	TopicSeatStatusChanged = "seat.status_changed"
	TopicBookingConfirmed  = "booking.confirmed"
	TopicBookingCancelled  = "booking.cancelled"
	TopicBookingRefunded   = "booking.refunded"
	TopicShowStatusChanged = "show.status_changed"
	TopicMoviePassExpired  = "moviepass.expired"
)

type SeatState string

const (
	SeatPending   SeatState = "pending"
	SeatBooked    SeatState = "booked"
	SeatAvailable SeatState = "available"
)

type SeatStatusChanged struct {
	ShowID string    `json:"show_id"`
	Seats  []string  `json:"seats"`
	Status SeatState `json:"status"`
	UserID string    `json:"user_id,omitempty"`
}

// BookingNotice is sent once per audience (user, vendor, admin).
type BookingNotice struct {
	Audience  string        `json:"audience"`
	BookingID string        `json:"booking_id"`
	ShowID    string        `json:"show_id"`
	UserID    string        `json:"user_id"`
	VendorID  string        `json:"vendor_id"`
	Seats     []string      `json:"seats"`
	Amount    float64       `json:"amount"`
	Status    BookingStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

type ShowStatusChanged struct {
	ShowID string     `json:"show_id"`
	From   ShowStatus `json:"from"`
	To     ShowStatus `json:"to"`
}

var BookingAudiences = []string{"user", "vendor", "admin"}

// PaymentConfirmed is what the gateway sends once a deferred payment settles.
type PaymentConfirmed struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
}
