package api

import "time"

// Event is an event row as served by the remote API.
type Event struct {
	ID           string    `json:"_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	EventType    string    `json:"eventType"`
	Location     string    `json:"location"`
	ThumbnailURL string    `json:"thumbnail"`
	EventDate    time.Time `json:"eventDate"`
	CreatorEmail string    `json:"creatorEmail"`
	FeeCents     int64     `json:"feeCents"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EventInput is the payload for creating or updating an event.
type EventInput struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	EventType    string    `json:"eventType"`
	Location     string    `json:"location"`
	ThumbnailURL string    `json:"thumbnail"`
	EventDate    time.Time `json:"eventDate"`
	CreatorEmail string    `json:"creatorEmail"`
	FeeCents     int64     `json:"feeCents"`
}

// JoinedEvent links a participant to an event.
type JoinedEvent struct {
	Event    Event     `json:"event"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joinedAt"`
}

// UserRecord is a profile row in the remote user store.
type UserRecord struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
	Role     string `json:"role"`
	Admin    bool   `json:"admin"`
	Status   string `json:"status"`
}

// UserProfile is the payload registering a newly created identity.
type UserProfile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// Donation is a recorded donation with its payment outcome.
type Donation struct {
	ID            string    `json:"_id,omitempty"`
	Email         string    `json:"email"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AdminStats summarizes the platform for the admin dashboard.
type AdminStats struct {
	TotalUsers     int64 `json:"totalUsers"`
	TotalEvents    int64 `json:"totalEvents"`
	TotalDonations int64 `json:"totalDonations"`
	DonatedCents   int64 `json:"donatedCents"`
}

// RecentJoin is one row of the recent participation feed.
type RecentJoin struct {
	Email      string    `json:"email"`
	EventID    string    `json:"eventId"`
	EventTitle string    `json:"eventTitle"`
	JoinedAt   time.Time `json:"joinedAt"`
}
