package models

import "time"

// DeliveryStatus is the state of a single sent message
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is the raw per-message delivery history row
type DeliveryRecord struct {
	ID         string         `json:"id"`
	SalonID    string         `json:"salon_id"`
	CampaignID string         `json:"campaign_id,omitempty"`
	VariantID  string         `json:"variant_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	CustomerID string         `json:"customer_id,omitempty"`
	Segment    string         `json:"segment,omitempty"`
	Channel    string         `json:"channel"`
	Status     DeliveryStatus `json:"status"`
	Subject    string         `json:"subject,omitempty"`
	SentAt     *time.Time     `json:"sent_at,omitempty"`
	OpenedAt   *time.Time     `json:"opened_at,omitempty"`
	ClickedAt  *time.Time     `json:"clicked_at,omitempty"`
	BookingID  string         `json:"booking_id,omitempty"` // conversion signal
	CreatedAt  time.Time      `json:"created_at"`
}

// Engaged reports whether the message was opened or clicked
func (d *DeliveryRecord) Engaged() bool {
	return d.OpenedAt != nil || d.ClickedAt != nil
}

// DeliveryFilter narrows delivery history queries.
// Zero-valued fields are ignored.
type DeliveryFilter struct {
	SalonID    string
	CampaignID string
	VariantID  string
	TemplateID string
	Segment    string
	Since      time.Time
	Until      time.Time
}

// MetricSnapshot is the per-variant, per-day counter row
type MetricSnapshot struct {
	ID           string    `json:"id"`
	VariantID    string    `json:"variant_id"`
	Date         string    `json:"date"` // YYYY-MM-DD
	Sent         int       `json:"sent_count"`
	Delivered    int       `json:"delivered_count"`
	Opened       int       `json:"open_count"`
	Clicked      int       `json:"click_count"`
	Conversions  int       `json:"conversion_count"`
	Bounced      int       `json:"bounce_count"`
	Participants int       `json:"participant_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SnapshotDateLayout is the calendar day format used for snapshots
const SnapshotDateLayout = "2006-01-02"
