package models

import "time"

// Template is a salon's base message template
type Template struct {
	ID        string    `json:"id"`
	SalonID   string    `json:"salon_id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Channel   string    `json:"channel"` // email, sms
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VariantRule describes a transformation used to generate variants
type VariantRule struct {
	ID             string            `json:"id"`
	SalonID        string            `json:"salon_id"`
	Name           string            `json:"name"`
	TestType       TestType          `json:"test_type"`
	Transformation string            `json:"transformation"`
	Params         map[string]string `json:"params,omitempty"`
	Priority       int               `json:"priority"` // 1..10, higher first
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
