package stats

import (
	"github.com/foxzi/sendry-lab/internal/models"
)

// Counters is the normalized counter set of a variant
type Counters struct {
	Sent         int `json:"sent_count"`
	Delivered    int `json:"delivered_count"`
	Opened       int `json:"open_count"`
	Clicked      int `json:"click_count"`
	Conversions  int `json:"conversion_count"`
	Bounced      int `json:"bounce_count"`
	Participants int `json:"participant_count"`
}

// Rates holds percentages derived from Counters
type Rates struct {
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}

// FromDeliveries counts raw delivery records.
// Participants is the number of distinct customers.
func FromDeliveries(records []models.DeliveryRecord) Counters {
	var c Counters
	customers := make(map[string]struct{})

	for i := range records {
		r := &records[i]

		switch r.Status {
		case models.DeliveryQueued, models.DeliveryFailed:
		default:
			c.Sent++
		}
		if r.Status == models.DeliveryDelivered || r.Engaged() {
			c.Delivered++
		}
		if r.Status == models.DeliveryBounced {
			c.Bounced++
		}
		if r.OpenedAt != nil {
			c.Opened++
		}
		if r.ClickedAt != nil {
			c.Clicked++
		}
		if r.BookingID != "" {
			c.Conversions++
		}
		if r.CustomerID != "" {
			customers[r.CustomerID] = struct{}{}
		}
	}

	c.Participants = len(customers)
	return c
}

// FromSnapshots aggregates daily snapshots. Counters are summed except
// Participants, which is a per-day distinct count and takes the maximum.
func FromSnapshots(snapshots []models.MetricSnapshot) Counters {
	var c Counters
	for _, s := range snapshots {
		c.Sent += s.Sent
		c.Delivered += s.Delivered
		c.Opened += s.Opened
		c.Clicked += s.Clicked
		c.Conversions += s.Conversions
		c.Bounced += s.Bounced
		if s.Participants > c.Participants {
			c.Participants = s.Participants
		}
	}
	return c
}

// Add merges two counter sets with the same rules as FromSnapshots
func (c Counters) Add(o Counters) Counters {
	c.Sent += o.Sent
	c.Delivered += o.Delivered
	c.Opened += o.Opened
	c.Clicked += o.Clicked
	c.Conversions += o.Conversions
	c.Bounced += o.Bounced
	if o.Participants > c.Participants {
		c.Participants = o.Participants
	}
	return c
}

// Rates derives open, click and conversion rates over delivered messages
func (c Counters) Rates() Rates {
	return Rates{
		OpenRate:       Percent(c.Opened, c.Delivered),
		ClickRate:      Percent(c.Clicked, c.Delivered),
		ConversionRate: Percent(c.Conversions, c.Delivered),
	}
}

// BounceRate is bounced over sent, in percent
func (c Counters) BounceRate() float64 {
	return Percent(c.Bounced, c.Sent)
}

// Sample returns the z-test input for these counters
func (c Counters) Sample() Sample {
	return Sample{Delivered: c.Delivered, Conversions: c.Conversions}
}

// Snapshot converts counters into a snapshot row for variantID on date
func (c Counters) Snapshot(variantID, date string) models.MetricSnapshot {
	return models.MetricSnapshot{
		VariantID:    variantID,
		Date:         date,
		Sent:         c.Sent,
		Delivered:    c.Delivered,
		Opened:       c.Opened,
		Clicked:      c.Clicked,
		Conversions:  c.Conversions,
		Bounced:      c.Bounced,
		Participants: c.Participants,
	}
}

// Percent returns part/whole*100, or 0 when whole is 0
func Percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
