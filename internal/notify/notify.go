// Package notify delivers alert messages to salon notification channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxzi/sendry-lab/internal/models"
)

var (
	ErrUnsupportedChannel   = errors.New("unsupported notification channel")
	ErrChannelNotConfigured = errors.New("notification channel not configured")
)

// Message is a rendered notification for a single destination
type Message struct {
	Destination string
	Channel     string // email, sms
	Subject     string
	Body        string
	HTML        string
}

// Dispatcher sends a message to its destination
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Router dispatches messages by channel
type Router struct {
	email Dispatcher
	sms   Dispatcher
}

// NewRouter creates a router. A nil sender disables its channel.
func NewRouter(email, sms Dispatcher) *Router {
	return &Router{email: email, sms: sms}
}

// Send implements Dispatcher
func (r *Router) Send(ctx context.Context, msg Message) error {
	var d Dispatcher
	switch msg.Channel {
	case models.ChannelEmail:
		d = r.email
	case models.ChannelSMS:
		d = r.sms
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	if d == nil {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, msg.Channel)
	}
	return d.Send(ctx, msg)
}
