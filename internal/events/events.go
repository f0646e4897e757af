package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the name of a push event on the wire.
type Kind string

// Event kinds
const (
	KindPaymentConfirmed    Kind = "payment_confirmed"
	KindPaymentExpired      Kind = "payment_expired"
	KindNotificationCreated Kind = "notification_created"
	KindNotificationUpdated Kind = "notification_updated"
)

// NotificationKinds are the refresh triggers for the notification feed.
var NotificationKinds = []Kind{KindNotificationCreated, KindNotificationUpdated}

var ErrUnknownEvent = errors.New("unknown event kind")

// Event is one of PaymentConfirmed, PaymentExpired or NotificationChanged.
type Event interface {
	Kind() Kind
	isEvent()
}

type PaymentConfirmed struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
}

func (PaymentConfirmed) Kind() Kind { return KindPaymentConfirmed }
func (PaymentConfirmed) isEvent()   {}

type PaymentExpired struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
}

func (PaymentExpired) Kind() Kind { return KindPaymentExpired }
func (PaymentExpired) isEvent()   {}

// NotificationChanged carries the kind it arrived under, since both
// notification kinds decode into it.
type NotificationChanged struct {
	Name           Kind   `json:"-"`
	NotificationID string `json:"id,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
}

func (e NotificationChanged) Kind() Kind { return e.Name }
func (NotificationChanged) isEvent()     {}

// Envelope is the wire frame shared by every transport.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode wraps an event into its wire frame.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.Kind(), Data: data})
}

// Decode parses a wire frame into a typed event.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Decode()
}

func (env Envelope) Decode() (Event, error) {
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	switch env.Event {
	case KindPaymentConfirmed:
		var ev PaymentConfirmed
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.TransactionID == "" {
			return nil, fmt.Errorf("decode %s: missing transactionId", env.Event)
		}
		return ev, nil
	case KindPaymentExpired:
		var ev PaymentExpired
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ev, nil
	case KindNotificationCreated, KindNotificationUpdated:
		ev := NotificationChanged{Name: env.Event}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// TerminalChannel is the pub/sub channel carrying events for one subject.
func TerminalChannel(subject string) string {
	return "events:terminal:" + subject
}

// TerminalChannelPattern matches every TerminalChannel.
const TerminalChannelPattern = "events:terminal:*"

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(channel string, env Envelope)) error
}

// SubjectFromChannel returns the subject of a TerminalChannel, or false
// for any other channel.
func SubjectFromChannel(channel string) (string, bool) {
	subject, ok := strings.CutPrefix(channel, "events:terminal:")
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}
