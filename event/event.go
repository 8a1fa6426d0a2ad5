package event

import (
	"fmt"
	"time"
)

// Type identifies the kind of normalized account event delivered to the engine.
type Type string

const (
	TradeClosed     Type = "trade_closed"
	PositionOpened  Type = "position_opened"
	PositionUpdated Type = "position_updated"
	PositionClosed  Type = "position_closed"
	OrderPlaced     Type = "order_placed"
	OrderFilled     Type = "order_filled"
	QuoteUpdated    Type = "quote_updated"
)

// Severity tags an event for downstream filtering. It carries no engine
// semantics; rules decide what matters.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RiskEvent is a normalized account event. The connectivity layer maps venue
// payloads into this shape before publishing; the engine and rules never see
// raw venue formats. Events are immutable once published.
type RiskEvent struct {
	Type      Type
	Time      time.Time
	AccountID string
	Payload   map[string]any
	Severity  Severity
}

// Float extracts a numeric payload field. Missing or non-numeric fields are
// boundary errors, never silently defaulted.
func (e RiskEvent) Float(key string) (float64, error) {
	v, ok := e.Payload[key]
	if !ok {
		return 0, fmt.Errorf("event %s: missing payload field %q", e.Type, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("event %s: payload field %q is %T, want number", e.Type, key, v)
}

// Int extracts an integer payload field.
func (e RiskEvent) Int(key string) (int, error) {
	f, err := e.Float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String extracts a string payload field.
func (e RiskEvent) String(key string) (string, error) {
	v, ok := e.Payload[key]
	if !ok {
		return "", fmt.Errorf("event %s: missing payload field %q", e.Type, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("event %s: payload field %q is %T, want string", e.Type, key, v)
	}
	return s, nil
}
