package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the type-specific body of a ContentItem. The concrete type is
// selected by ContentItem.Type through DecodePayload.
type Payload interface {
	Kind() PayloadKind
	Validate() error
}

type PayloadKind string

const (
	PayloadAlert          PayloadKind = "alert"
	PayloadSubTrain       PayloadKind = "sub_train"
	PayloadManualOverride PayloadKind = "manual_override"
	PayloadTicker         PayloadKind = "ticker"
)

var contentTypeKinds = map[string]PayloadKind{
	"alert":             PayloadAlert,
	"cheer_alert":       PayloadAlert,
	"follow_alert":      PayloadAlert,
	"raid_alert":        PayloadAlert,
	"sub_alert":         PayloadAlert,
	"sub_train":         PayloadSubTrain,
	"manual_override":   PayloadManualOverride,
	"ticker":            PayloadTicker,
	"emote_stats":       PayloadTicker,
	"recent_follows":    PayloadTicker,
	"ironmon_run_stats": PayloadTicker,
	"stream_goals":      PayloadTicker,
}

// KindForType returns the payload kind used for a content type.
func KindForType(contentType string) (PayloadKind, bool) {
	kind, ok := contentTypeKinds[strings.ToLower(contentType)]
	return kind, ok
}

type AlertPayload struct {
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Amount   int    `json:"amount,omitempty"`
}

func (AlertPayload) Kind() PayloadKind { return PayloadAlert }

func (p AlertPayload) Validate() error {
	if p.Title == "" && p.Message == "" {
		return fmt.Errorf("%w: alert needs a title or message", ErrInvalidPayload)
	}
	if p.Amount < 0 {
		return fmt.Errorf("%w: alert amount must be >= 0, got %d", ErrInvalidPayload, p.Amount)
	}
	return nil
}

type SubTrainPayload struct {
	Count            int    `json:"count"`
	LatestSubscriber string `json:"latest_subscriber,omitempty"`
	Tier             string `json:"tier,omitempty"`
}

func (SubTrainPayload) Kind() PayloadKind { return PayloadSubTrain }

func (p SubTrainPayload) Validate() error {
	if p.Count < 1 {
		return fmt.Errorf("%w: sub_train count must be >= 1, got %d", ErrInvalidPayload, p.Count)
	}
	return nil
}

type ManualOverridePayload struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

func (ManualOverridePayload) Kind() PayloadKind { return PayloadManualOverride }

func (p ManualOverridePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: manual_override needs a title", ErrInvalidPayload)
	}
	return nil
}

type TickerPayload struct {
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func (TickerPayload) Kind() PayloadKind { return PayloadTicker }

func (p TickerPayload) Validate() error {
	if p.Text == "" && len(p.Data) == 0 {
		return fmt.Errorf("%w: ticker item needs text or data", ErrInvalidPayload)
	}
	return nil
}

// DecodePayload decodes raw JSON into the payload type registered for
// contentType and validates it.
func DecodePayload(contentType string, raw json.RawMessage) (Payload, error) {
	kind, ok := KindForType(contentType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidPayload, contentType)
	}

	var p Payload
	switch kind {
	case PayloadAlert:
		var v AlertPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case PayloadSubTrain:
		var v SubTrainPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case PayloadManualOverride:
		var v ManualOverridePayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case PayloadTicker:
		var v TickerPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
