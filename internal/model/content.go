package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentItem is a unit of displayable content. Everything except Status and
// StartedAt is fixed at creation.
type ContentItem struct {
	ID        string
	Type      string
	Priority  Priority
	Payload   Payload
	Duration  time.Duration // zero means unbounded
	CreatedAt time.Time
	StartedAt *time.Time
	Status    Status

	// Preempt replaces the band's active item instead of waiting behind it.
	Preempt bool
}

// Bounded reports whether the item expires on its own.
func (c *ContentItem) Bounded() bool {
	return c.Duration > 0
}

// Transition moves the item to a new status, stamping StartedAt on activation.
func (c *ContentItem) Transition(to Status, now time.Time) error {
	if err := ValidateContentTransition(c.Status, to); err != nil {
		return fmt.Errorf("item %s: %w", c.ID, err)
	}
	c.Status = to
	if to == StatusActive {
		started := now
		c.StartedAt = &started
	}
	return nil
}

// RanToCompletion reports whether an active bounded item has reached its
// natural end at now.
func (c *ContentItem) RanToCompletion(now time.Time) bool {
	if !c.Bounded() || c.StartedAt == nil {
		return false
	}
	return !now.Before(c.StartedAt.Add(c.Duration))
}

// Clone returns a copy safe to hand to readers outside the orchestrator.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	cp := *c
	if c.StartedAt != nil {
		started := *c.StartedAt
		cp.StartedAt = &started
	}
	return &cp
}

type contentItemWire struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Priority   Priority        `json:"priority_level"`
	Payload    json.RawMessage `json:"payload"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	Status     Status          `json:"status"`
	Preempt    bool            `json:"preempt,omitempty"`
}

func (c ContentItem) MarshalJSON() ([]byte, error) {
	payload := json.RawMessage("null")
	if c.Payload != nil {
		raw, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payload = raw
	}
	return json.Marshal(contentItemWire{
		ID:         c.ID,
		Type:       c.Type,
		Priority:   c.Priority,
		Payload:    payload,
		DurationMS: c.Duration.Milliseconds(),
		CreatedAt:  c.CreatedAt,
		StartedAt:  c.StartedAt,
		Status:     c.Status,
		Preempt:    c.Preempt,
	})
}

func (c *ContentItem) UnmarshalJSON(data []byte) error {
	var w contentItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var payload Payload
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		p, err := DecodePayload(w.Type, w.Payload)
		if err != nil {
			return fmt.Errorf("item %s: %w", w.ID, err)
		}
		payload = p
	}
	*c = ContentItem{
		ID:        w.ID,
		Type:      w.Type,
		Priority:  w.Priority,
		Payload:   payload,
		Duration:  time.Duration(w.DurationMS) * time.Millisecond,
		CreatedAt: w.CreatedAt,
		StartedAt: w.StartedAt,
		Status:    w.Status,
		Preempt:   w.Preempt,
	}
	return nil
}
