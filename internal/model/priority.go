package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority is a content band. Higher values outrank lower ones.
type Priority int

const (
	PriorityUnknown Priority = iota
	PriorityTicker
	PriorityManualOverride
	PrioritySubTrain
	PriorityAlert
)

var priorityNames = map[Priority]string{
	PriorityTicker:         "ticker",
	PriorityManualOverride: "manual_override",
	PrioritySubTrain:       "sub_train",
	PriorityAlert:          "alert",
}

// InterruptBands lists the bands held by the interrupt stack, highest first.
var InterruptBands = []Priority{PriorityAlert, PrioritySubTrain, PriorityManualOverride}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the four known bands.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// IsInterrupt reports whether items of this band go through the interrupt stack.
func (p Priority) IsInterrupt() bool {
	return p.Valid() && p != PriorityTicker
}

// ParsePriority maps a band name onto its Priority.
func ParsePriority(s string) (Priority, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == key {
			return p, nil
		}
	}
	return PriorityUnknown, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be a string: %w", err)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Priority) MarshalYAML() (any, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return p.String(), nil
}

func (p *Priority) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
