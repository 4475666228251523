package model

import "time"

type Layer string

const (
	LayerForeground Layer = "foreground"
	LayerMidground  Layer = "midground"
	LayerBackground Layer = "background"
)

// AllLayers lists layers front to back.
var AllLayers = []Layer{LayerForeground, LayerMidground, LayerBackground}

type LayerState string

const (
	LayerStateActive LayerState = "active"
	LayerStateHidden LayerState = "hidden"
)

type LayerSlot struct {
	State   LayerState   `json:"state"`
	Content *ContentItem `json:"content,omitempty"`
}

// HiddenSlot is an empty layer.
func HiddenSlot() LayerSlot {
	return LayerSlot{State: LayerStateHidden}
}

// ShowingSlot is a layer displaying item.
func ShowingSlot(item *ContentItem) LayerSlot {
	if item == nil {
		return HiddenSlot()
	}
	return LayerSlot{State: LayerStateActive, Content: item}
}

type Layers struct {
	Foreground LayerSlot `json:"foreground"`
	Midground  LayerSlot `json:"midground"`
	Background LayerSlot `json:"background"`
}

// Slot returns the slot for layer l.
func (ls Layers) Slot(l Layer) LayerSlot {
	switch l {
	case LayerForeground:
		return ls.Foreground
	case LayerMidground:
		return ls.Midground
	default:
		return ls.Background
	}
}

// ContentID returns the id shown on layer l, or "".
func (ls Layers) ContentID(l Layer) string {
	if c := ls.Slot(l).Content; c != nil {
		return c.ID
	}
	return ""
}

// Snapshot is the authoritative, versioned view of what is on screen.
// Snapshots are built fresh for every version and never mutated afterwards.
type Snapshot struct {
	CurrentShow    string         `json:"current_show"`
	Layers         Layers         `json:"layers"`
	ActiveContent  *ContentItem   `json:"active_content,omitempty"`
	InterruptStack []*ContentItem `json:"interrupt_stack"`
	TickerRotation []string       `json:"ticker_rotation"`
	PriorityLevel  Priority       `json:"priority_level"`
	Metrics        QueueMetrics   `json:"metrics"`
	Version        uint64         `json:"version"`
	LastUpdated    time.Time      `json:"last_updated"`
}
