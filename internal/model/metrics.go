package model

import (
	"encoding/json"
	"time"
)

// QueueMetrics is derived from the admission queue; it is recomputed on every
// enqueue, admission and completion.
type QueueMetrics struct {
	TotalItems      int
	PendingItems    int
	ActiveItems     int
	AverageWaitTime time.Duration
	LastProcessed   *time.Time
}

type queueMetricsWire struct {
	TotalItems        int        `json:"total_items"`
	PendingItems      int        `json:"pending_items"`
	ActiveItems       int        `json:"active_items"`
	AverageWaitTimeMS int64      `json:"average_wait_time"`
	LastProcessed     *time.Time `json:"last_processed"`
}

func (m QueueMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(queueMetricsWire{
		TotalItems:        m.TotalItems,
		PendingItems:      m.PendingItems,
		ActiveItems:       m.ActiveItems,
		AverageWaitTimeMS: m.AverageWaitTime.Milliseconds(),
		LastProcessed:     m.LastProcessed,
	})
}

func (m *QueueMetrics) UnmarshalJSON(data []byte) error {
	var w queueMetricsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = QueueMetrics{
		TotalItems:      w.TotalItems,
		PendingItems:    w.PendingItems,
		ActiveItems:     w.ActiveItems,
		AverageWaitTime: time.Duration(w.AverageWaitTimeMS) * time.Millisecond,
		LastProcessed:   w.LastProcessed,
	}
	return nil
}
