// Package status queries a running daemon and renders its state for the
// terminal.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/uds"
)

type DaemonStatus struct {
	Running     bool   `json:"running"`
	Version     uint64 `json:"version"`
	CurrentShow string `json:"current_show,omitempty"`
	Subscribers int    `json:"subscribers"`
}

// Ping reports whether the daemon behind socketPath answers.
func Ping(ctx context.Context, socketPath string) DaemonStatus {
	var st DaemonStatus
	if err := uds.NewClient(socketPath, 0).Call(ctx, uds.CmdPing, nil, &st); err != nil {
		return DaemonStatus{}
	}
	st.Running = true
	return st
}

// Fetch asks the daemon for its current snapshot.
func Fetch(ctx context.Context, client *uds.Client) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := client.Call(ctx, uds.CmdRequestState, nil, &snap); err != nil {
		return nil, fmt.Errorf("request state: %w", err)
	}
	return &snap, nil
}

// RenderJSON writes snap as indented JSON, the same shape overlays receive.
func RenderJSON(w io.Writer, snap *model.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// Render writes a human-readable view of snap. Remaining display time is
// computed against now.
func Render(w io.Writer, snap *model.Snapshot, now time.Time) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Show:     %s\n", snap.CurrentShow)
	fmt.Fprintf(&b, "Version:  %d\n", snap.Version)
	fmt.Fprintf(&b, "Priority: %s\n", snap.PriorityLevel)
	fmt.Fprintf(&b, "Updated:  %s\n", snap.LastUpdated.UTC().Format(time.RFC3339))

	b.WriteString("\nLayers:\n")
	for _, l := range model.AllLayers {
		slot := snap.Layers.Slot(l)
		if slot.Content == nil {
			fmt.Fprintf(&b, "  %-11s %s\n", l, slot.State)
			continue
		}
		c := slot.Content
		fmt.Fprintf(&b, "  %-11s %-7s %s (%s, %s)\n", l, slot.State, c.ID, c.Type, c.Priority)
	}

	if len(snap.InterruptStack) == 0 {
		b.WriteString("\nInterrupt stack: empty\n")
	} else {
		b.WriteString("\nInterrupt stack:\n")
		fmt.Fprintf(&b, "  %-16s  %-16s  %-16s  %-9s  %s\n", "ID", "TYPE", "BAND", "STATUS", "REMAINING")
		for _, c := range snap.InterruptStack {
			fmt.Fprintf(&b, "  %-16s  %-16s  %-16s  %-9s  %s\n",
				c.ID, c.Type, c.Priority, c.Status, remaining(c, now))
		}
	}

	if len(snap.TickerRotation) == 0 {
		b.WriteString("\nTicker: empty\n")
	} else {
		current := snap.Layers.ContentID(model.LayerBackground)
		ids := make([]string, len(snap.TickerRotation))
		for i, id := range snap.TickerRotation {
			if id == current {
				id += "*"
			}
			ids[i] = id
		}
		fmt.Fprintf(&b, "\nTicker: %s\n", strings.Join(ids, ", "))
	}

	m := snap.Metrics
	fmt.Fprintf(&b, "\nQueue: total=%d pending=%d active=%d avg_wait=%s\n",
		m.TotalItems, m.PendingItems, m.ActiveItems, m.AverageWaitTime)

	_, err := io.WriteString(w, b.String())
	return err
}

func remaining(c *model.ContentItem, now time.Time) string {
	if !c.Bounded() {
		return "unbounded"
	}
	if c.StartedAt == nil {
		return c.Duration.String()
	}
	left := c.StartedAt.Add(c.Duration).Sub(now).Truncate(time.Second)
	if left < 0 {
		left = 0
	}
	return left.String()
}
