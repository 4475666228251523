package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

// SubmitRequest is a candidate content item as producers send it.
type SubmitRequest struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Priority   string          `json:"priority_level,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DurationMs *int64          `json:"duration_ms,omitempty"`
	Preempt    bool            `json:"preempt,omitempty"`
}

var kindPriority = map[model.PayloadKind]model.Priority{
	model.PayloadAlert:          model.PriorityAlert,
	model.PayloadSubTrain:       model.PrioritySubTrain,
	model.PayloadManualOverride: model.PriorityManualOverride,
	model.PayloadTicker:         model.PriorityTicker,
}

// maxDurationMs is the largest duration_ms that fits in a time.Duration.
const maxDurationMs = math.MaxInt64 / int64(time.Millisecond)

// buildItem validates a request and turns it into a pending item. The band
// is fixed by the content type; an explicit priority must agree with it.
func buildItem(req SubmitRequest, cfg model.Config, now time.Time) (*model.ContentItem, error) {
	contentType := strings.ToLower(strings.TrimSpace(req.Type))
	kind, ok := model.KindForType(contentType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown content type %q", model.ErrInvalidPayload, req.Type)
	}

	prio := kindPriority[kind]
	if req.Priority != "" {
		p, err := model.ParsePriority(req.Priority)
		if err != nil {
			return nil, err
		}
		if p != prio {
			return nil, fmt.Errorf("%w: %s content belongs to band %s, got %s", model.ErrInvalidPriority, contentType, prio, p)
		}
	}

	payload, err := model.DecodePayload(contentType, req.Payload)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id, err = model.GenerateID(model.IDTypeContent)
		if err != nil {
			return nil, err
		}
	}

	duration := cfg.DefaultDuration(prio)
	if req.DurationMs != nil {
		if *req.DurationMs < 0 || *req.DurationMs > maxDurationMs {
			return nil, fmt.Errorf("%w: duration_ms must be between 0 and %d, got %d", model.ErrInvalidPayload, maxDurationMs, *req.DurationMs)
		}
		duration = time.Duration(*req.DurationMs) * time.Millisecond
	}
	if prio == model.PriorityTicker {
		duration = 0
	}

	return &model.ContentItem{
		ID:        id,
		Type:      contentType,
		Priority:  prio,
		Payload:   payload,
		Duration:  duration,
		CreatedAt: now,
		Status:    model.StatusPending,
		Preempt:   req.Preempt,
	}, nil
}

// seedItems builds the configured initial ticker rotation.
func seedItems(cfg model.Config, now time.Time) ([]*model.ContentItem, error) {
	var items []*model.ContentItem
	for i, seed := range cfg.Ticker.Items {
		raw, err := json.Marshal(model.TickerPayload{Text: seed.Text, Data: seed.Data})
		if err != nil {
			return nil, fmt.Errorf("ticker item %d: %w", i, err)
		}
		typ := seed.Type
		if typ == "" {
			typ = "ticker"
		}
		item, err := buildItem(SubmitRequest{
			ID:       seed.ID,
			Type:     typ,
			Priority: model.PriorityTicker.String(),
			Payload:  raw,
		}, cfg, now)
		if err != nil {
			return nil, fmt.Errorf("ticker item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}
