// Package layer maps active interrupts and the ticker onto the three overlay layers.
package layer

import (
	"sort"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

// Assign computes the layer view. The highest-priority active interrupt takes
// the foreground and the next one from a different band takes the midground.
// The background always shows the current ticker item, if any. Unused
// interrupt layers stay hidden; ticker content never fills them.
func Assign(active []*model.ContentItem, tickerCurrent *model.ContentItem) model.Layers {
	ranked := rank(active)

	out := model.Layers{
		Foreground: model.HiddenSlot(),
		Midground:  model.HiddenSlot(),
		Background: model.ShowingSlot(tickerCurrent),
	}
	if len(ranked) > 0 {
		out.Foreground = model.ShowingSlot(ranked[0])
	}
	for _, it := range ranked[min(1, len(ranked)):] {
		if it.Priority != ranked[0].Priority {
			out.Midground = model.ShowingSlot(it)
			break
		}
	}
	return out
}

// rank keeps the most recent active item of each band and orders bands
// highest first.
func rank(active []*model.ContentItem) []*model.ContentItem {
	best := map[model.Priority]*model.ContentItem{}
	for _, it := range active {
		if it == nil || it.Status != model.StatusActive || !it.Priority.IsInterrupt() {
			continue
		}
		cur, ok := best[it.Priority]
		if !ok || startedAfter(it, cur) {
			best[it.Priority] = it
		}
	}
	out := make([]*model.ContentItem, 0, len(best))
	for _, it := range best {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func startedAfter(a, b *model.ContentItem) bool {
	if a.StartedAt == nil || b.StartedAt == nil {
		return a.StartedAt != nil
	}
	return a.StartedAt.After(*b.StartedAt)
}

// Changed lists the layers whose content or visibility differs between two views.
func Changed(prev, next model.Layers) []model.Layer {
	var out []model.Layer
	for _, l := range model.AllLayers {
		p, n := prev.Slot(l), next.Slot(l)
		if p.State != n.State || prev.ContentID(l) != next.ContentID(l) {
			out = append(out, l)
		}
	}
	return out
}
