package layer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func active(id string, band model.Priority, startedOffset time.Duration) *model.ContentItem {
	started := epoch.Add(startedOffset)
	return &model.ContentItem{ID: id, Priority: band, Status: model.StatusActive, StartedAt: &started}
}

func TestAssign(t *testing.T) {
	tick := &model.ContentItem{ID: "t1", Priority: model.PriorityTicker, Status: model.StatusActive}

	tests := []struct {
		name                   string
		active                 []*model.ContentItem
		ticker                 *model.ContentItem
		fg, mg, bg             string
		fgState, mgState, bgSt model.LayerState
	}{
		{
			name:    "nothing",
			fgState: model.LayerStateHidden, mgState: model.LayerStateHidden, bgSt: model.LayerStateHidden,
		},
		{
			name:    "ticker only",
			ticker:  tick,
			bg:      "t1",
			fgState: model.LayerStateHidden, mgState: model.LayerStateHidden, bgSt: model.LayerStateActive,
		},
		{
			name:    "alert over override",
			active:  []*model.ContentItem{active("m1", model.PriorityManualOverride, -5*time.Second), active("a1", model.PriorityAlert, 0)},
			ticker:  tick,
			fg:      "a1",
			mg:      "m1",
			bg:      "t1",
			fgState: model.LayerStateActive, mgState: model.LayerStateActive, bgSt: model.LayerStateActive,
		},
		{
			name: "three bands, lowest not shown",
			active: []*model.ContentItem{
				active("m1", model.PriorityManualOverride, 0),
				active("s1", model.PrioritySubTrain, 0),
				active("a1", model.PriorityAlert, 0),
			},
			fg:      "a1",
			mg:      "s1",
			fgState: model.LayerStateActive, mgState: model.LayerStateActive, bgSt: model.LayerStateHidden,
		},
		{
			name:    "single interrupt leaves midground hidden",
			active:  []*model.ContentItem{active("s1", model.PrioritySubTrain, 0)},
			ticker:  tick,
			fg:      "s1",
			bg:      "t1",
			fgState: model.LayerStateActive, mgState: model.LayerStateHidden, bgSt: model.LayerStateActive,
		},
		{
			name: "same band never fills midground",
			active: []*model.ContentItem{
				active("a1", model.PriorityAlert, 0),
				active("a2", model.PriorityAlert, time.Second),
			},
			fg:      "a2",
			fgState: model.LayerStateActive, mgState: model.LayerStateHidden, bgSt: model.LayerStateHidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assign(tt.active, tt.ticker)
			assert.Equal(t, tt.fg, got.ContentID(model.LayerForeground))
			assert.Equal(t, tt.mg, got.ContentID(model.LayerMidground))
			assert.Equal(t, tt.bg, got.ContentID(model.LayerBackground))
			assert.Equal(t, tt.fgState, got.Foreground.State)
			assert.Equal(t, tt.mgState, got.Midground.State)
			assert.Equal(t, tt.bgSt, got.Background.State)
		})
	}
}

func TestAssignIgnoresInactive(t *testing.T) {
	done := active("a1", model.PriorityAlert, 0)
	done.Status = model.StatusExpired
	got := Assign([]*model.ContentItem{done, active("m1", model.PriorityManualOverride, 0)}, nil)
	assert.Equal(t, "m1", got.ContentID(model.LayerForeground))
	assert.Equal(t, model.LayerStateHidden, got.Midground.State)
}

func TestChanged(t *testing.T) {
	tick := &model.ContentItem{ID: "t1", Priority: model.PriorityTicker, Status: model.StatusActive}
	before := Assign([]*model.ContentItem{active("m1", model.PriorityManualOverride, 0)}, tick)
	after := Assign([]*model.ContentItem{active("m1", model.PriorityManualOverride, 0), active("a1", model.PriorityAlert, 0)}, tick)

	assert.Equal(t, []model.Layer{model.LayerForeground, model.LayerMidground}, Changed(before, after))
	assert.Empty(t, Changed(after, after))
}
