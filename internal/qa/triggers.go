package qa

import (
	"sort"

	"github.com/sells-group/promo-cli/internal/model"
)

// Manual-review trigger names written into QA notes.
const (
	TriggerTopN       = "top_n"
	TriggerHighVolume = "high_volume"
	TriggerAllowList  = "allow_list"
)

// Triggers decides which businesses always need a human decision.
type Triggers struct {
	top        map[string]bool
	highVolume int
	allow      map[string]bool
}

// NewTriggers ranks the active masters by review count (ties broken by
// business id) and keeps the first topN. highVolume <= 0 disables the
// volume trigger.
func NewTriggers(masters []model.MasterRecord, topN, highVolume int, allowList []string) *Triggers {
	active := make([]model.MasterRecord, 0, len(masters))
	for _, m := range masters {
		if m.Active() {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].ReviewCount != active[j].ReviewCount {
			return active[i].ReviewCount > active[j].ReviewCount
		}
		return active[i].BusinessID < active[j].BusinessID
	})

	t := &Triggers{
		top:        make(map[string]bool),
		highVolume: highVolume,
		allow:      make(map[string]bool, len(allowList)),
	}
	for i := 0; i < topN && i < len(active); i++ {
		t.top[active[i].BusinessID] = true
	}
	for _, id := range allowList {
		t.allow[id] = true
	}
	return t
}

// Fired returns the names of the triggers that apply to m, in a fixed order.
func (t *Triggers) Fired(m model.MasterRecord) []string {
	var fired []string
	if t.top[m.BusinessID] {
		fired = append(fired, TriggerTopN)
	}
	if t.highVolume > 0 && m.ReviewCount > t.highVolume {
		fired = append(fired, TriggerHighVolume)
	}
	if t.allow[m.BusinessID] {
		fired = append(fired, TriggerAllowList)
	}
	return fired
}
