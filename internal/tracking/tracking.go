// Package tracking derives the renderable status timeline of a credit-repair
// request from the snapshot returned by the tracking and admin endpoints.
package tracking

import (
	"sort"
	"time"

	"github.com/blockadesystems/creditportal/internal/model"
)

// Stage codes of the canonical catalog.
const (
	StatusGetStarted       = 1
	StatusAuthorizeConnect = 2
	StatusPartnerProcess   = 3
	StatusRepairInProgress = 4
	StatusConfirmDeliver   = 5 // terminal success
	StatusDenied           = 6 // absorbing, shown only when current
)

// AwaitingFirstUpdate is reported when no history entry qualifies as last update.
const AwaitingFirstUpdate = "Awaiting first update."

const displayTimeLayout = "Jan 2, 2006 3:04 PM MST"

// State is the derived display state of one stage.
type State string

const (
	StateCompleted State = "completed"
	StateCurrent   State = "current"
	StatePending   State = "pending"
)

// Stage is a catalog entry with its derived state.
type Stage struct {
	model.StageDefinition
	State State `json:"state"`
	// Latest is the most recent history entry for this code, if any.
	Latest *model.HistoryEntry `json:"latest,omitempty"`
}

// Expandable reports whether the stage's details can be opened in the UI.
func (s Stage) Expandable() bool {
	return s.State == StateCompleted || s.State == StateCurrent
}

// LastUpdate summarizes the most recent qualifying history entry.
type LastUpdate struct {
	Label     string    `json:"label"`     // Stage label the entry belongs to
	Timestamp string    `json:"timestamp"` // Raw timestamp as sent by the backend
	At        time.Time `json:"at"`        // Parsed timestamp
	UpdatedBy string    `json:"updatedBy,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Formatted renders At for display.
func (u LastUpdate) Formatted() string {
	return u.At.UTC().Format(displayTimeLayout)
}

// View is the renderable status model.
type View struct {
	Unavailable    bool        `json:"unavailable"` // catalog was empty; nothing else is populated
	CustomerName   string      `json:"customerName"`
	SubmissionDate string      `json:"submissionDate"`
	CurrentStatus  int         `json:"currentStatus"`
	StatusText     string      `json:"statusText"`
	Denied         bool        `json:"denied"`
	Completed      bool        `json:"completed"`
	Stages         []Stage     `json:"stages"`
	Progress       float64     `json:"progress"` // 0..100
	LastUpdate     *LastUpdate `json:"lastUpdate,omitempty"`
	NextPending    *Stage      `json:"nextPending,omitempty"`
}

// LastUpdateText is the summary line shown under the timeline.
func (v View) LastUpdateText() string {
	if v.LastUpdate == nil {
		return AwaitingFirstUpdate
	}
	return v.LastUpdate.Label + " · " + v.LastUpdate.Formatted()
}

// DeriveView computes the stage states, progress, last update and next step
// for a snapshot. It never fails; an empty catalog yields an Unavailable view.
func DeriveView(snap model.TrackingSnapshot) View {
	view := View{
		CustomerName:   snap.CustomerName,
		SubmissionDate: snap.SubmissionDate,
		CurrentStatus:  snap.CurrentStatus,
		StatusText:     snap.StatusText,
	}
	if len(snap.AllStatuses) == 0 {
		view.Unavailable = true
		return view
	}

	view.Denied = snap.CurrentStatus == StatusDenied
	view.Completed = snap.CurrentStatus == StatusConfirmDeliver

	defs := make([]model.StageDefinition, 0, len(snap.AllStatuses))
	for _, def := range snap.AllStatuses {
		if def.Status == StatusDenied && !view.Denied {
			continue
		}
		defs = append(defs, def)
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Status < defs[j].Status })
	if len(defs) == 0 {
		view.Unavailable = true
		return view
	}

	latest := LatestHistory(snap.StatusHistory)
	beyondCatalog := snap.CurrentStatus > defs[len(defs)-1].Status

	view.Stages = make([]Stage, len(defs))
	for i, def := range defs {
		st := Stage{StageDefinition: def, State: stateFor(def.Status, snap.CurrentStatus, view, beyondCatalog, latest)}
		if h, ok := latest[def.Status]; ok {
			st.Latest = &h
		}
		view.Stages[i] = st
	}

	view.Progress = progress(view, beyondCatalog)
	view.LastUpdate = lastUpdate(snap, view)
	for i := range view.Stages {
		if view.Stages[i].State == StatePending {
			view.NextPending = &view.Stages[i]
			break
		}
	}
	if view.StatusText == "" {
		for _, st := range view.Stages {
			if st.Status == snap.CurrentStatus {
				view.StatusText = st.StatusText
			}
		}
	}
	return view
}

func stateFor(code, current int, view View, beyondCatalog bool, latest map[int]model.HistoryEntry) State {
	switch {
	case view.Completed, beyondCatalog:
		return StateCompleted
	case view.Denied:
		// A denial can arrive from any stage; only stages the request actually
		// went through are shown as completed.
		if code == StatusDenied {
			return StateCurrent
		}
		if _, seen := latest[code]; seen || code == StatusGetStarted {
			return StateCompleted
		}
		return StatePending
	case code < current:
		return StateCompleted
	case code == current:
		return StateCurrent
	default:
		return StatePending
	}
}

func progress(view View, beyondCatalog bool) float64 {
	if view.Completed || beyondCatalog {
		return 100
	}
	n := len(view.Stages)
	if n <= 1 {
		return 0
	}
	idx := -1
	for i, st := range view.Stages {
		if st.Status == view.CurrentStatus {
			idx = i
			break
		}
		if st.State == StateCompleted {
			// current code is not cataloged; fall back to the furthest completed stage
			idx = i
		}
	}
	if idx < 0 {
		return 0
	}
	p := float64(idx) / float64(n-1) * 100
	if p > 100 {
		p = 100
	}
	return p
}

func lastUpdate(snap model.TrackingSnapshot, view View) *LastUpdate {
	byCode := make(map[int]Stage, len(view.Stages))
	for _, st := range view.Stages {
		byCode[st.Status] = st
	}

	var best *LastUpdate
	for _, entry := range snap.StatusHistory {
		label := entry.StatusText
		if st, ok := byCode[entry.Status]; ok {
			if st.State == StatePending {
				continue
			}
			label = st.StatusText
		} else if entry.Status > snap.CurrentStatus && !view.Completed {
			// uncataloged code that the request has not reached
			continue
		}
		at, ok := ParseTimestamp(entry.Timestamp)
		if !ok {
			continue
		}
		if best == nil || at.After(best.At) {
			best = &LastUpdate{
				Label:     label,
				Timestamp: entry.Timestamp,
				At:        at,
				UpdatedBy: entry.UpdatedBy,
				Notes:     entry.UserNotes,
			}
		}
	}
	return best
}

// LatestHistory reduces a history log to the most recent entry per status
// code. Entries with unparseable timestamps only win when no parseable entry
// exists for their code; among equals the later log position wins.
func LatestHistory(entries []model.HistoryEntry) map[int]model.HistoryEntry {
	type pick struct {
		entry  model.HistoryEntry
		at     time.Time
		parsed bool
	}
	picks := make(map[int]pick, len(entries))
	for _, e := range entries {
		at, ok := ParseTimestamp(e.Timestamp)
		cur, exists := picks[e.Status]
		switch {
		case !exists:
		case ok && (!cur.parsed || !at.Before(cur.at)):
		case !ok && !cur.parsed:
		default:
			continue
		}
		picks[e.Status] = pick{entry: e, at: at, parsed: ok}
	}
	out := make(map[int]model.HistoryEntry, len(picks))
	for code, p := range picks {
		out[code] = p.entry
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the ISO datetime forms the backend emits.
func ParseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
