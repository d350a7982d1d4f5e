package tracking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

func stages(codes ...int) []model.StageDefinition {
	out := make([]model.StageDefinition, 0, len(codes))
	for _, c := range codes {
		out = append(out, model.StageDefinition{Status: c, StatusText: tracking.Label(c)})
	}
	return out
}

func states(v tracking.View) map[int]tracking.State {
	out := map[int]tracking.State{}
	for _, s := range v.Stages {
		out[s.Status] = s.State
	}
	return out
}

func TestDeriveView_MidProgress(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{
		CurrentStatus: 2,
		AllStatuses:   stages(1, 2, 3),
	})

	require.False(t, v.Unavailable)
	assert.Equal(t, map[int]tracking.State{
		1: tracking.StateCompleted,
		2: tracking.StateCurrent,
		3: tracking.StatePending,
	}, states(v))
	assert.InDelta(t, 50.0, v.Progress, 1e-9)
	require.NotNil(t, v.NextPending)
	assert.Equal(t, 3, v.NextPending.Status)
	assert.Equal(t, tracking.AwaitingFirstUpdate, v.LastUpdateText())
}

func TestDeriveView_LastStageExample(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{
		CurrentStatus: 3,
		AllStatuses:   stages(1, 2, 3),
		StatusHistory: []model.HistoryEntry{{Status: 3, Timestamp: "2024-01-05T00:00:00Z"}},
	})

	assert.InDelta(t, 100.0, v.Progress, 1e-9)
	require.NotNil(t, v.LastUpdate)
	assert.Equal(t, "2024-01-05T00:00:00Z", v.LastUpdate.Timestamp)
	assert.Equal(t, tracking.Label(3), v.LastUpdate.Label)
	assert.Nil(t, v.NextPending)
}

func TestDeriveView_TerminalForcesCompleted(t *testing.T) {
	histories := [][]model.HistoryEntry{
		nil,
		{{Status: 2, Timestamp: "garbage"}},
		{{Status: 1, Timestamp: "2024-01-01T00:00:00Z"}, {Status: 5, Timestamp: "2024-02-01T00:00:00Z"}},
	}
	for _, h := range histories {
		v := tracking.DeriveView(model.TrackingSnapshot{
			CurrentStatus: tracking.StatusConfirmDeliver,
			AllStatuses:   stages(1, 2, 3, 4, 5, 6),
			StatusHistory: h,
		})
		assert.True(t, v.Completed)
		assert.InDelta(t, 100.0, v.Progress, 1e-9)
		require.Len(t, v.Stages, 5, "denied stage is hidden")
		for _, s := range v.Stages {
			assert.Equal(t, tracking.StateCompleted, s.State, "stage %d", s.Status)
		}
		assert.Nil(t, v.NextPending)
	}
}

func TestDeriveView_DeniedVisibility(t *testing.T) {
	for current := 1; current <= 6; current++ {
		v := tracking.DeriveView(model.TrackingSnapshot{
			CurrentStatus: current,
			AllStatuses:   stages(1, 2, 3, 4, 5, 6),
		})
		count := 0
		for _, s := range v.Stages {
			if s.Status == tracking.StatusDenied {
				count++
			}
		}
		if current == tracking.StatusDenied {
			assert.Equal(t, 1, count, "denied shown once when current")
		} else {
			assert.Zero(t, count, "denied hidden for status %d", current)
		}
	}
}

func TestDeriveView_DeniedUsesHistory(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{
		CurrentStatus: tracking.StatusDenied,
		AllStatuses:   stages(1, 2, 3, 4, 5, 6),
		StatusHistory: []model.HistoryEntry{
			{Status: 1, Timestamp: "2024-01-01T00:00:00Z"},
			{Status: 2, Timestamp: "2024-01-02T00:00:00Z"},
			{Status: 6, Timestamp: "2024-01-03T00:00:00Z", UpdatedBy: "agent-7", UserNotes: "insufficient documents"},
		},
	})

	assert.True(t, v.Denied)
	assert.Equal(t, map[int]tracking.State{
		1: tracking.StateCompleted,
		2: tracking.StateCompleted,
		3: tracking.StatePending,
		4: tracking.StatePending,
		5: tracking.StatePending,
		6: tracking.StateCurrent,
	}, states(v))
	require.NotNil(t, v.LastUpdate)
	assert.Equal(t, "agent-7", v.LastUpdate.UpdatedBy)
	assert.Equal(t, "insufficient documents", v.LastUpdate.Notes)
}

func TestDeriveView_DeniedWithoutHistoryKeepsGetStarted(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{
		CurrentStatus: tracking.StatusDenied,
		AllStatuses:   stages(1, 2, 3, 4, 5, 6),
	})

	got := states(v)
	assert.Equal(t, tracking.StateCompleted, got[tracking.StatusGetStarted])
	assert.Equal(t, tracking.StatePending, got[2])
	assert.Equal(t, tracking.StateCurrent, got[tracking.StatusDenied])
}

func TestDeriveView_BeyondCatalog(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{
		CurrentStatus: 9,
		AllStatuses:   stages(1, 2, 3),
		StatusHistory: []model.HistoryEntry{{Status: 9, StatusText: "Archived", Timestamp: "2024-03-01T10:00:00Z"}},
	})
	for _, s := range v.Stages {
		assert.Equal(t, tracking.StateCompleted, s.State)
	}
	assert.InDelta(t, 100.0, v.Progress, 1e-9)
	require.NotNil(t, v.LastUpdate)
	assert.Equal(t, "Archived", v.LastUpdate.Label)
}

func TestDeriveView_SingleStage(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{CurrentStatus: 1, AllStatuses: stages(1)})
	assert.Zero(t, v.Progress)
	require.Len(t, v.Stages, 1)
	assert.Equal(t, tracking.StateCurrent, v.Stages[0].State)
}

func TestDeriveView_Unavailable(t *testing.T) {
	assert.NotPanics(t, func() {
		v := tracking.DeriveView(model.TrackingSnapshot{CurrentStatus: 3})
		assert.True(t, v.Unavailable)
		assert.Empty(t, v.Stages)
	})

	v := tracking.DeriveView(model.TrackingSnapshot{CurrentStatus: 2, AllStatuses: stages(6)})
	assert.True(t, v.Unavailable, "catalog of only the hidden denied stage")
}

func TestDeriveView_UnsortedCatalog(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{CurrentStatus: 3, AllStatuses: stages(4, 1, 3, 2)})
	require.Len(t, v.Stages, 4)
	for i, s := range v.Stages {
		assert.Equal(t, i+1, s.Status)
	}
	assert.InDelta(t, 200.0/3.0, v.Progress, 1e-9)
}

func TestDeriveView_LastUpdateSkipsPendingAndBadTimestamps(t *testing.T) {
	v := tracking.DeriveView(model.TrackingSnapshot{
		CurrentStatus: 2,
		AllStatuses:   stages(1, 2, 3, 4),
		StatusHistory: []model.HistoryEntry{
			{Status: 1, Timestamp: "2024-01-01T08:00:00Z"},
			{Status: 2, Timestamp: "not-a-date"},
			{Status: 4, Timestamp: "2024-06-01T08:00:00Z"}, // stage still pending
			{Status: 2, Timestamp: "2024-01-03T08:00:00.123Z", UpdatedBy: "ops"},
		},
	})
	require.NotNil(t, v.LastUpdate)
	assert.Equal(t, "2024-01-03T08:00:00.123Z", v.LastUpdate.Timestamp)
	assert.Equal(t, "ops", v.LastUpdate.UpdatedBy)
	assert.Equal(t, "Jan 3, 2024 8:00 AM UTC", v.LastUpdate.Formatted())
}

func TestStage_Expandable(t *testing.T) {
	assert.True(t, tracking.Stage{State: tracking.StateCompleted}.Expandable())
	assert.True(t, tracking.Stage{State: tracking.StateCurrent}.Expandable())
	assert.False(t, tracking.Stage{State: tracking.StatePending}.Expandable())
}

func TestLatestHistory(t *testing.T) {
	latest := tracking.LatestHistory([]model.HistoryEntry{
		{Status: 2, Timestamp: "2024-01-02T00:00:00Z", UpdatedBy: "first"},
		{Status: 2, Timestamp: "2024-01-05T00:00:00Z", UpdatedBy: "re-entry"},
		{Status: 2, Timestamp: "2024-01-03T00:00:00Z", UpdatedBy: "older, logged later"},
		{Status: 2, Timestamp: "bad", UpdatedBy: "unparseable"},
		{Status: 3, Timestamp: "bad", UpdatedBy: "only entry"},
	})
	assert.Equal(t, "re-entry", latest[2].UpdatedBy)
	assert.Equal(t, "only entry", latest[3].UpdatedBy)
}

func TestCatalog(t *testing.T) {
	cat := tracking.DefaultCatalog()
	require.Len(t, cat, 6)
	cat[0].StatusText = "mutated"
	assert.Equal(t, "Get Started", tracking.Label(1))
	assert.Equal(t, "Request Denied", tracking.Label(tracking.StatusDenied))
	assert.Equal(t, "Status 42", tracking.Label(42))
	assert.True(t, tracking.ValidStatus(6))
	assert.False(t, tracking.ValidStatus(0))
}
