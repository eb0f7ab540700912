package detect

import (
	"testing"

	"github.com/safehalls/safehalls/server/eventdb"
	"github.com/stretchr/testify/require"
)

func TestCombinedScore(t *testing.T) {
	audio := 0.5
	require.Equal(t, 0.8, CombinedScore(0.8, nil))
	require.Equal(t, 0.77, CombinedScore(0.8, &audio))

	// Out of range inputs get clamped before mixing
	tooHigh := 2.0
	require.Equal(t, 1.0, CombinedScore(1.5, &tooHigh))
}

func TestSummarizeFrame(t *testing.T) {
	c1 := 0.6
	c2 := 0.9
	summary := SummarizeFrame([]Detection{
		{Label: "weapon", Confidence: &c1},
		{Label: "weapon", Confidence: &c2},
		{Label: "person"},
	}, nil)
	require.Equal(t, 0.9, summary.VideoScore)
	require.Equal(t, 0.9, summary.CombinedScore)
	require.Len(t, summary.Detections, 3)

	empty := SummarizeFrame(nil, nil)
	require.Equal(t, 0.0, empty.VideoScore)
}

func frameWithScore(combined float64) FrameSummary {
	conf := combined
	return FrameSummary{
		VideoScore:    combined,
		CombinedScore: combined,
		Detections:    []Detection{{Label: "weapon", Confidence: &conf}},
	}
}

func TestEmitAfterConsecutiveFrames(t *testing.T) {
	agg := NewAggregator(10)

	// 9 qualifying frames are not enough
	for i := 0; i < 9; i++ {
		require.Nil(t, agg.AddFrame("cam-01", frameWithScore(0.95)))
	}
	// The 10th emits
	ev := agg.AddFrame("cam-01", frameWithScore(0.95))
	require.NotNil(t, ev)
	require.Equal(t, eventdb.SeverityHigh, ev.Severity)
	require.Equal(t, "cam-01", ev.CameraID)
	require.Equal(t, eventdb.StatusLive, ev.Status)
	require.Equal(t, 0.95, *ev.CombinedScore)
	require.Equal(t, 0.95, *ev.Scores.Data.Video)
	require.Nil(t, ev.Scores.Data.Audio)

	// Detections aggregated per label with counts
	require.Len(t, ev.Detections.Data, 1)
	require.Equal(t, "weapon", ev.Detections.Data[0].Type)
	require.Equal(t, 10, ev.Detections.Data[0].Count)
	require.Equal(t, 0.95, *ev.Detections.Data[0].Confidence)

	// Emission clears the buffer, so the run restarts
	require.Nil(t, agg.AddFrame("cam-01", frameWithScore(0.95)))
}

func TestSeverityIsLowestCommonBand(t *testing.T) {
	agg := NewAggregator(3)
	agg.AddFrame("cam-01", frameWithScore(0.95))
	agg.AddFrame("cam-01", frameWithScore(0.85))
	ev := agg.AddFrame("cam-01", frameWithScore(0.95))
	require.NotNil(t, ev)
	// One frame below the high threshold caps the event at medium
	require.Equal(t, eventdb.SeverityMedium, ev.Severity)
}

func TestSuppressBelowLowThreshold(t *testing.T) {
	agg := NewAggregator(3)
	for i := 0; i < 10; i++ {
		require.Nil(t, agg.AddFrame("cam-01", frameWithScore(0.5)))
	}
}

func TestBrokenRunDoesNotEmit(t *testing.T) {
	agg := NewAggregator(3)
	agg.AddFrame("cam-01", frameWithScore(0.95))
	agg.AddFrame("cam-01", frameWithScore(0.2))
	require.Nil(t, agg.AddFrame("cam-01", frameWithScore(0.95)))
	// The low frame is still in the window
	require.Nil(t, agg.AddFrame("cam-01", frameWithScore(0.95)))
	// Now the window holds three qualifying frames again
	ev := agg.AddFrame("cam-01", frameWithScore(0.95))
	require.NotNil(t, ev)
}

func TestCamerasAreIndependent(t *testing.T) {
	agg := NewAggregator(2)
	require.Nil(t, agg.AddFrame("cam-01", frameWithScore(0.95)))
	require.Nil(t, agg.AddFrame("cam-02", frameWithScore(0.95)))
	require.NotNil(t, agg.AddFrame("cam-01", frameWithScore(0.95)))
	require.NotNil(t, agg.AddFrame("cam-02", frameWithScore(0.95)))
}
