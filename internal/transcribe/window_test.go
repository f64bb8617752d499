package transcribe

import (
	"math"
	"testing"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWindows_Single(t *testing.T) {
	w := PlanWindows(300, 600, 10, 900)
	require.Len(t, w, 1)
	assert.Equal(t, Window{Index: 0, Start: 0, Duration: 300}, w[0])

	assert.Nil(t, PlanWindows(0, 600, 10, 900))
}

func TestPlanWindows_Overlapping(t *testing.T) {
	w := PlanWindows(1500, 600, 10, 900)
	require.Len(t, w, 3)
	assert.Equal(t, Window{Index: 0, Start: 0, Duration: 600}, w[0])
	assert.Equal(t, Window{Index: 1, Start: 590, Duration: 600}, w[1])
	assert.Equal(t, Window{Index: 2, Start: 1180, Duration: 320}, w[2])
	assert.Equal(t, 1500.0, w[2].End())
}

func TestPlanWindows_CoversHour(t *testing.T) {
	w := PlanWindows(3600, 600, 10, 900)
	require.NotEmpty(t, w)
	assert.Equal(t, 0.0, w[0].Start)
	assert.Equal(t, 3600.0, w[len(w)-1].End())
	for i := 1; i < len(w); i++ {
		assert.InDelta(t, 10, w[i-1].End()-w[i].Start, 1e-9, "window %d overlap", i)
	}
}

func TestMerge_DropsOverlapDuplicates(t *testing.T) {
	// Windows [0,600) and [590,1190); the overlap midpoint is 595.
	results := []WindowResult{
		{Window: Window{Index: 0, Start: 0, Duration: 600}, Segments: []models.Segment{
			{Start: 0, End: 5, Text: "intro"},
			{Start: 588, End: 593, Text: "before cut"},
			{Start: 596, End: 600, Text: "duplicate from first"},
		}},
		{Window: Window{Index: 1, Start: 590, Duration: 600}, Segments: []models.Segment{
			{Start: 0, End: 3, Text: "tail duplicate"},
			{Start: 6, End: 10, Text: "after cut"},
			{Start: 20, End: 25, Text: "later"},
		}},
	}
	merged := Merge(results, 1190)

	texts := make([]string, len(merged))
	for i, s := range merged {
		texts[i] = s.Text
	}
	assert.Equal(t, []string{"intro", "before cut", "after cut", "later"}, texts)
	assert.Equal(t, 596.0, merged[2].Start)
	assert.Equal(t, 610.0, merged[3].Start)
}

func TestMerge_KeepsSpeechAcrossCut(t *testing.T) {
	// The first window stops hearing at 600; only the second window has
	// the speech between 600 and 620.
	results := []WindowResult{
		{Window: Window{Index: 0, Start: 0, Duration: 600}, Segments: []models.Segment{
			{Start: 570, End: 600, Text: "cut off by window end"},
		}},
		{Window: Window{Index: 1, Start: 590, Duration: 600}, Segments: []models.Segment{
			{Start: 0, End: 30, Text: "straddles the cut"},
			{Start: 30, End: 60, Text: "next"},
		}},
	}
	merged := Merge(results, 1190)

	require.Len(t, merged, 3)
	assert.Equal(t, models.Segment{Start: 570, End: 600, Text: "cut off by window end"}, merged[0])
	assert.Equal(t, models.Segment{Start: 600, End: 620, Text: "straddles the cut"}, merged[1])
	assert.Equal(t, 620.0, merged[2].Start)
}

func TestMerge_FillsHoleLeftAtCut(t *testing.T) {
	// Both engines split the overlap differently: each side's segment has its
	// midpoint in the other window's territory, which would leave 593..597
	// uncovered.
	results := []WindowResult{
		{Window: Window{Index: 0, Start: 0, Duration: 600}, Segments: []models.Segment{
			{Start: 580, End: 593, Text: "a"},
			{Start: 593, End: 600, Text: "b"},
		}},
		{Window: Window{Index: 1, Start: 590, Duration: 600}, Segments: []models.Segment{
			{Start: 0, End: 7, Text: "b'"},
			{Start: 7, End: 20, Text: "c"},
		}},
	}
	merged := Merge(results, 1190)

	require.NotEmpty(t, merged)
	assert.Equal(t, 580.0, merged[0].Start)
	for i := 1; i < len(merged); i++ {
		assert.InDelta(t, merged[i-1].End, merged[i].Start, 1e-9, "hole before segment %d", i)
	}
	assert.Equal(t, 610.0, merged[len(merged)-1].End)
}

func TestMerge_HourOfContinuousSpeechHasNoGaps(t *testing.T) {
	const duration = 3600.0
	var results []WindowResult
	for _, w := range PlanWindows(duration, 600, 10, 900) {
		var segs []models.Segment
		for at := 0.0; at < w.Duration; at += 30 {
			segs = append(segs, models.Segment{Start: at, End: math.Min(at+30, w.Duration), Text: "speech"})
		}
		results = append(results, WindowResult{Window: w, Segments: segs})
	}
	merged := Merge(results, duration)

	require.NotEmpty(t, merged)
	assert.Equal(t, 0.0, merged[0].Start)
	assert.Equal(t, duration, merged[len(merged)-1].End)
	covered := 0.0
	for i, s := range merged {
		if i > 0 {
			assert.InDelta(t, merged[i-1].End, s.Start, 1e-9, "gap before segment %d", i)
		}
		covered += s.End - s.Start
	}
	assert.InDelta(t, duration, covered, 1e-9)
}

func TestMerge_OrderIndependent(t *testing.T) {
	a := WindowResult{Window: Window{Index: 0, Start: 0, Duration: 600}, Segments: []models.Segment{{Start: 1, End: 2, Text: "a"}}}
	b := WindowResult{Window: Window{Index: 1, Start: 590, Duration: 100}, Segments: []models.Segment{{Start: 50, End: 60, Text: "b"}}}
	merged := Merge([]WindowResult{b, a}, 690)
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].Text)
	assert.Equal(t, "b", merged[1].Text)
}

func TestNormalize(t *testing.T) {
	segs := []models.Segment{
		{Start: 5, End: 12, Text: "second"},
		{Start: 0, End: 6, Text: "first"},
		{Start: 11, End: 9, Text: "backwards"},
		{Start: 13, End: 14, Text: "   "},
		{Start: 20, End: 40, Text: "runs past end"},
		{Start: 31, End: 35, Text: "after end"},
	}
	out := Normalize(segs, 30)

	require.Len(t, out, 4)
	assert.Equal(t, models.Segment{Start: 0, End: 6, Text: "first"}, out[0])
	assert.Equal(t, models.Segment{Start: 6, End: 12, Text: "second"}, out[1])
	assert.Equal(t, models.Segment{Start: 12, End: 12, Text: "backwards"}, out[2])
	assert.Equal(t, models.Segment{Start: 20, End: 30, Text: "runs past end"}, out[3])

	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].End, out[i].Start)
	}
}
