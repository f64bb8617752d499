// Package transcribe runs a transcription engine over long audio by cutting
// it into overlapping windows and stitching the results back together.
package transcribe

import (
	"math"
	"sort"
	"strings"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Window is a span of the source audio in seconds.
type Window struct {
	Index    int
	Start    float64
	Duration float64
}

func (w Window) End() float64 { return w.Start + w.Duration }

// PlanWindows splits duration into windows of size seconds overlapping by
// overlap seconds. Audio no longer than maxSingle is returned as one window.
func PlanWindows(duration, size, overlap, maxSingle float64) []Window {
	if duration <= 0 {
		return nil
	}
	if duration <= maxSingle || duration <= size || size <= overlap {
		return []Window{{Index: 0, Start: 0, Duration: duration}}
	}

	step := size - overlap
	var windows []Window
	for i := 0; ; i++ {
		start := float64(i) * step
		w := Window{Index: i, Start: start, Duration: math.Min(size, duration-start)}
		windows = append(windows, w)
		if w.End() >= duration {
			break
		}
	}
	return windows
}

// WindowResult holds one window's segments in window-local time.
type WindowResult struct {
	Window   Window
	Segments []models.Segment
}

// Merge stitches per-window results into one transcript on the source
// timeline. Each overlap is split at its midpoint and a segment belongs to the
// window whose territory contains its own midpoint. When that leaves a hole at
// a cut, the segments the neighbouring windows heard there are kept as well and
// trimmed by Normalize. The result is ordered and non-overlapping, with empty
// segments dropped and times clamped to duration.
func Merge(results []WindowResult, duration float64) []models.Segment {
	sort.Slice(results, func(i, j int) bool { return results[i].Window.Start < results[j].Window.Start })

	kept := make([][]models.Segment, len(results))
	spare := make([][]models.Segment, len(results))
	for i, r := range results {
		lo := math.Inf(-1)
		if i > 0 {
			lo = cutPoint(results[i-1].Window, r.Window)
		}
		hi := math.Inf(1)
		if i < len(results)-1 {
			hi = cutPoint(r.Window, results[i+1].Window)
		}

		for _, s := range r.Segments {
			g := models.Segment{
				Start: s.Start + r.Window.Start,
				End:   s.End + r.Window.Start,
				Text:  strings.TrimSpace(s.Text),
			}
			if g.Text == "" {
				continue
			}
			if mid := (g.Start + g.End) / 2; mid >= lo && mid < hi {
				kept[i] = append(kept[i], g)
			} else {
				spare[i] = append(spare[i], g)
			}
		}
	}

	var merged []models.Segment
	for i := range results {
		if i > 0 {
			merged = append(merged, bridge(merged, kept[i], spare[i-1], spare[i])...)
		}
		merged = append(merged, kept[i]...)
	}
	return Normalize(merged, duration)
}

// bridge returns the spare segments covering the span between the end of
// what is already merged and the first segment kept by the next window.
func bridge(merged, next []models.Segment, spares ...[]models.Segment) []models.Segment {
	from := 0.0
	for _, s := range merged {
		from = math.Max(from, s.End)
	}
	to := math.Inf(1)
	for _, s := range next {
		to = math.Min(to, s.Start)
	}
	if to <= from {
		return nil
	}

	var out []models.Segment
	for _, group := range spares {
		for _, s := range group {
			if s.End > from && s.Start < to {
				out = append(out, s)
			}
		}
	}
	return out
}

// cutPoint is the midpoint of the overlap between consecutive windows.
func cutPoint(prev, next Window) float64 {
	overlapEnd := math.Min(prev.End(), next.End())
	return (next.Start + overlapEnd) / 2
}

// Normalize sorts segments, drops empty ones and forces timestamps to be
// non-decreasing, non-overlapping and within [0, duration].
func Normalize(segs []models.Segment, duration float64) []models.Segment {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	out := make([]models.Segment, 0, len(segs))
	prevEnd := 0.0
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		s.Start = math.Max(s.Start, prevEnd)
		s.End = math.Max(s.End, s.Start)
		if duration > 0 {
			if s.Start >= duration {
				continue
			}
			s.End = math.Min(s.End, duration)
		}
		out = append(out, s)
		prevEnd = s.End
	}
	return out
}
