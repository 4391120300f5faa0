package subtitle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoSegments() []Segment {
	return []Segment{
		{Start: 1000, End: 2000, Text: "second"},
		{Start: 0, End: 1000, Text: "first"},
	}
}

func TestTimeline_ActiveIndex(t *testing.T) {
	tl := NewTimeline()
	tl.Replace(twoSegments())

	tests := []struct {
		name string
		ms   int64
		want int
	}{
		{name: "inside first", ms: 500, want: 0},
		{name: "start is inclusive", ms: 0, want: 0},
		{name: "end is exclusive", ms: 1000, want: 1},
		{name: "inside second", ms: 1500, want: 1},
		{name: "after all", ms: 2500, want: -1},
		{name: "before all", ms: -500, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tl.ActiveIndex(tt.ms))
		})
	}
}

func TestTimeline_TargetIndex(t *testing.T) {
	tl := NewTimeline()
	tl.Replace([]Segment{
		{Start: 0, End: 1000, Text: "a"},
		{Start: 1000, End: 2000, Text: "b"},
		{Start: 5000, End: 6000, Text: "c"},
	})

	assert.Equal(t, 0, tl.TargetIndex(-500))
	assert.Equal(t, 1, tl.TargetIndex(1500))
	assert.Equal(t, 2, tl.TargetIndex(3000), "gap resolves to the next segment")
	assert.Equal(t, 2, tl.TargetIndex(5000))
	assert.Equal(t, -1, tl.TargetIndex(6000))
	assert.Equal(t, -1, NewTimeline().TargetIndex(0))
}

func TestTimeline_ReplaceSortsAndBumpsVersion(t *testing.T) {
	tl := NewTimeline()
	v0 := tl.Version()
	tl.Replace(twoSegments())

	segs := tl.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, "first", segs[0].Text)
	assert.Equal(t, "second", segs[1].Text)
	assert.Greater(t, tl.Version(), v0)
}

func TestTimeline_AddIsIdempotent(t *testing.T) {
	tl := NewTimeline()
	tl.Replace(twoSegments()[:1])

	more := []Segment{
		{Start: 3000, End: 4000, Text: "third"},
		{Start: 0, End: 1000, Text: "first"},
	}
	tl.Add(more)
	tl.Add(more)

	segs := tl.Segments()
	require.Len(t, segs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{segs[0].Text, segs[1].Text, segs[2].Text})
}

func TestTimeline_ShiftAllAllowsNegative(t *testing.T) {
	tl := NewTimeline()
	tl.Replace(twoSegments())
	v := tl.Version()

	tl.ShiftAll(-1500)

	segs := tl.Segments()
	assert.Equal(t, int64(-1500), segs[0].Start)
	assert.Equal(t, int64(-500), segs[0].End)
	assert.Equal(t, int64(500), segs[1].End)
	assert.Equal(t, v+1, tl.Version())
	assert.Equal(t, 1, tl.ActiveIndex(0))
}

func TestTimeline_ClearNotifiesListeners(t *testing.T) {
	tl := NewTimeline()
	var changes []Change
	unsubscribe := tl.Subscribe(func(c Change) { changes = append(changes, c) })

	tl.Replace(twoSegments())
	tl.Clear()
	unsubscribe()
	tl.Add(twoSegments())

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeReplaced, changes[0].Kind)
	assert.Equal(t, ChangeCleared, changes[1].Kind)
	assert.Equal(t, 2, tl.Len())
}

func TestTimeline_ListenerSeesUpdatedList(t *testing.T) {
	tl := NewTimeline()
	var seen int
	tl.Subscribe(func(Change) { seen = tl.Len() })

	tl.Replace(twoSegments())
	assert.Equal(t, 2, seen)
}

func TestTimeline_Enrich(t *testing.T) {
	tl := NewTimeline()
	tl.Replace(twoSegments())
	seg, ok := tl.At(1)
	require.True(t, ok)
	v := tl.Version()

	var enriched []int
	tl.Subscribe(func(c Change) {
		if c.Kind == ChangeEnriched {
			enriched = append(enriched, c.Index)
		}
	})

	assert.True(t, tl.Enrich(1, seg.Key(), Enrichment{Translation: "zweite"}))
	got, _ := tl.At(1)
	assert.Equal(t, "zweite", got.Translation)
	assert.Equal(t, v, tl.Version(), "enrichment is not a structural change")

	// index went stale after a structural change; the key still finds it
	tl.Add([]Segment{{Start: -100, End: -50, Text: "pre"}})
	assert.True(t, tl.Enrich(1, seg.Key(), Enrichment{Insight: "note", Words: []Word{{Surface: "second"}}}))
	got, _ = tl.At(2)
	assert.Equal(t, "zweite", got.Translation)
	assert.Equal(t, "note", got.Insight)
	assert.Equal(t, []Word{{Surface: "second"}}, got.Words)

	assert.False(t, tl.Enrich(0, Key{Start: 9, End: 10, Text: "gone"}, Enrichment{Translation: "x"}))
	assert.Equal(t, []int{1, 2}, enriched)
}

func TestTimeline_ConcurrentAccess(t *testing.T) {
	tl := NewTimeline()
	tl.Replace(twoSegments())
	key := Segment{Start: 0, End: 1000, Text: "first"}.Key()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tl.Enrich(0, key, Enrichment{Translation: "t"})
		}()
		go func() {
			defer wg.Done()
			_ = tl.TargetIndex(500)
			_ = tl.Segments()
		}()
	}
	wg.Wait()
	got, _ := tl.At(0)
	assert.Equal(t, "t", got.Translation)
}
