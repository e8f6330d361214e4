package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/selection"
	"github.com/nmfscope/server/internal/view"
)

// countingAdapter wraps an adapter and counts Render calls.
type countingAdapter struct {
	view.Adapter
	mu      sync.Mutex
	renders int
}

func (a *countingAdapter) Render(st selection.State) view.Instruction {
	a.mu.Lock()
	a.renders++
	a.mu.Unlock()
	return a.Adapter.Render(st)
}

func (a *countingAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renders
}

type fixture struct {
	coord    *Coordinator
	heat     *countingAdapter
	emb      *countingAdapter
	heatView *view.Frame
	embView  *view.Frame
}

// universe {A,B,C,D} = handles 0..3, heatmap shown in index order.
func newFixture(t *testing.T, embOpts ...view.EmbeddingOption) *fixture {
	t.Helper()
	h, err := view.NewHeatmapAdapter([]sample.Handle{0, 1, 2, 3}, 4)
	require.NoError(t, err)

	f := &fixture{
		coord:    New(selection.NewStore(4, 0)),
		heat:     &countingAdapter{Adapter: h},
		emb:      &countingAdapter{Adapter: view.NewEmbeddingAdapter(4, embOpts...)},
		heatView: &view.Frame{},
		embView:  &view.Frame{},
	}
	f.coord.Attach(f.heat, f.heatView)
	f.coord.Attach(f.emb, f.embView)
	// Attach renders once per view.
	f.heat.renders, f.emb.renders = 0, 0
	return f
}

func TestAttachRendersStartState(t *testing.T) {
	f := newFixture(t)

	ins, n := f.heatView.Latest()
	assert.Equal(t, uint64(1), n)
	assert.True(t, ins.IsCleared())

	ins, n = f.embView.Latest()
	assert.Equal(t, uint64(1), n)
	assert.True(t, ins.IsCleared())
}

func TestEchoSuppression(t *testing.T) {
	f := newFixture(t)

	res, err := f.coord.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{1, 2}})
	require.NoError(t, err)

	assert.True(t, res.Broadcast)
	assert.Equal(t, []selection.ViewID{selection.Embedding}, res.Rendered)
	assert.Equal(t, 0, f.heat.count(), "origin view must not be re-rendered")
	assert.Equal(t, 1, f.emb.count())
	assert.Equal(t, selection.Heatmap, res.State.Origin)
}

func TestIdempotentProposalSkipsBroadcast(t *testing.T) {
	f := newFixture(t)
	set := sample.NewSet(0, 2)

	first := f.coord.Set(selection.Embedding, set)
	second := f.coord.Set(selection.Embedding, set)

	assert.True(t, first.Broadcast)
	assert.False(t, second.Broadcast)
	assert.Empty(t, second.Rendered)
	assert.Greater(t, second.State.Version, first.State.Version, "re-assertion still bumps the version")
	assert.True(t, second.State.Active.Equal(set))
	assert.Equal(t, 1, f.heat.count())
}

func TestEmptySelectionRoundTrip(t *testing.T) {
	f := newFixture(t)
	startHeat, _ := f.heatView.Latest()
	startEmb, _ := f.embView.Latest()

	_, err := f.coord.Ingest(selection.Embedding, view.PointEvent{Points: []int{0, 1, 2, 3}})
	require.NoError(t, err)
	_, err = f.coord.Ingest(selection.Embedding, view.ClearEvent{})
	require.NoError(t, err)

	_, err = f.coord.Ingest(selection.Heatmap, view.ColumnEvent{Ranges: []view.ColumnRange{{Start: 0, End: 4}}})
	require.NoError(t, err)
	_, err = f.coord.Ingest(selection.Heatmap, view.ClearEvent{})
	require.NoError(t, err)

	heat, _ := f.heatView.Latest()
	emb, _ := f.embView.Latest()
	assert.Equal(t, startHeat, heat)
	assert.Equal(t, startEmb, emb)
}

func TestLassoOnEmbeddingHighlightsHeatmap(t *testing.T) {
	f := newFixture(t)

	// Lasso around B and D.
	res, err := f.coord.Ingest(selection.Embedding, view.PointEvent{Points: []int{1, 3}})
	require.NoError(t, err)

	assert.Equal(t, []sample.Handle{1, 3}, res.State.Active.Handles())
	assert.Equal(t, selection.Embedding, res.State.Origin)

	ins, _ := f.heatView.Latest()
	mask, ok := ins.(view.HighlightMask)
	require.True(t, ok)
	assert.Equal(t, []bool{false, true, false, true}, mask.Emphasis)
}

func TestHeatmapDeselectClearsEmbedding(t *testing.T) {
	f := newFixture(t, view.WithFilterList())
	// Opacity is the default; make sure the default adapter is also covered.
	g := newFixture(t)

	for name, fx := range map[string]*fixture{"filter": f, "opacity": g} {
		t.Run(name, func(t *testing.T) {
			_, err := fx.coord.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{0}})
			require.NoError(t, err)

			res, err := fx.coord.Ingest(selection.Heatmap, view.ClearEvent{})
			require.NoError(t, err)
			assert.True(t, res.State.Active.IsEmpty())

			ins, _ := fx.embView.Latest()
			assert.True(t, ins.IsCleared())
			switch v := ins.(type) {
			case view.HighlightMask:
				assert.Equal(t, []float64{1, 1, 1, 1}, v.Opacity)
			case view.FilterList:
				assert.Len(t, v.Include, 4, "cleared must not be an empty filter list")
			default:
				t.Fatalf("unexpected instruction %T", ins)
			}
		})
	}
}

func TestMalformedEventKeepsSelection(t *testing.T) {
	f := newFixture(t)
	before, err := f.coord.Ingest(selection.Embedding, view.PointEvent{Points: []int{2}})
	require.NoError(t, err)

	res, err := f.coord.Ingest(selection.Embedding, view.PointEvent{Points: []int{1, 99}})
	var malformed *view.MalformedEventError
	require.True(t, errors.As(err, &malformed))
	assert.False(t, res.Broadcast)

	cur := f.coord.Current()
	assert.Equal(t, before.State.Version, cur.Version)
	assert.True(t, cur.Active.Equal(sample.NewSet(2)))
	assert.Equal(t, 1, f.heat.count())
}

func TestDroppedHandlesCorrectOrigin(t *testing.T) {
	f := newFixture(t)

	res := f.coord.Set(selection.Embedding, sample.NewSet(1, 7))
	assert.Equal(t, []sample.Handle{7}, res.Dropped)
	assert.Equal(t, []sample.Handle{1}, res.State.Active.Handles())
	assert.ElementsMatch(t, []selection.ViewID{selection.Heatmap, selection.Embedding}, res.Rendered)
	assert.Equal(t, 1, f.emb.count())

	ins, _ := f.embView.Latest()
	mask := ins.(view.HighlightMask)
	assert.Equal(t, []bool{false, true, false, false}, mask.Emphasis)
}

func TestExternalOriginRendersEveryView(t *testing.T) {
	f := newFixture(t)

	res := f.coord.Set(selection.None, sample.NewSet(0))
	assert.ElementsMatch(t, []selection.ViewID{selection.Heatmap, selection.Embedding}, res.Rendered)
	assert.Equal(t, 1, f.heat.count())
	assert.Equal(t, 1, f.emb.count())
}

func TestUnknownView(t *testing.T) {
	c := New(selection.NewStore(4, 0))
	_, err := c.Ingest(selection.Heatmap, view.ClearEvent{})
	assert.ErrorIs(t, err, ErrUnknownView)
	assert.ErrorIs(t, c.Replace(view.NewEmbeddingAdapter(4)), ErrUnknownView)
}

func TestSnapshotReturnsCurrentStateForOrigin(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Ingest(selection.Embedding, view.PointEvent{Points: []int{2}})
	require.NoError(t, err)

	// The embedding frame was not pushed its own gesture.
	stale, _ := f.embView.Latest()
	assert.True(t, stale.IsCleared())

	a, st, err := f.coord.Snapshot(selection.Embedding)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Version)
	assert.Equal(t, []sample.Handle{2}, st.Active.Handles())
	assert.False(t, a.Render(st).IsCleared())

	_, _, err = f.coord.Snapshot(selection.None)
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestReplaceRerendersOnlyThatView(t *testing.T) {
	f := newFixture(t)
	f.coord.Set(selection.None, sample.NewSet(3))
	f.heat.renders, f.emb.renders = 0, 0

	reordered, err := view.NewHeatmapAdapter([]sample.Handle{3, 2, 1, 0}, 4)
	require.NoError(t, err)
	require.NoError(t, f.coord.Replace(reordered))

	assert.Equal(t, 0, f.emb.count())
	_, n := f.heatView.Latest()
	assert.Equal(t, uint64(3), n)

	// Column 0 now shows handle 3.
	res, err := f.coord.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []sample.Handle{2, 3}, res.State.Active.Handles())
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)

	var got []uint64
	cancel := f.coord.Subscribe(func(st selection.State) {
		got = append(got, st.Version)
	})

	f.coord.Set(selection.None, sample.NewSet(1))
	f.coord.Set(selection.None, sample.NewSet(1))
	f.coord.Set(selection.None, sample.NewSet(2))
	cancel()
	f.coord.Set(selection.None, sample.NewSet(3))

	assert.Equal(t, []uint64{1, 3}, got)
}

func TestWait(t *testing.T) {
	f := newFixture(t)

	done := make(chan selection.State, 1)
	go func() {
		st, err := f.coord.Wait(context.Background(), 0)
		if err == nil {
			done <- st
		}
	}()

	time.Sleep(10 * time.Millisecond)
	f.coord.Set(selection.Heatmap, sample.NewSet(0, 1))

	select {
	case st := <-done:
		assert.Equal(t, uint64(1), st.Version)
		assert.Equal(t, selection.Heatmap, st.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after a broadcast")
	}

	// Already past: returns immediately.
	st, err := f.coord.Wait(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Version)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.coord.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentIngestIsSerialized(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.coord.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{i % 4}})
			} else {
				_, _ = f.coord.Ingest(selection.Embedding, view.PointEvent{Points: []int{i % 4}})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(50), f.coord.Current().Version)
}

type recordingObserver struct {
	ingested, rejected, dropped, broadcasts, echoes, unchanged int
}

func (o *recordingObserver) EventIngested(selection.ViewID)           { o.ingested++ }
func (o *recordingObserver) EventRejected(selection.ViewID)           { o.rejected++ }
func (o *recordingObserver) HandlesDropped(_ selection.ViewID, n int) { o.dropped += n }
func (o *recordingObserver) Broadcast(selection.ViewID, int)          { o.broadcasts++ }
func (o *recordingObserver) EchoSuppressed(selection.ViewID)          { o.echoes++ }
func (o *recordingObserver) Unchanged(selection.ViewID)               { o.unchanged++ }

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := New(selection.NewStore(4, 0), WithObserver(obs), WithLabel("k3"))
	h, err := view.NewHeatmapAdapter([]sample.Handle{0, 1, 2, 3}, 4)
	require.NoError(t, err)
	c.Attach(h, &view.Frame{})
	c.Attach(view.NewEmbeddingAdapter(4), &view.Frame{})

	_, _ = c.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{0}})
	_, _ = c.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{0}})
	_, _ = c.Ingest(selection.Heatmap, view.ColumnEvent{Columns: []int{9}})
	c.Set(selection.None, sample.NewSet(1, 5, 6))

	assert.Equal(t, 2, obs.ingested)
	assert.Equal(t, 1, obs.rejected)
	assert.Equal(t, 2, obs.dropped)
	assert.Equal(t, 2, obs.broadcasts)
	assert.Equal(t, 1, obs.echoes)
	assert.Equal(t, 1, obs.unchanged)
}
