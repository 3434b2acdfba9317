package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/easyops/contextcore-go/pkg/coordinator"
	coreerrors "github.com/easyops/contextcore-go/pkg/core/errors"
)

// persistRecorder collects persisted writes behind a mutex
type persistRecorder struct {
	mu   sync.Mutex
	rels []float64
	sels []bool
	err  error
}

func (r *persistRecorder) persistRel(ctx context.Context, contextID, contentID string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rels = append(r.rels, score)
	return nil
}

func (r *persistRecorder) persistSel(ctx context.Context, contextID, contentID string, selected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sels = append(r.sels, selected)
	return nil
}

func (r *persistRecorder) relevanceWrites() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.rels...)
}

func (r *persistRecorder) selectionWrites() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.sels...)
}

func waitEvent(t *testing.T, events <-chan coordinator.Event, want coordinator.EventType) coordinator.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed while waiting for %s", want)
			}
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSetRelevance_DebounceCollapsesBurst(t *testing.T) {
	rec := &persistRecorder{}
	c := coordinator.New(rec.persistRel, rec.persistSel,
		coordinator.WithDebounceWindow(60*time.Millisecond))
	defer c.Close()

	ctx := context.Background()
	for _, score := range []float64{0.2, 0.5, 0.9} {
		got, err := c.SetRelevance(ctx, "ctx-1", "doc-1", score)
		if err != nil {
			t.Fatalf("set relevance %v: %v", score, err)
		}
		if got != score {
			t.Fatalf("optimistic value: expected %v, got %v", score, got)
		}
		// every intermediate value is visible on the read path right away
		eff, err := c.EffectiveRelevance(ctx, "ctx-1", "doc-1")
		if err != nil {
			t.Fatalf("effective relevance: %v", err)
		}
		if eff != score {
			t.Fatalf("effective after set: expected %v, got %v", score, eff)
		}
	}

	e := waitEvent(t, c.Events(), coordinator.EventRelevanceConfirmed)
	if e.Relevance != 0.9 || e.ContextID != "ctx-1" || e.ContentID != "doc-1" {
		t.Fatalf("unexpected confirm event: %+v", e)
	}

	// the burst collapsed to a single downstream write carrying the last value
	writes := rec.relevanceWrites()
	if len(writes) != 1 || writes[0] != 0.9 {
		t.Fatalf("expected exactly one write of 0.9, got %v", writes)
	}

	eff, _ := c.EffectiveRelevance(ctx, "ctx-1", "doc-1")
	if eff != 0.9 {
		t.Fatalf("effective after confirm: expected 0.9, got %v", eff)
	}
}

func TestSetRelevance_OutOfRange(t *testing.T) {
	rec := &persistRecorder{}
	c := coordinator.New(rec.persistRel, rec.persistSel)
	defer c.Close()

	for _, score := range []float64{-0.1, 1.1} {
		if _, err := c.SetRelevance(context.Background(), "ctx-1", "doc-1", score); !errors.Is(err, coreerrors.ErrScoreOutOfRange) {
			t.Fatalf("score %v: expected ErrScoreOutOfRange, got %v", score, err)
		}
	}
	if writes := rec.relevanceWrites(); len(writes) != 0 {
		t.Fatalf("rejected updates must not persist, got %v", writes)
	}
}

func TestSetRelevance_FailureRollsBack(t *testing.T) {
	rec := &persistRecorder{err: errors.New("server rejected")}
	loadRel := func(ctx context.Context, contextID, contentID string) (float64, error) {
		return 0.4, nil
	}
	loadSel := func(ctx context.Context, contextID, contentID string) (bool, error) {
		return false, nil
	}
	c := coordinator.New(rec.persistRel, rec.persistSel,
		coordinator.WithDebounceWindow(10*time.Millisecond),
		coordinator.WithLoaders(loadRel, loadSel))
	defer c.Close()

	ctx := context.Background()
	if _, err := c.SetRelevance(ctx, "ctx-1", "doc-1", 0.9); err != nil {
		t.Fatalf("set relevance: %v", err)
	}

	// optimistic value is live until the server answers
	eff, _ := c.EffectiveRelevance(ctx, "ctx-1", "doc-1")
	if eff != 0.9 {
		t.Fatalf("expected optimistic 0.9, got %v", eff)
	}

	e := waitEvent(t, c.Events(), coordinator.EventRelevanceUpdateFailed)
	if e.Err == nil {
		t.Fatal("failure event must carry the cause")
	}
	if e.Relevance != 0.4 {
		t.Fatalf("failure event must carry the restored value, got %v", e.Relevance)
	}

	// rolled back to the server-confirmed baseline
	eff, _ = c.EffectiveRelevance(ctx, "ctx-1", "doc-1")
	if eff != 0.4 {
		t.Fatalf("expected rollback to 0.4, got %v", eff)
	}
}

func TestSetSelection_FlushesImmediately(t *testing.T) {
	rec := &persistRecorder{}
	// a huge window proves selection does not wait on the debounce timer
	c := coordinator.New(rec.persistRel, rec.persistSel,
		coordinator.WithDebounceWindow(time.Hour))
	defer c.Close()

	got, err := c.SetSelection(context.Background(), "ctx-1", "doc-1", true)
	if err != nil {
		t.Fatalf("set selection: %v", err)
	}
	if !got {
		t.Fatal("optimistic value: expected true")
	}

	e := waitEvent(t, c.Events(), coordinator.EventSelectionConfirmed)
	if !e.Selected {
		t.Fatalf("unexpected confirm event: %+v", e)
	}
	if writes := rec.selectionWrites(); len(writes) != 1 || !writes[0] {
		t.Fatalf("expected a single immediate write of true, got %v", writes)
	}
}

func TestSetSelection_SingleInFlightWithFollowUp(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var writes []bool

	persistSel := func(ctx context.Context, contextID, contentID string, selected bool) error {
		mu.Lock()
		first := len(writes) == 0
		writes = append(writes, selected)
		mu.Unlock()
		if first {
			<-gate
		}
		return nil
	}
	persistRel := func(ctx context.Context, contextID, contentID string, score float64) error {
		return nil
	}

	c := coordinator.New(persistRel, persistSel)
	defer c.Close()

	ctx := context.Background()
	if _, err := c.SetSelection(ctx, "ctx-1", "doc-1", true); err != nil {
		t.Fatalf("set selection: %v", err)
	}

	// wait for the first write to be in flight
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(writes)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first write never started")
		}
		time.Sleep(time.Millisecond)
	}

	// superseding update while the first is in flight: no second
	// concurrent write, a follow-up fires after completion
	if _, err := c.SetSelection(ctx, "ctx-1", "doc-1", false); err != nil {
		t.Fatalf("set selection: %v", err)
	}
	eff, _ := c.EffectiveSelection(ctx, "ctx-1", "doc-1")
	if eff {
		t.Fatal("superseding value must be effective immediately")
	}
	mu.Lock()
	n := len(writes)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected a single in-flight write, got %d", n)
	}

	close(gate)

	waitEvent(t, c.Events(), coordinator.EventSelectionConfirmed) // true
	e := waitEvent(t, c.Events(), coordinator.EventSelectionConfirmed)
	if e.Selected {
		t.Fatalf("follow-up must carry the superseding value: %+v", e)
	}

	mu.Lock()
	got := append([]bool(nil), writes...)
	mu.Unlock()
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("expected writes [true false], got %v", got)
	}
}

func TestEffective_FallsBackToLoader(t *testing.T) {
	rec := &persistRecorder{}
	loadRel := func(ctx context.Context, contextID, contentID string) (float64, error) {
		return 0.7, nil
	}
	loadSel := func(ctx context.Context, contextID, contentID string) (bool, error) {
		return true, nil
	}
	c := coordinator.New(rec.persistRel, rec.persistSel,
		coordinator.WithLoaders(loadRel, loadSel))
	defer c.Close()

	ctx := context.Background()
	rel, err := c.EffectiveRelevance(ctx, "ctx-1", "doc-1")
	if err != nil {
		t.Fatalf("effective relevance: %v", err)
	}
	if rel != 0.7 {
		t.Fatalf("expected loader value 0.7, got %v", rel)
	}
	sel, err := c.EffectiveSelection(ctx, "ctx-1", "doc-1")
	if err != nil {
		t.Fatalf("effective selection: %v", err)
	}
	if !sel {
		t.Fatal("expected loader value true")
	}
}

func TestEffective_DefaultsWithoutLoader(t *testing.T) {
	rec := &persistRecorder{}
	c := coordinator.New(rec.persistRel, rec.persistSel)
	defer c.Close()

	rel, _ := c.EffectiveRelevance(context.Background(), "ctx-1", "doc-1")
	if rel != 0.5 {
		t.Fatalf("expected default 0.5, got %v", rel)
	}
	sel, _ := c.EffectiveSelection(context.Background(), "ctx-1", "doc-1")
	if sel {
		t.Fatal("expected default false")
	}
}

func TestForget_DropsState(t *testing.T) {
	rec := &persistRecorder{}
	c := coordinator.New(rec.persistRel, rec.persistSel,
		coordinator.WithDebounceWindow(10*time.Millisecond))
	defer c.Close()

	ctx := context.Background()
	if _, err := c.SetRelevance(ctx, "ctx-1", "doc-1", 0.9); err != nil {
		t.Fatalf("set relevance: %v", err)
	}
	waitEvent(t, c.Events(), coordinator.EventRelevanceConfirmed)

	c.Forget("ctx-1", "doc-1")

	// the key reads like first contact again
	rel, _ := c.EffectiveRelevance(ctx, "ctx-1", "doc-1")
	if rel != 0.5 {
		t.Fatalf("expected default after forget, got %v", rel)
	}
}

func TestClose_RejectsFurtherUpdates(t *testing.T) {
	rec := &persistRecorder{}
	c := coordinator.New(rec.persistRel, rec.persistSel)
	c.Close()

	if _, err := c.SetRelevance(context.Background(), "ctx-1", "doc-1", 0.5); !errors.Is(err, coreerrors.ErrContextCanceled) {
		t.Fatalf("expected ErrContextCanceled, got %v", err)
	}
	if _, err := c.SetSelection(context.Background(), "ctx-1", "doc-1", true); !errors.Is(err, coreerrors.ErrContextCanceled) {
		t.Fatalf("expected ErrContextCanceled, got %v", err)
	}
}
