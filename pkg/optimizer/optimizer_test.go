package optimizer_test

import (
	"errors"
	"reflect"
	"testing"

	coreerrors "github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/optimizer"
)

func TestOptimize_WorkedExample(t *testing.T) {
	opt := optimizer.New()
	candidates := []optimizer.Candidate{
		{ContentID: "A", Tokens: 500, RelevanceScore: 0.9, Position: 0},
		{ContentID: "B", Tokens: 400, RelevanceScore: 0.8, Position: 1},
		{ContentID: "C", Tokens: 300, RelevanceScore: 0.95, Position: 2},
	}

	plan, err := opt.Optimize("ctx-1", candidates, 700)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	included := plan.IncludedIDs()
	if !reflect.DeepEqual(included, []string{"C", "B"}) {
		t.Fatalf("expected included [C B], got %v", included)
	}
	if plan.TotalSelectedTokens != 700 {
		t.Fatalf("expected 700 selected tokens, got %d", plan.TotalSelectedTokens)
	}
	if plan.Truncated {
		t.Fatal("expected truncated = false")
	}

	entry := plan.Entry("A")
	if entry == nil {
		t.Fatal("expected entry for A")
	}
	if entry.Included {
		t.Fatal("expected A excluded")
	}
	if entry.Reason != model.ReasonExceedsRemainingBudget {
		t.Fatalf("expected reason %s, got %s", model.ReasonExceedsRemainingBudget, entry.Reason)
	}
}

func TestOptimize_Deterministic(t *testing.T) {
	opt := optimizer.New()
	candidates := []optimizer.Candidate{
		{ContentID: "d", Tokens: 100, RelevanceScore: 0.5, Position: 3},
		{ContentID: "a", Tokens: 100, RelevanceScore: 0.5, Position: 3},
		{ContentID: "c", Tokens: 100, RelevanceScore: 0.5, Position: 1},
		{ContentID: "b", Tokens: 100, RelevanceScore: 0.7, Position: 2},
	}

	first, err := opt.Optimize("ctx-1", candidates, 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := opt.Optimize("ctx-1", candidates, 250)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first.Entries, again.Entries) {
			t.Fatalf("run %d produced different entries:\n%v\n%v", i, first.Entries, again.Entries)
		}
	}

	// ties (rel=0.5, pos=3) break by content id ascending
	if !reflect.DeepEqual(first.IncludedIDs(), []string{"b", "c"}) {
		t.Fatalf("expected included [b c], got %v", first.IncludedIDs())
	}
}

func TestOptimize_RelaxationBeatsPrefixCut(t *testing.T) {
	// A naive prefix cut would stop at the first item that does not fit
	// and select only the 600-token item.
	opt := optimizer.New()
	candidates := []optimizer.Candidate{
		{ContentID: "big", Tokens: 600, RelevanceScore: 0.99, Position: 0},
		{ContentID: "huge", Tokens: 500, RelevanceScore: 0.9, Position: 1},
		{ContentID: "small-1", Tokens: 200, RelevanceScore: 0.8, Position: 2},
		{ContentID: "small-2", Tokens: 150, RelevanceScore: 0.7, Position: 3},
	}

	plan, err := opt.Optimize("ctx-1", candidates, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(plan.IncludedIDs(), []string{"big", "small-1", "small-2"}) {
		t.Fatalf("expected [big small-1 small-2], got %v", plan.IncludedIDs())
	}
	if plan.TotalSelectedTokens != 950 {
		t.Fatalf("expected 950 tokens, got %d", plan.TotalSelectedTokens)
	}

	skipped := plan.Entry("huge")
	if skipped == nil || skipped.Included {
		t.Fatal("expected huge skipped")
	}
	if skipped.Reason != model.ReasonExceedsRemainingBudget {
		t.Fatalf("expected reason %s, got %s", model.ReasonExceedsRemainingBudget, skipped.Reason)
	}
}

func TestOptimize_PinnedConsumeBudgetFirst(t *testing.T) {
	opt := optimizer.New()
	candidates := []optimizer.Candidate{
		{ContentID: "ranked", Tokens: 300, RelevanceScore: 0.99, Position: 0},
		{ContentID: "pinned", Tokens: 400, RelevanceScore: 0.1, Position: 1, Pinned: true},
	}

	plan, err := opt.Optimize("ctx-1", candidates, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pinned := plan.Entry("pinned")
	if pinned == nil || !pinned.Included || pinned.Reason != model.ReasonPinned {
		t.Fatalf("expected pinned admitted with reason %s, got %+v", model.ReasonPinned, pinned)
	}
	ranked := plan.Entry("ranked")
	if ranked == nil || ranked.Included {
		t.Fatal("expected ranked excluded: only 100 tokens left after pinned")
	}
}

func TestOptimize_PinnedOverflowTruncates(t *testing.T) {
	opt := optimizer.New()
	candidates := []optimizer.Candidate{
		{ContentID: "p1", Tokens: 400, RelevanceScore: 0.5, Position: 0, Pinned: true},
		{ContentID: "p2", Tokens: 400, RelevanceScore: 0.5, Position: 1, Pinned: true},
		{ContentID: "p3", Tokens: 100, RelevanceScore: 0.5, Position: 2, Pinned: true},
	}

	plan, err := opt.Optimize("ctx-1", candidates, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !plan.Truncated {
		t.Fatal("expected truncated = true")
	}
	if !reflect.DeepEqual(plan.IncludedIDs(), []string{"p1"}) {
		t.Fatalf("expected only p1 admitted, got %v", plan.IncludedIDs())
	}
	for _, id := range []string{"p2", "p3"} {
		entry := plan.Entry(id)
		if entry == nil || entry.Included {
			t.Fatalf("expected %s excluded", id)
		}
		if entry.Reason != model.ReasonBudgetExceededByPinned {
			t.Fatalf("expected reason %s for %s, got %s", model.ReasonBudgetExceededByPinned, id, entry.Reason)
		}
	}
	if plan.TotalSelectedTokens > 500 {
		t.Fatalf("selected tokens %d exceed budget", plan.TotalSelectedTokens)
	}
}

func TestOptimize_AllPinnedFitsExactly(t *testing.T) {
	opt := optimizer.New()
	candidates := []optimizer.Candidate{
		{ContentID: "p1", Tokens: 300, RelevanceScore: 0.5, Position: 0, Pinned: true},
		{ContentID: "p2", Tokens: 200, RelevanceScore: 0.5, Position: 1, Pinned: true},
	}

	plan, err := opt.Optimize("ctx-1", candidates, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Truncated {
		t.Fatal("expected truncated = false when pinned fit exactly")
	}
	if plan.TotalSelectedTokens != 500 {
		t.Fatalf("expected 500 tokens, got %d", plan.TotalSelectedTokens)
	}
}

func TestOptimize_MinRelevanceFilter(t *testing.T) {
	opt := optimizer.New(optimizer.WithMinRelevance(0.5))
	candidates := []optimizer.Candidate{
		{ContentID: "keep", Tokens: 100, RelevanceScore: 0.6, Position: 0},
		{ContentID: "drop", Tokens: 100, RelevanceScore: 0.4, Position: 1},
	}

	plan, err := opt.Optimize("ctx-1", candidates, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dropped := plan.Entry("drop")
	if dropped == nil || dropped.Included {
		t.Fatal("expected drop excluded")
	}
	if dropped.Reason != model.ReasonBelowMinRelevance {
		t.Fatalf("expected reason %s, got %s", model.ReasonBelowMinRelevance, dropped.Reason)
	}
}

func TestOptimize_ThresholdOverride(t *testing.T) {
	// a caller-supplied threshold replaces the constructor's setting
	opt := optimizer.New(optimizer.WithMinRelevance(0.2))
	candidates := []optimizer.Candidate{
		{ContentID: "keep", Tokens: 100, RelevanceScore: 0.9, Position: 0},
		{ContentID: "drop", Tokens: 100, RelevanceScore: 0.5, Position: 1},
	}

	plan, err := opt.OptimizeWithThreshold("ctx-1", candidates, 1000, 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(plan.IncludedIDs(), []string{"keep"}) {
		t.Fatalf("expected only keep included, got %v", plan.IncludedIDs())
	}
	if e := plan.Entry("drop"); e == nil || e.Reason != model.ReasonBelowMinRelevance {
		t.Fatalf("expected drop filtered by threshold, got %+v", e)
	}
}

func TestOptimize_InvalidBudget(t *testing.T) {
	opt := optimizer.New()
	for _, budget := range []int{0, -1} {
		_, err := opt.Optimize("ctx-1", nil, budget)
		if !errors.Is(err, coreerrors.ErrInvalidBudget) {
			t.Fatalf("budget %d: expected ErrInvalidBudget, got %v", budget, err)
		}
	}
}

func TestOptimize_EmptyCandidates(t *testing.T) {
	opt := optimizer.New()
	plan, err := opt.Optimize("ctx-1", nil, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Entries) != 0 || plan.TotalSelectedTokens != 0 || plan.Truncated {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}
