package relevance_test

import (
	"context"
	"errors"
	"testing"

	coreerrors "github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/relevance"
	"github.com/easyops/contextcore-go/pkg/store"
)

func TestModel_DefaultScore(t *testing.T) {
	items := store.NewMemoryItemStore()
	defer items.Close()
	m := relevance.NewModel(items)

	got, err := m.GetScore(context.Background(), "ctx-1", "never-attached")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != model.DefaultRelevanceScore {
		t.Fatalf("expected default %v, got %v", model.DefaultRelevanceScore, got)
	}
}

func TestModel_SetAndGet(t *testing.T) {
	items := store.NewMemoryItemStore()
	defer items.Close()
	m := relevance.NewModel(items)
	ctx := context.Background()

	item := model.NewContextItem("ctx-1", "content-1", 0)
	if err := items.PutContextItem(ctx, item); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := m.SetScore(ctx, "ctx-1", "content-1", 0.75); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := m.GetScore(ctx, "ctx-1", "content-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}

	// last writer wins
	if err := m.SetScore(ctx, "ctx-1", "content-1", 0.2); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ = m.GetScore(ctx, "ctx-1", "content-1")
	if got != 0.2 {
		t.Fatalf("expected 0.2, got %v", got)
	}
}

func TestModel_ScoreOutOfRange(t *testing.T) {
	items := store.NewMemoryItemStore()
	defer items.Close()
	m := relevance.NewModel(items)

	for _, score := range []float64{-0.01, 1.01} {
		err := m.SetScore(context.Background(), "ctx-1", "content-1", score)
		if !errors.Is(err, coreerrors.ErrScoreOutOfRange) {
			t.Fatalf("score %v: expected ErrScoreOutOfRange, got %v", score, err)
		}
	}
}
