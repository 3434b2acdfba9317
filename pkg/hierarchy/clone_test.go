package hierarchy_test

import (
	"context"
	"errors"
	"testing"

	coreerrors "github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/hierarchy"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/store"
)

func newCloneSource(t *testing.T, items store.ItemStore, graph store.GraphStore) *hierarchy.Manager {
	t.Helper()
	m := hierarchy.NewManager(items, graph)
	ctx := context.Background()

	src := model.NewContext("proj-1", "source", model.WithContextID("src"))
	src.Settings = map[string]interface{}{model.SettingTokenBudget: 4096}
	if err := m.CreateContext(ctx, src); err != nil {
		t.Fatalf("create source: %v", err)
	}

	child := model.NewContext("proj-1", "child", model.WithContextID("src-child"))
	child.ParentID = "src"
	if err := m.CreateContext(ctx, child); err != nil {
		t.Fatalf("create child: %v", err)
	}

	item := model.NewContextItem("src", "doc-1", 0)
	item.RelevanceScore = 0.8
	item.Selected = true
	pending := false
	item.PendingSelected = &pending
	if err := items.PutContextItem(ctx, item); err != nil {
		t.Fatalf("attach item: %v", err)
	}
	if err := items.PutContextItem(ctx, model.NewContextItem("src-child", "doc-2", 0)); err != nil {
		t.Fatalf("attach child item: %v", err)
	}

	return m
}

func TestClone_CopiesItemsWithSelectionReset(t *testing.T) {
	items := store.NewMemoryItemStore()
	graph := store.NewMemoryGraphStore()
	defer items.Close()
	defer graph.Close()

	m := newCloneSource(t, items, graph)
	ctx := context.Background()

	newID, err := m.Clone(ctx, "src", "proj-2", "copy")
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if newID == "src" {
		t.Fatal("clone must mint a fresh identity")
	}

	c, err := items.GetContext(ctx, newID)
	if err != nil {
		t.Fatalf("get clone: %v", err)
	}
	if c.ProjectID != "proj-2" || c.Name != "copy" {
		t.Fatalf("unexpected clone: %+v", c)
	}
	if got := c.TokenBudget(0); got != 4096 {
		t.Fatalf("expected settings carried over, got budget %d", got)
	}

	cloned, err := items.ListContextItems(ctx, newID)
	if err != nil {
		t.Fatalf("list clone items: %v", err)
	}
	if len(cloned) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cloned))
	}
	got := cloned[0]
	if got.ContentID != "doc-1" || got.RelevanceScore != 0.8 || got.Position != 0 {
		t.Fatalf("score/position must survive the clone: %+v", got)
	}
	if got.Selected || got.PendingSelected != nil {
		t.Fatalf("selection state must reset: %+v", got)
	}

	// shallow clone: the child stays behind
	trees, err := m.GetHierarchy(ctx, "proj-2")
	if err != nil {
		t.Fatalf("get hierarchy: %v", err)
	}
	if len(trees) != 1 || len(trees[0].Children) != 0 {
		t.Fatalf("expected a single childless root, got %+v", trees)
	}

	// the source is untouched
	srcItems, _ := items.ListContextItems(ctx, "src")
	if len(srcItems) != 1 || !srcItems[0].Selected {
		t.Fatalf("source mutated: %+v", srcItems)
	}
}

func TestClone_Recursive(t *testing.T) {
	items := store.NewMemoryItemStore()
	graph := store.NewMemoryGraphStore()
	defer items.Close()
	defer graph.Close()

	m := newCloneSource(t, items, graph)
	ctx := context.Background()

	newID, err := m.Clone(ctx, "src", "proj-2", "copy", hierarchy.WithRecurse(true))
	if err != nil {
		t.Fatalf("clone: %v", err)
	}

	trees, err := m.GetHierarchy(ctx, "proj-2")
	if err != nil {
		t.Fatalf("get hierarchy: %v", err)
	}
	if len(trees) != 1 || trees[0].Context.ID != newID {
		t.Fatalf("expected the clone as sole root, got %+v", trees)
	}
	if len(trees[0].Children) != 1 {
		t.Fatalf("expected the child cloned too, got %+v", trees[0])
	}
	childClone := trees[0].Children[0].Context
	if childClone.ID == "src-child" {
		t.Fatal("child clone must mint a fresh identity")
	}
	childItems, _ := items.ListContextItems(ctx, childClone.ID)
	if len(childItems) != 1 || childItems[0].ContentID != "doc-2" {
		t.Fatalf("child items not cloned: %+v", childItems)
	}
}

func TestClone_MissingSource(t *testing.T) {
	items := store.NewMemoryItemStore()
	graph := store.NewMemoryGraphStore()
	defer items.Close()
	defer graph.Close()

	m := hierarchy.NewManager(items, graph)
	_, err := m.Clone(context.Background(), "ghost", "proj-2", "copy")
	if !errors.Is(err, coreerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingItemStore injects a failure at ApplyClone
type failingItemStore struct {
	store.ItemStore
}

func (s *failingItemStore) ApplyClone(ctx context.Context, batch *store.CloneBatch) error {
	return store.ErrUnavailable
}

func TestClone_ApplyFailureLeavesNoArtifacts(t *testing.T) {
	inner := store.NewMemoryItemStore()
	graph := store.NewMemoryGraphStore()
	defer inner.Close()
	defer graph.Close()

	items := &failingItemStore{ItemStore: inner}
	m := newCloneSource(t, items, graph)
	ctx := context.Background()

	_, err := m.Clone(ctx, "src", "proj-2", "copy")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	contexts, err := inner.ListContexts(ctx, "proj-2")
	if err != nil {
		t.Fatalf("list contexts: %v", err)
	}
	if len(contexts) != 0 {
		t.Fatalf("partial clone visible: %+v", contexts)
	}
}

// failingGraphStore fails when registering cloned has-context edges
type failingGraphStore struct {
	store.GraphStore
}

func (s *failingGraphStore) AddEdge(ctx context.Context, edge *model.Relationship) error {
	if edge.Type == model.RelationHasContext {
		return store.ErrUnavailable
	}
	return s.GraphStore.AddEdge(ctx, edge)
}

func TestClone_GraphFailureCompensates(t *testing.T) {
	items := store.NewMemoryItemStore()
	innerGraph := store.NewMemoryGraphStore()
	defer items.Close()
	defer innerGraph.Close()

	// seed through a healthy graph store, inject the failure only for the clone
	newCloneSource(t, items, innerGraph)
	ctx := context.Background()

	failing := hierarchy.NewManager(items, &failingGraphStore{GraphStore: innerGraph})
	_, err := failing.Clone(ctx, "src", "proj-2", "copy")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	// after compensation the clone is invisible to readers
	contexts, err := items.ListContexts(ctx, "proj-2")
	if err != nil {
		t.Fatalf("list contexts: %v", err)
	}
	if len(contexts) != 0 {
		t.Fatalf("clone visible after compensation: %+v", contexts)
	}

	// the source is untouched
	if _, err := items.GetContext(ctx, "src"); err != nil {
		t.Fatalf("source damaged: %v", err)
	}
}
