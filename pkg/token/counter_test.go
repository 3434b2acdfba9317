package token_test

import (
	"errors"
	"testing"

	coreerrors "github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/token"
)

func TestEstimatedCounter_Empty(t *testing.T) {
	counter := token.NewEstimatedCounter()
	if got := counter.Count(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
}

func TestEstimatedCounter_Text(t *testing.T) {
	counter := token.NewEstimatedCounter()

	short := counter.Count("hello world")
	if short <= 0 {
		t.Fatalf("expected positive count, got %d", short)
	}

	long := counter.Count("hello world this is a much longer sentence with many more words in it")
	if long <= short {
		t.Fatalf("expected longer text to count more tokens: %d vs %d", long, short)
	}
}

func TestEstimatedCounter_Idempotent(t *testing.T) {
	counter := token.NewEstimatedCounter()
	text := "the same input must always yield the same count"

	first := counter.Count(text)
	for i := 0; i < 5; i++ {
		if got := counter.Count(text); got != first {
			t.Fatalf("count changed between runs: %d vs %d", got, first)
		}
	}
}

func TestDefaultCounter(t *testing.T) {
	counter := token.DefaultCounter()
	if counter == nil {
		t.Fatal("expected non-nil counter")
	}
	if got := counter.Count("hello"); got <= 0 {
		t.Fatalf("expected positive count, got %d", got)
	}
}

// fixedCounter 用于让计费结果可预测
type fixedCounter struct{}

func (fixedCounter) Count(text string) int { return len(text) }

func TestCoster_TextAndCode(t *testing.T) {
	coster := token.NewCoster(token.WithCounter(fixedCounter{}))

	for _, typ := range []model.ContentType{model.ContentTypeText, model.ContentTypeCode} {
		got, err := coster.Cost(typ, token.Payload{Text: "abcd"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if got != 4 {
			t.Fatalf("%s: expected 4, got %d", typ, got)
		}
	}
}

func TestCoster_ImageBands(t *testing.T) {
	coster := token.NewCoster(token.WithCounter(fixedCounter{}))

	tests := []struct {
		name   string
		width  int
		height int
		want   int
	}{
		{"small", 512, 512, 85},
		{"medium", 1024, 600, 170},
		{"large", 800, 2048, 340},
		{"xlarge", 4096, 4096, 595},
		{"unknown resolution", 0, 0, 85},
		{"longest edge decides", 100, 1500, 340},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coster.Cost(model.ContentTypeImage, token.Payload{Width: tt.width, Height: tt.height})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCoster_List(t *testing.T) {
	coster := token.NewCoster(token.WithCounter(fixedCounter{}))

	got, err := coster.Cost(model.ContentTypeList, token.Payload{Items: []string{"a", "bb"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rendered as "- a\n- bb\n" = 9 chars
	if got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}

	empty, err := coster.Cost(model.ContentTypeList, token.Payload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty != 0 {
		t.Fatalf("expected 0 for empty list, got %d", empty)
	}
}

func TestCoster_UnsupportedType(t *testing.T) {
	coster := token.NewCoster(token.WithCounter(fixedCounter{}))

	_, err := coster.Cost(model.ContentType("video"), token.Payload{})
	if !errors.Is(err, coreerrors.ErrUnsupportedContentType) {
		t.Fatalf("expected ErrUnsupportedContentType, got %v", err)
	}
}
