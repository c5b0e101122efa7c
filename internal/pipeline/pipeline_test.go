package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/huntcore/huntcore/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type article struct {
	Title string
	Body  string
}

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher(true, testLogger)
	var seen []string
	RegisterPipeline[*article](d, ProcessorFunc(func(ctx context.Context, item any) (any, error) {
		seen = append(seen, item.(*article).Title)
		return item, nil
	}))

	_, err := d.Dispatch(context.Background(), &article{Title: "Hello"})
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "Hello" {
		t.Fatalf("expected article to reach its pipeline, got %v", seen)
	}
}

func TestDispatcherStrictModeRejectsUnknownType(t *testing.T) {
	d := NewDispatcher(true, testLogger)
	_, err := d.Dispatch(context.Background(), 42)
	if !errors.Is(err, types.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestDispatcherNonStrictPassesThrough(t *testing.T) {
	d := NewDispatcher(false, testLogger)
	out, err := d.Dispatch(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Fatalf("expected passthrough of unrouted item, got %v", out)
	}
}

func TestRequiredFieldsDropsIncompleteItems(t *testing.T) {
	d := NewDispatcher(false, testLogger)
	d.RegisterPre("required_title", 0, RequiredFields{
		Getters: []func(any) string{func(item any) string { return item.(*article).Title }},
	})

	out, err := d.Dispatch(context.Background(), &article{Title: "", Body: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected item with empty title to be dropped, got %v", out)
	}

	out, err = d.Dispatch(context.Background(), &article{Title: "Hi", Body: "x"})
	if err != nil || out == nil {
		t.Fatalf("expected item with title to pass, got %v, %v", out, err)
	}
}

func TestDedupDropsRepeats(t *testing.T) {
	d := NewDispatcher(false, testLogger)
	dedup := NewDedup(func(item any) string { return item.(*article).Title })
	d.RegisterPre("dedup", 0, dedup)

	first, err := d.Dispatch(context.Background(), &article{Title: "A"})
	if err != nil || first == nil {
		t.Fatalf("first occurrence should pass: %v, %v", first, err)
	}

	second, err := d.Dispatch(context.Background(), &article{Title: "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Fatalf("duplicate should be dropped, got %v", second)
	}
}

func TestTrimStringsTrimsStructFields(t *testing.T) {
	d := NewDispatcher(false, testLogger)
	d.RegisterPre("trim", 0, TrimStrings{})

	out, err := d.Dispatch(context.Background(), &article{Title: "  Hello  ", Body: "\tWorld\n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.(*article)
	if got.Title != "Hello" || got.Body != "World" {
		t.Fatalf("expected trimmed fields, got %q / %q", got.Title, got.Body)
	}
}

func TestGlobalMiddlewareWrapsDispatch(t *testing.T) {
	d := NewDispatcher(false, testLogger)
	var entered, exited bool
	d.RegisterGlobal("trace", 0, func(ctx context.Context, item any, next func(context.Context, any) (any, error)) (any, error) {
		entered = true
		out, err := next(ctx, item)
		exited = true
		return out, err
	})

	_, err := d.Dispatch(context.Background(), &article{Title: "X"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entered || !exited {
		t.Fatal("expected global middleware to wrap the call")
	}
}

type closingProcessor struct{ closed *int }

func (c closingProcessor) Process(ctx context.Context, item any) (any, error) { return item, nil }
func (c closingProcessor) Close(ctx context.Context) error                    { *c.closed++; return nil }

func TestCloseRunsEachProcessorOnce(t *testing.T) {
	d := NewDispatcher(false, testLogger)
	var closed int
	RegisterPipeline[*article](d, closingProcessor{closed: &closed})

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected Close to run exactly once, ran %d times", closed)
	}
}

func BenchmarkDispatch(b *testing.B) {
	d := NewDispatcher(false, testLogger)
	RegisterPipeline[*article](d, ProcessorFunc(func(ctx context.Context, item any) (any, error) { return item, nil }))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Dispatch(context.Background(), &article{Title: "bench"})
	}
}
