package dcontext

import (
	"runtime"
	"strings"
	"testing"
)

// TestWithTrace ensures that tracing exposes the expected values in the
// context, and that nested traces link to their parent.
func TestWithTrace(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)

	ctx, done := WithTrace(Background())
	defer done("done tracing")

	if v := ctx.Value("trace.id"); v == nil || v == "" {
		t.Fatalf("trace.id was nil or empty: %#v", v)
	}
	if v := ctx.Value("trace.file"); v != file {
		t.Fatalf("unexpected trace.file: %v != %v", v, file)
	}
	if v := ctx.Value("trace.line"); v == nil {
		t.Fatal("trace.line was not set")
	}
	if v := ctx.Value("trace.start"); v == nil {
		t.Fatal("trace.start was not set")
	}

	fn, ok := ctx.Value("trace.func").(string)
	if !ok || !strings.Contains(fn, "TestWithTrace") {
		t.Fatalf("unexpected trace.func: %v", fn)
	}

	// A nested trace gets its own id and records the parent's.
	parentID := ctx.Value("trace.id")
	child, childDone := WithTrace(ctx)
	defer childDone("done child trace")

	if v := child.Value("trace.parent.id"); v != parentID {
		t.Fatalf("unexpected trace.parent.id: %v != %v", v, parentID)
	}
	if v := child.Value("trace.id"); v == parentID {
		t.Fatal("child trace should not share the parent's id")
	}
}
