package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassificationHelpers(t *testing.T) {
	cases := []struct {
		err  *Error
		kind ErrorKind
		pred func(error) bool
	}{
		{NewResolutionError("r", nil), KindResolution, IsResolution},
		{NewBuildError("b", nil), KindBuild, IsBuild},
		{NewCycleError("c", nil), KindCycle, IsCycle},
		{NewHashingError("h", nil), KindHashing, IsHashing},
		{NewConflictError("x", nil), KindConflict, IsConflict},
	}
	for _, tc := range cases {
		if tc.err.Kind != tc.kind {
			t.Errorf("kind = %s, want %s", tc.err.Kind, tc.kind)
		}
		if !tc.pred(tc.err) {
			t.Errorf("predicate rejected its own kind %s", tc.kind)
		}
		// Classification survives wrapping.
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !tc.pred(wrapped) {
			t.Errorf("predicate failed through wrapping for %s", tc.kind)
		}
	}

	if IsBuild(NewResolutionError("r", nil)) {
		t.Error("IsBuild accepted a resolution error")
	}
	if IsBuild(errors.New("plain")) {
		t.Error("IsBuild accepted a plain error")
	}
}

func TestErrorUnwrapAndContext(t *testing.T) {
	cause := errors.New("file not found")
	e := NewResolutionError("unit resolution failed", cause).
		WithUnit("lib/a.js").
		WithOrigin("src/main.js").
		WithResource("module!./a")

	if !errors.Is(e, cause) {
		t.Fatal("Unwrap chain lost the cause")
	}
	if e.UnitID != "lib/a.js" || e.Origin != "src/main.js" || e.Resource != "module!./a" {
		t.Fatalf("context fields wrong: %+v", e)
	}

	msg := e.Error()
	if msg == "" || msg == e.Message {
		t.Fatalf("Error() must include classification and context, got %q", msg)
	}
}

func TestErrorAsWarning(t *testing.T) {
	e := NewResolutionError("r", nil)
	if e.Severity != SeverityError {
		t.Fatalf("fresh severity = %s", e.Severity)
	}
	if e.AsWarning().Severity != SeverityWarning {
		t.Fatal("AsWarning did not demote")
	}
}

func TestSortErrorsIsDeterministic(t *testing.T) {
	errs := []*Error{
		NewBuildError("zz", nil).WithUnit("b"),
		NewBuildError("aa", nil).WithUnit("b"),
		NewResolutionError("m", nil).WithResource("module!./x"),
		NewResolutionError("m", nil).WithResource("module!./a"),
		NewBuildError("m", nil).WithUnit("a"),
	}
	SortErrors(errs)

	want := []struct{ unit, resource, msg string }{
		{"", "module!./a", "m"},
		{"", "module!./x", "m"},
		{"a", "", "m"},
		{"b", "", "aa"},
		{"b", "", "zz"},
	}
	for i, w := range want {
		got := errs[i]
		if got.UnitID != w.unit || got.Resource != w.resource || got.Message != w.msg {
			t.Fatalf("errs[%d] = (%q,%q,%q), want (%q,%q,%q)",
				i, got.UnitID, got.Resource, got.Message, w.unit, w.resource, w.msg)
		}
	}
}
