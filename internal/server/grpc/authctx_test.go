package grpcserver

import (
	"context"
	"testing"
)

func TestWithSubject_And_SubjectFromCtx(t *testing.T) {
	t.Parallel()

	if sub, ok := SubjectFromCtx(context.Background()); ok || sub != "" {
		t.Fatalf("expected no subject in empty ctx")
	}

	ctx := WithSubject(context.Background(), "ops")
	got, ok := SubjectFromCtx(ctx)
	if !ok || got != "ops" {
		t.Fatalf("mismatch: got %q ok=%v", got, ok)
	}

	if _, ok := SubjectFromCtx(WithSubject(context.Background(), "")); ok {
		t.Fatalf("empty subject must not count")
	}

	bad := context.WithValue(context.Background(), subjectKey, 42)
	if sub, ok := SubjectFromCtx(bad); ok || sub != "" {
		t.Fatalf("expected miss on wrong typed value")
	}
}
