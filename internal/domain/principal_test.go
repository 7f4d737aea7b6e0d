package domain

import (
	"context"
	"testing"
)

func TestPrincipal(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFrom(ctx); ok {
		t.Error("bare context has a principal")
	}
	if got := UserID(ctx); got != "" {
		t.Errorf("UserID = %q, want empty", got)
	}

	ctx = WithPrincipal(ctx, Principal{UserID: "u1", Role: "editor"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.UserID != "u1" || p.Role != "editor" {
		t.Errorf("PrincipalFrom = %+v, %v", p, ok)
	}
	if got := UserID(ctx); got != "u1" {
		t.Errorf("UserID = %q, want u1", got)
	}
}
