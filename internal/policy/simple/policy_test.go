package simple

import (
	"context"
	"testing"
)

func TestPolicyAllowsEverything(t *testing.T) {
	t.Parallel()

	p := New()
	if !p.Allowed(context.Background(), "https://books.example", "/en-gb/", "*") {
		t.Fatal("expected Allowed to return true")
	}
}
