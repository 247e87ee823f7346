package memory

import (
	"context"
	"testing"

	"github.com/marmos91/gridstore/pkg/store"
	"github.com/marmos91/gridstore/pkg/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestIntrospection(t *testing.T) {
	s := New()
	ctx := context.Background()

	if s.Len() != 0 || s.TotalSize() != 0 {
		t.Fatalf("fresh store: Len=%d TotalSize=%d", s.Len(), s.TotalSize())
	}

	if err := s.Set(ctx, "a", make([]byte, 10)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "b", make([]byte, 32)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if s.TotalSize() != 42 {
		t.Errorf("TotalSize() = %d, want 42", s.TotalSize())
	}
}
