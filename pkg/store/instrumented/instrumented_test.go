package instrumented

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marmos91/gridstore/pkg/store"
	"github.com/marmos91/gridstore/pkg/store/memory"
	"github.com/marmos91/gridstore/pkg/store/storetest"
)

// recorder collects observations for assertions.
type recorder struct {
	mu         sync.Mutex
	operations []string
	statuses   []error
	readBytes  int64
	writeBytes int64
}

func (r *recorder) ObserveOperation(backend, operation string, seconds float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = append(r.operations, backend+"."+operation)
	r.statuses = append(r.statuses, err)
}

func (r *recorder) RecordBytes(backend, direction string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if direction == "read" {
		r.readBytes += n
	} else {
		r.writeBytes += n
	}
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New(memory.New(), "memory", &recorder{})
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestContractNilMetrics(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New(memory.New(), "memory", nil)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestObservations(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := New(memory.New(), "memory", rec)
	defer s.Close()

	if err := s.Set(ctx, "k", []byte("12345")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := s.Get(ctx, "absent"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("Get absent = %v, want ErrKeyNotFound", err)
	}
	for range s.List(ctx, "") {
	}

	want := []string{"memory.Set", "memory.Get", "memory.Get", "memory.List"}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.operations) != len(want) {
		t.Fatalf("operations = %v, want %v", rec.operations, want)
	}
	for i, op := range want {
		if rec.operations[i] != op {
			t.Errorf("operations[%d] = %q, want %q", i, rec.operations[i], op)
		}
	}
	if !errors.Is(rec.statuses[2], store.ErrKeyNotFound) {
		t.Errorf("statuses[2] = %v, want ErrKeyNotFound", rec.statuses[2])
	}
	if rec.writeBytes != 5 || rec.readBytes != 5 {
		t.Errorf("bytes = %d written %d read, want 5/5", rec.writeBytes, rec.readBytes)
	}
}

func TestPartialWriteCapabilityForwarded(t *testing.T) {
	// memory supports partial writes, so the wrapper must too.
	s := New(memory.New(), "memory", &recorder{})
	defer s.Close()

	if !s.SupportsPartialWrites() {
		t.Fatal("SupportsPartialWrites = false wrapping memory, want true")
	}
	pw, ok := s.(store.PartialWriter)
	if !ok {
		t.Fatal("wrapper does not implement PartialWriter")
	}

	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("aaaaaaaaaa")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := pw.SetRange(ctx, "k", 3, []byte("BBB")); err != nil {
		t.Fatalf("SetRange: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "aaaBBBaaaa" {
		t.Errorf("Get = %q, want aaaBBBaaaa", got)
	}
}
