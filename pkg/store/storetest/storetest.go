// Package storetest runs the Store contract against a backend adapter.
// Every adapter's tests call Run with a factory producing a fresh, empty
// store; the suite checks the behaviors the engine depends on being
// identical across backends, delete idempotence above all.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/marmos91/gridstore/pkg/store"
)

// Factory returns a fresh, empty store. Cleanup is the test's concern;
// register it with t.Cleanup inside the factory.
type Factory func(t *testing.T) store.Store

// Run exercises the full Store contract against the factory's stores.
func Run(t *testing.T, newStore Factory) {
	t.Run("SetGet", func(t *testing.T) { testSetGet(t, newStore) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newStore) })
	t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, newStore) })
	t.Run("BufferOwnership", func(t *testing.T) { testBufferOwnership(t, newStore) })
	t.Run("GetRange", func(t *testing.T) { testGetRange(t, newStore) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, newStore) })
	t.Run("Exists", func(t *testing.T) { testExists(t, newStore) })
	t.Run("List", func(t *testing.T) { testList(t, newStore) })
	t.Run("KeyNormalization", func(t *testing.T) { testKeyNormalization(t, newStore) })
	t.Run("PartialWrites", func(t *testing.T) { testPartialWrites(t, newStore) })
	t.Run("ConcurrentDistinctKeys", func(t *testing.T) { testConcurrentDistinctKeys(t, newStore) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore) })
}

func testSetGet(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	value := []byte("chunk payload bytes")
	if err := s.Set(ctx, "temps/0.0", value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "temps/0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get = %q, want %q", got, value)
	}
}

func testGetMissing(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "never/written"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("Get(missing) = %v, want ErrKeyNotFound", err)
	}
	if _, err := s.GetRange(ctx, "never/written", store.ByteRange{Offset: 0, Length: 4}); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("GetRange(missing) = %v, want ErrKeyNotFound", err)
	}
}

func testOverwrite(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("first version, longer")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get after overwrite = %q, want %q", got, "second")
	}
}

func testEmptyValue(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "empty", nil); err != nil {
		t.Fatalf("Set(nil): %v", err)
	}
	got, err := s.Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Get = %d bytes, want 0", len(got))
	}
	ok, err := s.Exists(ctx, "empty")
	if err != nil || !ok {
		t.Errorf("Exists(empty object) = %v, %v; want true, nil", ok, err)
	}
}

func testBufferOwnership(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	// Mutating the caller's slice after Set must not change the stored
	// object, and mutating a returned slice must not change it either.
	value := []byte("immutable")
	if err := s.Set(ctx, "k", value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'X'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "immutable" {
		t.Fatalf("stored value changed through the caller's buffer: %q", got)
	}
	got[0] = 'Y'

	again, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(again) != "immutable" {
		t.Errorf("stored value changed through a returned buffer: %q", again)
	}
}

func testGetRange(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := s.Set(ctx, "ranged", payload); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cases := []struct {
		name string
		rng  store.ByteRange
		want []byte
	}{
		{"bounded", store.ByteRange{Offset: 16, Length: 16}, payload[16:32]},
		{"to end", store.ByteRange{Offset: 240, Length: 0}, payload[240:]},
		{"suffix", store.ByteRange{Offset: -32, Length: 0}, payload[224:]},
		{"suffix longer than object", store.ByteRange{Offset: -10000, Length: 0}, payload},
		{"overrun truncates", store.ByteRange{Offset: 250, Length: 100}, payload[250:]},
		{"full", store.ByteRange{Offset: 0, Length: 0}, payload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.GetRange(ctx, "ranged", tc.rng)
			if err != nil {
				t.Fatalf("GetRange(%v): %v", tc.rng, err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("GetRange(%v) = %d bytes %x…, want %d bytes", tc.rng, len(got), got[:min(8, len(got))], len(tc.want))
			}
		})
	}

	t.Run("at end", func(t *testing.T) {
		_, err := s.GetRange(ctx, "ranged", store.ByteRange{Offset: 256, Length: 1})
		var re *store.RangeError
		if !errors.As(err, &re) {
			t.Errorf("GetRange(at end) = %v, want *RangeError", err)
		}
	})
	t.Run("past end", func(t *testing.T) {
		_, err := s.GetRange(ctx, "ranged", store.ByteRange{Offset: 1000, Length: 0})
		var re *store.RangeError
		if !errors.As(err, &re) {
			t.Errorf("GetRange(past end) = %v, want *RangeError", err)
		}
	})
}

func testDeleteIdempotent(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	// Deleting a key that was never written succeeds. Fill-value elision
	// deletes chunks unconditionally, so this holds on every backend.
	if err := s.Delete(ctx, "never/written"); err != nil {
		t.Fatalf("Delete(never written) = %v, want nil", err)
	}

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete = %v, want nil", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("Get after Delete = %v, want ErrKeyNotFound", err)
	}
	ok, err := s.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists after Delete = true, want false")
	}
}

func testExists(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "ghost")
	if err != nil {
		t.Fatalf("Exists(missing): %v", err)
	}
	if ok {
		t.Error("Exists(missing) = true")
	}

	if err := s.Set(ctx, "present", []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err = s.Exists(ctx, "present")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists(present) = false")
	}
}

func testList(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	keys := []string{
		"temps/array.json",
		"temps/0.0",
		"temps/0.1",
		"temps/1.0",
		"pressure/array.json",
		"pressure/0.0",
		"loose",
	}
	for _, k := range keys {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	collect := func(prefix string) []string {
		var got []string
		for k, err := range s.List(ctx, prefix) {
			if err != nil {
				t.Fatalf("List(%q) iteration error: %v", prefix, err)
			}
			got = append(got, k)
		}
		sort.Strings(got)
		return got
	}

	all := collect("")
	wantAll := append([]string(nil), keys...)
	sort.Strings(wantAll)
	if !slices.Equal(all, wantAll) {
		t.Errorf("List(\"\") = %v, want %v", all, wantAll)
	}

	temps := collect("temps")
	wantTemps := []string{"temps/0.0", "temps/0.1", "temps/1.0", "temps/array.json"}
	if !slices.Equal(temps, wantTemps) {
		t.Errorf("List(\"temps\") = %v, want %v", temps, wantTemps)
	}

	// Prefixes match whole path segments: "temp" is not a prefix of
	// "temps/…" at a segment boundary.
	if got := collect("temp"); len(got) != 0 {
		t.Errorf("List(\"temp\") = %v, want empty", got)
	}

	// A prefix equal to a full key matches that key.
	if got := collect("loose"); !slices.Equal(got, []string{"loose"}) {
		t.Errorf("List(\"loose\") = %v, want [loose]", got)
	}

	if got := collect("absent/prefix"); len(got) != 0 {
		t.Errorf("List(absent) = %v, want empty", got)
	}
}

func testKeyNormalization(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "/temps//0.0/", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "temps/0.0")
	if err != nil {
		t.Fatalf("Get(normalized form): %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}

	if _, err := s.Get(ctx, "a/../b"); err == nil {
		t.Error("Get with traversal segment succeeded, want error")
	}
	if err := s.Set(ctx, "", []byte("x")); err == nil {
		t.Error("Set with empty key succeeded, want error")
	}
}

func testPartialWrites(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	pw, ok := s.(store.PartialWriter)
	if s.SupportsPartialWrites() != ok {
		t.Fatalf("SupportsPartialWrites() = %v but PartialWriter assertion = %v", s.SupportsPartialWrites(), ok)
	}
	if !ok {
		t.Skip("store does not support partial writes")
	}

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
		t.Errorf("Get after SetRange = %q, want %q", got, "aaaBBBaaaa")
	}

	if err := pw.SetRange(ctx, "missing", 0, []byte("x")); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("SetRange(missing) = %v, want ErrKeyNotFound", err)
	}
}

func testConcurrentDistinctKeys(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent/%d", i)
			errs[i] = s.Set(ctx, key, []byte(key))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent Set %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("concurrent/%d", i)
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if string(got) != key {
			t.Errorf("Get(%q) = %q", key, got)
		}
	}
}

func testClosed(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close = %v, want nil", err)
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("Get after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.Set(ctx, "k", []byte("v2")); !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("Set after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("Delete after Close = %v, want ErrStoreClosed", err)
	}
	for _, err := range s.List(ctx, "") {
		if errors.Is(err, store.ErrStoreClosed) {
			return
		}
	}
	t.Error("List after Close yielded no ErrStoreClosed")
}
