package httpstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marmos91/gridstore/pkg/store"
)

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := New(Config{BaseURL: srv.URL, Token: "sesame"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New with empty base URL should fail")
	}
	if _, err := New(Config{BaseURL: "ftp://host"}); err == nil {
		t.Error("New with ftp scheme should fail")
	}
	if _, err := New(Config{BaseURL: "http://host:8080/"}); err != nil {
		t.Errorf("New with trailing slash: %v", err)
	}
}

func TestGetHitsKeyPath(t *testing.T) {
	var gotPath, gotAuth string
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "payload")
	}))

	data, err := s.Get(context.Background(), "temps/0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Get = %q, want payload", data)
	}
	if gotPath != "/v1/keys/temps/0.0" {
		t.Errorf("path = %q, want /v1/keys/temps/0.0", gotPath)
	}
	if gotAuth != "Bearer sesame" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("Get absent = %v, want ErrKeyNotFound", err)
	}
}

func TestGetRangeSendsRangeHeader(t *testing.T) {
	var gotRange string
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, "cde")
	}))

	data, err := s.GetRange(context.Background(), "k", store.ByteRange{Offset: 2, Length: 3})
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if string(data) != "cde" {
		t.Errorf("GetRange = %q, want cde", data)
	}
	if gotRange != "bytes=2-4" {
		t.Errorf("Range header = %q, want bytes=2-4", gotRange)
	}
}

func TestGetRangeUnsatisfiable(t *testing.T) {
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes */10")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))

	_, err := s.GetRange(context.Background(), "k", store.ByteRange{Offset: 10})
	var re *store.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("GetRange past end = %v, want *RangeError", err)
	}
	if re.Offset != 10 || re.Size != 10 {
		t.Errorf("RangeError = %+v, want Offset 10 Size 10", re)
	}
}

func TestSetAndStatuses(t *testing.T) {
	var gotMethod string
	var gotBody []byte
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))

	if err := s.Set(context.Background(), "k", []byte("value")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if string(gotBody) != "value" {
		t.Errorf("body = %q, want value", gotBody)
	}
}

func TestDeleteTolerates404(t *testing.T) {
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	if err := s.Delete(context.Background(), "absent"); err != nil {
		t.Errorf("Delete absent = %v, want nil", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %q, want HEAD", r.Method)
		}
		if r.URL.Path == "/v1/keys/present" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))

	ok, err := s.Exists(context.Background(), "present")
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v; want true", ok, err)
	}
	ok, err = s.Exists(context.Background(), "absent")
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v; want false", ok, err)
	}
}

func TestListStreamsAndStopsEarly(t *testing.T) {
	var gotPrefix string
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefix = r.URL.Query().Get("prefix")
		fmt.Fprint(w, `["temps/0.0","temps/0.1","temps/1.0"]`)
	}))

	var keys []string
	for key, err := range s.List(context.Background(), "temps") {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		keys = append(keys, key)
		if len(keys) == 2 {
			break
		}
	}
	if len(keys) != 2 || keys[0] != "temps/0.0" || keys[1] != "temps/0.1" {
		t.Errorf("List = %v, want first two keys", keys)
	}
	if gotPrefix != "temps" {
		t.Errorf("prefix param = %q, want temps", gotPrefix)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusBadGateway)
	}))

	if _, err := s.Get(context.Background(), "k"); err == nil {
		t.Error("Get on 502 should fail")
	}
	if err := s.Set(context.Background(), "k", nil); err == nil {
		t.Error("Set on 502 should fail")
	}
}

func TestClosed(t *testing.T) {
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("Get after close = %v, want ErrStoreClosed", err)
	}
}
