package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/gridstore/internal/telemetry"
	"github.com/marmos91/gridstore/pkg/meta"
	"github.com/marmos91/gridstore/pkg/store"
)

// healthCheckTimeout bounds the backend probe so a stuck store cannot
// hang liveness checks.
const healthCheckTimeout = 5 * time.Second

// objectKey extracts and normalizes the key from the wildcard segment.
// On failure it writes a 400 and reports false.
func (s *Server) objectKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "*")
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		badRequest(w, "malformed key encoding")
		return "", false
	}
	key, err := store.NormalizeKey(unescaped)
	if err != nil {
		badRequest(w, err.Error())
		return "", false
	}
	return key, true
}

// storeError answers 500 for backend failures, recording the error on
// the request span. Not-found and range conditions are handled by the
// callers; everything reaching here is a genuine backend fault.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op, key string, err error) {
	telemetry.RecordError(r.Context(), err)
	s.log.Error("store operation failed",
		"request_id", RequestIDFromContext(r.Context()),
		"op", op,
		"key", key,
		"error", err,
	)
	internalError(w, "store operation failed")
}

// getKey handles GET /v1/keys/{key}. A Range header switches to partial
// reads with 206/416 semantics.
func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.objectKey(w, r)
	if !ok {
		return
	}
	if h := r.Header.Get("Range"); h != "" {
		s.getKeyRange(w, r, key, h)
		return
	}

	data, err := s.st.Get(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		notFound(w, "no object at key")
		return
	case err != nil:
		s.storeError(w, r, "get", key, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// getKeyRange serves a single-range request. Unparseable Range headers
// answer 416 the way net/http does. A satisfiable range answers 206; a
// range starting at or beyond the end answers 416 with the object size
// in Content-Range so clients can rebuild the range error.
func (s *Server) getKeyRange(w http.ResponseWriter, r *http.Request, key, header string) {
	rng, err := store.ParseRange(header)
	if err != nil {
		rangeNotSatisfiable(w, err.Error())
		return
	}

	data, err := s.st.GetRange(r.Context(), key, rng)
	var re *store.RangeError
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		notFound(w, "no object at key")
		return
	case errors.As(err, &re):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", re.Size))
		rangeNotSatisfiable(w, re.Error())
		return
	case err != nil:
		s.storeError(w, r, "get range", key, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Suffix ranges resolve against a size the gateway never learns, so
	// Content-Range is only emitted for explicit offsets.
	if rng.Offset >= 0 && len(data) > 0 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", rng.Offset, rng.Offset+int64(len(data))-1))
	}
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data)
}

// headKey handles HEAD /v1/keys/{key}. The store contract has no size
// probe, so existence plus Content-Length costs a full read.
func (s *Server) headKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.objectKey(w, r)
	if !ok {
		return
	}

	data, err := s.st.Get(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		w.WriteHeader(http.StatusNotFound)
		return
	case err != nil:
		s.storeError(w, r, "head", key, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
}

// putKey handles PUT /v1/keys/{key}, overwriting any previous object.
func (s *Server) putKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.objectKey(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "read request body: "+err.Error())
		return
	}
	if err := s.st.Set(r.Context(), key, data); err != nil {
		s.storeError(w, r, "put", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteKey handles DELETE /v1/keys/{key}. Deletes are idempotent all
// the way down, so the answer is 204 whether or not the key existed.
func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.objectKey(w, r)
	if !ok {
		return
	}

	if err := s.st.Delete(r.Context(), key); err != nil {
		s.storeError(w, r, "delete", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listKeys handles GET /v1/keys?prefix=. Keys stream out as a JSON array
// one element at a time, so listings never buffer in full. A backend
// failure mid-stream truncates the array, which the client's incremental
// decoder surfaces as a decode error.
func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if _, err := store.NormalizePrefix(prefix); err != nil {
		badRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	_, _ = io.WriteString(w, "[")
	n := 0
	for key, err := range s.st.List(r.Context(), prefix) {
		if err != nil {
			telemetry.RecordError(r.Context(), err)
			s.log.Error("list aborted",
				"request_id", RequestIDFromContext(r.Context()),
				"prefix", prefix,
				"error", err,
			)
			return
		}
		if n > 0 {
			_, _ = io.WriteString(w, ",")
		}
		enc, err := json.Marshal(key)
		if err != nil {
			return
		}
		_, _ = w.Write(enc)
		n++
	}
	_, _ = io.WriteString(w, "]\n")
}

// getArray handles GET /v1/arrays/{prefix}. It loads the metadata
// document under the prefix, validates it, and returns the normalized
// encoding. Purely a convenience for inspection; chunk traffic goes
// through /v1/keys.
func (s *Server) getArray(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		badRequest(w, "malformed prefix encoding")
		return
	}
	prefix, err := store.NormalizePrefix(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	doc, err := s.st.Get(r.Context(), meta.Key(prefix))
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		notFound(w, "no array at prefix")
		return
	case err != nil:
		s.storeError(w, r, "get array", prefix, err)
		return
	}

	md, err := meta.Parse(doc)
	if err != nil {
		s.log.Error("stored metadata document is invalid",
			"request_id", RequestIDFromContext(r.Context()),
			"prefix", prefix,
			"error", err,
		)
		internalError(w, "stored metadata document is invalid")
		return
	}
	out, err := md.Encode()
	if err != nil {
		internalError(w, "encode metadata document")
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	_, _ = w.Write(out)
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

// healthz handles GET /healthz. Stores that can probe their backend are
// probed; the rest report healthy as long as the process serves.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Round(time.Second).String()

	if hc, ok := s.st.(store.HealthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status: "unhealthy",
				Uptime: uptime,
				Error:  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Uptime: uptime,
	})
}
