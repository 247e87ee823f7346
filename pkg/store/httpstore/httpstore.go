// Package httpstore provides a store implementation that talks to a
// gridstore gateway over HTTP. It is the client half of the gateway's
// /v1/keys surface, so a remote store composes like a local one.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/gridstore/pkg/store"
)

// Config holds configuration for the HTTP store client.
type Config struct {
	// BaseURL is the gateway address, e.g. "http://localhost:8080".
	BaseURL string `mapstructure:"base_url" validate:"required"`

	// Token is an optional bearer token sent with every request.
	Token string `mapstructure:"token"`

	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Store is an HTTP client implementation of store.Store.
type Store struct {
	baseURL    string
	token      string
	httpClient *http.Client
	closed     atomic.Bool
}

// New creates an HTTP store client.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("httpstore: base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("httpstore: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpstore: unsupported scheme %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// keyURL builds the object URL, escaping each path segment.
func (s *Store) keyURL(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/v1/keys/" + strings.Join(segs, "/")
}

// newRequest builds a request carrying the bearer token when configured.
func (s *Store) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("httpstore: create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// statusError drains a snippet of the body into the error message.
func statusError(op, key string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("httpstore: %s %q: unexpected status %d: %s", op, key, resp.StatusCode, msg)
}

// Get reads a complete object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	req, err := s.newRequest(ctx, http.MethodGet, s.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpstore: get %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpstore: read body %q: %w", key, err)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, store.ErrKeyNotFound
	default:
		return nil, statusError("get", key, resp)
	}
}

// GetRange reads a byte range via a Range header. The gateway answers 206
// for a satisfiable range and 416 when the range starts at or beyond the
// end of the object.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	req, err := s.newRequest(ctx, http.MethodGet, s.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", rng.String())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpstore: get range %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpstore: read body %q: %w", key, err)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, store.ErrKeyNotFound
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, &store.RangeError{
			Key:    key,
			Offset: rng.Offset,
			Length: rng.Length,
			Size:   sizeFromContentRange(resp.Header.Get("Content-Range")),
		}
	default:
		return nil, statusError("get range", key, resp)
	}
}

// sizeFromContentRange parses the object size from a "bytes */N" header.
func sizeFromContentRange(h string) int64 {
	rest, ok := strings.CutPrefix(h, "bytes */")
	if !ok {
		return 0
	}
	size, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// Set writes a complete object.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	req, err := s.newRequest(ctx, http.MethodPut, s.keyURL(key), bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpstore: put %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return statusError("put", key, resp)
	}
}

// Delete removes an object. The gateway answers 204 whether or not the key
// existed; a 404 from other servers is treated the same way.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	req, err := s.newRequest(ctx, http.MethodDelete, s.keyURL(key), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpstore: delete %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError("delete", key, resp)
	}
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return false, err
	}
	if s.closed.Load() {
		return false, store.ErrStoreClosed
	}

	req, err := s.newRequest(ctx, http.MethodHead, s.keyURL(key), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("httpstore: head %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("head", key, resp)
	}
}

// List streams keys under a prefix, decoding the gateway's JSON array
// incrementally so large listings never buffer in full.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := store.NormalizePrefix(prefix)
		if err != nil {
			yield("", err)
			return
		}
		if s.closed.Load() {
			yield("", store.ErrStoreClosed)
			return
		}

		listURL := s.baseURL + "/v1/keys"
		if prefix != "" {
			listURL += "?prefix=" + url.QueryEscape(prefix)
		}
		req, err := s.newRequest(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			yield("", err)
			return
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			yield("", fmt.Errorf("httpstore: list %q: %w", prefix, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield("", statusError("list", prefix, resp))
			return
		}

		dec := json.NewDecoder(resp.Body)
		if _, err := dec.Token(); err != nil {
			yield("", fmt.Errorf("httpstore: list %q: decode: %w", prefix, err))
			return
		}
		for dec.More() {
			var key string
			if err := dec.Decode(&key); err != nil {
				yield("", fmt.Errorf("httpstore: list %q: decode: %w", prefix, err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// SupportsPartialWrites reports that the gateway surface has no in-place
// update verb.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close marks the store as closed and drops idle connections.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.httpClient.CloseIdleConnections()
	return nil
}

// HealthCheck probes the gateway health endpoint.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	req, err := s.newRequest(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpstore: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpstore: health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
