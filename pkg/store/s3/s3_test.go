package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed NoSuchKey", &types.NoSuchKey{}, true},
		{"typed NotFound", &types.NotFound{}, true},
		{"api code NoSuchKey", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"api code NotFound", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"wrapped api code", errors.Join(errors.New("op"), &smithy.GenericAPIError{Code: "NoSuchKey"}), true},
		{"status text", errors.New("https response error StatusCode: 404, RequestID: x"), true},
		{"unrelated", errors.New("connection reset"), false},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFoundError(tt.err); got != tt.want {
				t.Errorf("isNotFoundError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsInvalidRangeError(t *testing.T) {
	if !isInvalidRangeError(&smithy.GenericAPIError{Code: "InvalidRange"}) {
		t.Error("InvalidRange code should match")
	}
	if isInvalidRangeError(&smithy.GenericAPIError{Code: "NoSuchKey"}) {
		t.Error("NoSuchKey should not match")
	}
	if isInvalidRangeError(nil) {
		t.Error("nil should not match")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"throttling", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, true},
		{"not found", &smithy.GenericAPIError{Code: "NoSuchKey"}, false},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"io timeout", errors.New("dial tcp: i/o timeout"), true},
		{"validation", errors.New("invalid bucket name"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	s := New(nil, Config{Bucket: "b"})

	if got := s.backoff(0); got != 100*time.Millisecond {
		t.Errorf("backoff(0) = %v, want 100ms", got)
	}
	if got := s.backoff(1); got != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 200ms", got)
	}
	if got := s.backoff(20); got != 5*time.Second {
		t.Errorf("backoff(20) = %v, want cap 5s", got)
	}
}

func TestFullKey(t *testing.T) {
	s := New(nil, Config{Bucket: "b", KeyPrefix: "arrays/"})
	if got := s.fullKey("temps/0.0"); got != "arrays/temps/0.0" {
		t.Errorf("fullKey = %q, want arrays/temps/0.0", got)
	}

	s = New(nil, Config{Bucket: "b"})
	if got := s.fullKey("temps/0.0"); got != "temps/0.0" {
		t.Errorf("fullKey = %q, want temps/0.0", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Bucket: "b"}
	cfg.ApplyDefaults()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("MaxBackoff = %v, want 5s", cfg.MaxBackoff)
	}
}
