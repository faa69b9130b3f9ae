package reliability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/capture"
	"github.com/intervoxai/intervox/internal/protocol"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"permission", fmt.Errorf("open mic: %w", capture.ErrPermissionDenied), FailurePermission},
		{"device", capture.ErrDeviceUnavailable, FailureDevice},
		{"protocol", fmt.Errorf("decode: %w", protocol.ErrUnsupportedType), FailureProtocol},
		{"transport", errors.New("read tcp: connection reset"), FailureTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryableCloseCode(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{websocket.CloseNormalClosure, false},
		{websocket.ClosePolicyViolation, false},
		{websocket.CloseAbnormalClosure, true},
		{websocket.CloseGoingAway, true},
		{websocket.CloseTryAgainLater, true},
	}
	for _, tc := range cases {
		got := IsRetryableCloseCode(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableCloseCode(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("IsRetryable(nil) = true, want false")
	}
	normal := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	if IsRetryable(normal) {
		t.Fatalf("normal closure classified retryable")
	}
	abnormal := &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	if !IsRetryable(abnormal) {
		t.Fatalf("abnormal closure classified final")
	}
	if !IsRetryable(errors.New("read tcp: connection reset")) {
		t.Fatalf("plain transport error classified final")
	}
}

func TestReconnectDelay(t *testing.T) {
	base := time.Second
	capDur := 30 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, capDur},
		{0, time.Second},
	}
	for _, tc := range cases {
		got := ReconnectDelay(tc.attempt, base, capDur)
		if got != tc.want {
			t.Fatalf("ReconnectDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
