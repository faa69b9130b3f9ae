package reliability

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/capture"
	"github.com/intervoxai/intervox/internal/protocol"
)

// FailureKind buckets session failures by what the caller can do about them.
type FailureKind string

const (
	// FailurePermission means the OS or user denied access to a device.
	// Retrying without user action cannot succeed.
	FailurePermission FailureKind = "permission"
	// FailureDevice means the requested hardware is missing or busy.
	FailureDevice FailureKind = "device"
	// FailureTransport means the network connection dropped or could not be
	// established. Usually transient.
	FailureTransport FailureKind = "transport"
	// FailureProtocol means the peer sent something we could not interpret.
	FailureProtocol FailureKind = "protocol"
)

// Classify buckets an error into a FailureKind for operator-facing logs.
// Unknown errors are assumed to be the network.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return FailurePermission
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return FailureDevice
	case errors.Is(err, protocol.ErrUnsupportedType):
		return FailureProtocol
	default:
		return FailureTransport
	}
}

// IsRetryableCloseCode classifies websocket close codes worth reconnecting
// after. Normal closure and policy rejections are final.
func IsRetryableCloseCode(code int) bool {
	switch code {
	case websocket.CloseAbnormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseInternalServerErr,
		websocket.CloseServiceRestart,
		websocket.CloseTryAgainLater:
		return true
	default:
		return false
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a transport error is worth a reconnect attempt.
// Explicit non-retryable close codes win; everything else on a live transport
// is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return IsRetryableCloseCode(closeErr.Code)
	}
	return true
}

// ReconnectDelay computes the capped exponential delay before a reconnect
// attempt. Attempts are 1-based; attempt 1 waits the base delay.
func ReconnectDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
