package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/intervoxai/intervox/internal/reliability"
)

// HTTPCredentialSource fetches session credentials from the proxy's
// credential endpoint.
type HTTPCredentialSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCredentialSource(baseURL string) *HTTPCredentialSource {
	return &HTTPCredentialSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

const credentialFetchAttempts = 3

// Fetch requests a grant, retrying transient HTTP failures with a short
// backoff before giving up.
func (s *HTTPCredentialSource) Fetch(ctx context.Context) (Credential, error) {
	var lastErr error
	for attempt := 1; attempt <= credentialFetchAttempts; attempt++ {
		if attempt > 1 {
			delay := reliability.ReconnectDelay(attempt-1, 250*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return Credential{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		cred, retryable, err := s.fetchOnce(ctx)
		if err == nil {
			return cred, nil
		}
		lastErr = err
		if !retryable {
			return Credential{}, err
		}
	}
	return Credential{}, lastErr
}

func (s *HTTPCredentialSource) fetchOnce(ctx context.Context) (Credential, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/session/credential", bytes.NewReader([]byte("{}")))
	if err != nil {
		return Credential{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Credential{}, true, fmt.Errorf("fetch credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("credential endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
		return Credential{}, reliability.IsRetryableHTTPStatus(resp.StatusCode), err
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, false, fmt.Errorf("decode credential: %w", err)
	}
	if cred.Token == "" || cred.LiveURL == "" {
		return Credential{}, false, fmt.Errorf("credential endpoint returned incomplete grant")
	}
	return cred, false, nil
}
