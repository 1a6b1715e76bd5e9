package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Practitioner is the principal resolved by the identity service.
type Practitioner struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpstreamStatusError carries a non-2xx verdict from the identity service so
// the caller can forward the upstream status and message verbatim.
type UpstreamStatusError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("identity service returned %d: %s", e.StatusCode, e.Message)
}

// Verifier validates bearer tokens against the external identity service.
type Verifier struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewVerifier builds a verifier for the given identity service base URL.
func NewVerifier(baseURL string, log zerolog.Logger) *Verifier {
	return &Verifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// Verify forwards the token to GET {base}/check and returns the resolved
// principal. Non-2xx responses become an *UpstreamStatusError; transport
// failures are returned wrapped.
func (v *Verifier) Verify(ctx context.Context, token string) (*Practitioner, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/check", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Message: body.Message}
	}

	var body struct {
		User Practitioner `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	if body.User.ID <= 0 {
		return nil, errors.New("identity response missing user id")
	}
	return &body.User, nil
}
