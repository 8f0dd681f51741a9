package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
)

const maxBodySize = 1 << 20

// HTTPValidator asks the backend's "who am I" endpoint about a bearer
// token: GET {baseURL}/me answering {success, data:{id, username}}.
type HTTPValidator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPValidator(baseURL string, timeout time.Duration) *HTTPValidator {
	return &HTTPValidator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/me", nil)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Reason: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return Result{Outcome: OutcomeUnreachable, Reason: err.Error()}
		}
		return Result{Outcome: OutcomeRejected, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{Outcome: OutcomeRejected, Reason: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Outcome: OutcomeRejected, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.Get("success").Bool() {
		return Result{Outcome: OutcomeRejected, Reason: "backend reported failure"}
	}

	result := Result{Outcome: OutcomeValid}
	if id := parsed.Get("data.id"); id.Exists() {
		result.Identity = &Identity{
			UserID:   id.String(),
			Username: parsed.Get("data.username").String(),
		}
	}
	return result
}

// Healthy probes {baseURL}/health.
func (v *HTTPValidator) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
