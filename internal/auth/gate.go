package auth

import (
	"context"
	"errors"
	"time"

	"relay-service/internal/monitoring"
)

var ErrMissingCredentials = errors.New("token, userId and username are required")

const (
	messageInvalidToken = "invalid token"
)

// Request is the identity a client claims in its authenticate message.
type Request struct {
	Token    string
	UserID   string
	Username string
}

// Check reports ErrMissingCredentials when any field is empty. It needs no
// network access.
func (r Request) Check() error {
	if r.Token == "" || r.UserID == "" || r.Username == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Decision is the gate's final answer for one authenticate attempt.
type Decision struct {
	Accepted bool
	Outcome  Outcome
	UserID   string
	Username string
	// Message is set when the attempt was refused.
	Message string
}

// Gate applies the fail-open policy on top of a Validator and resolves the
// identity to attach.
type Gate struct {
	validator Validator
	failOpen  bool
	timeout   time.Duration
	monitor   *monitoring.Monitor
}

func NewGate(validator Validator, failOpen bool, timeout time.Duration, monitor *monitoring.Monitor) *Gate {
	if validator == nil {
		validator = AcceptAll{}
	}
	return &Gate{
		validator: validator,
		failOpen:  failOpen,
		timeout:   timeout,
		monitor:   monitor,
	}
}

// Authenticate blocks on the validator; callers run it off the hub loop.
func (g *Gate) Authenticate(ctx context.Context, req Request) Decision {
	if err := req.Check(); err != nil {
		g.monitor.Metrics().AuthOutcomes.WithLabelValues("missing_credentials").Inc()
		return Decision{Outcome: OutcomeRejected, Message: err.Error()}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	result := g.validator.Validate(ctx, req.Token)
	g.monitor.Metrics().AuthOutcomes.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case OutcomeValid:
	case OutcomeUnreachable:
		if !g.failOpen {
			g.monitor.Warn("auth", "validate token", errors.New(result.Reason), "userID", req.UserID, "policy", "fail-closed")
			return Decision{Outcome: result.Outcome, Message: messageInvalidToken}
		}
		g.monitor.Warn("auth", "validate token", errors.New(result.Reason), "userID", req.UserID, "policy", "fail-open")
	default:
		g.monitor.Logger().Warn("Token rejected", "userID", req.UserID, "reason", result.Reason)
		return Decision{Outcome: result.Outcome, Message: messageInvalidToken}
	}

	decision := Decision{
		Accepted: true,
		Outcome:  result.Outcome,
		UserID:   req.UserID,
		Username: req.Username,
	}
	if id := result.Identity; id != nil {
		if id.UserID != "" {
			decision.UserID = id.UserID
		}
		if id.Username != "" {
			decision.Username = id.Username
		}
	}
	return decision
}
