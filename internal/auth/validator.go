// Package auth validates client tokens against the backend before a
// connection is promoted to authenticated.
package auth

import "context"

// Outcome is the validator's verdict on a token.
type Outcome string

const (
	OutcomeValid       Outcome = "valid"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnreachable Outcome = "unreachable"
)

// Identity is the user the backend resolved a token to.
type Identity struct {
	UserID   string
	Username string
}

type Result struct {
	Outcome Outcome
	// Identity is nil when the validator confirmed the token without
	// returning user data.
	Identity *Identity
	Reason   string
}

type Validator interface {
	Validate(ctx context.Context, token string) Result
}

// AcceptAll confirms every token. Used when validation is disabled.
type AcceptAll struct{}

func (AcceptAll) Validate(context.Context, string) Result {
	return Result{Outcome: OutcomeValid}
}
