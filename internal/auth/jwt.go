package auth

import (
	"context"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies HMAC-signed tokens locally. The user id comes from
// the "user_id" claim, falling back to "sub"; the name from "username".
type JWTValidator struct {
	secret []byte
}

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(_ context.Context, tokenString string) Result {
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods(hmacMethods))
	if err != nil || !token.Valid {
		reason := "invalid token"
		if err != nil {
			reason = err.Error()
		}
		return Result{Outcome: OutcomeRejected, Reason: reason}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Result{Outcome: OutcomeRejected, Reason: "invalid token claims"}
	}

	userID := claimString(claims["user_id"])
	if userID == "" {
		userID = claimString(claims["sub"])
	}
	if userID == "" {
		return Result{Outcome: OutcomeValid}
	}

	username, _ := claims["username"].(string)
	return Result{
		Outcome:  OutcomeValid,
		Identity: &Identity{UserID: userID, Username: username},
	}
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	default:
		return ""
	}
}
