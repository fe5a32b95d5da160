// Package auth verifies the HS256 bearer tokens issued by the account service
// and carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller of an operation.
type Identity struct {
	ID    uuid.UUID
	Email string
	Role  Role
}

func (i Identity) IsPatient() bool { return i.Role == RolePatient }
func (i Identity) IsDoctor() bool  { return i.Role == RoleDoctor }

// Claims mirrors the payload signed at login: {id, email, role}.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a signed token and returns the identity it
// carries. Expired tokens, foreign algorithms and malformed ids are rejected.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject id", ErrInvalidToken)
	}

	role := Role(claims.Role)
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return Identity{ID: id, Email: claims.Email, Role: role}, nil
}

// Sign issues a token for ident. The API never calls it; seed and simulate
// tooling use it to mint credentials against a shared secret.
func Sign(secret string, ident Identity, claims jwt.RegisteredClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:               ident.ID.String(),
		Email:            ident.Email,
		Role:             string(ident.Role),
		RegisteredClaims: claims,
	})
	return tok.SignedString([]byte(secret))
}

type contextKey struct{}

func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, ident)
}

func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(contextKey{}).(Identity)
	return ident, ok
}
