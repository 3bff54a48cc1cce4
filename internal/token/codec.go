// Package token issues and verifies the signed, time-bound credentials used by
// the auth service: access, refresh, password-reset and email-verification
// tokens. The kind of a token is part of its signed payload, so a token minted
// for one purpose never verifies as another.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
	KindVerify  Kind = "verify"
)

func (k Kind) valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindReset, KindVerify:
		return true
	}
	return false
}

const (
	MinSecretLength = 32
	DefaultLeeway   = 5 * time.Second
)

var (
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrKindMismatch     = errors.New("token kind mismatch")
)

// Claims is the signed payload. For refresh tokens ID is the rotation identifier.
type Claims struct {
	Kind  Kind `json:"typ"`
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) SubjectID() string { return c.Subject }

func (c *Claims) TokenID() string { return c.ID }

type Token struct {
	Value     string
	ID        string
	Kind      Kind
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type CodecOption func(*Codec)

func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) { c.issuer = strings.TrimSpace(issuer) }
}

// WithLeeway sets the clock skew tolerance for time-based claims. Signatures are
// never subject to leeway.
func WithLeeway(leeway time.Duration) CodecOption {
	return func(c *Codec) {
		if leeway >= 0 {
			c.leeway = leeway
		}
	}
}

func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}

	c := &Codec{
		secret: []byte(secret),
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type IssueOption func(*Claims)

func WithAdmin(admin bool) IssueOption {
	return func(c *Claims) { c.Admin = admin }
}

// WithID pins the token identifier instead of generating one.
func WithID(id string) IssueOption {
	return func(c *Claims) { c.ID = id }
}

func (c *Codec) Issue(subjectID string, kind Kind, ttl time.Duration, opts ...IssueOption) (Token, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Token{}, errors.New("token subject is required")
	}
	if !kind.valid() {
		return Token{}, fmt.Errorf("unknown token kind %q", kind)
	}
	if ttl <= 0 {
		return Token{}, errors.New("token ttl must be positive")
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	for _, opt := range opts {
		opt(claims)
	}
	if claims.ID == "" {
		claims.ID = NewID(kind)
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return Token{
		Value:     value,
		ID:        claims.ID,
		Kind:      kind,
		SubjectID: subjectID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// NewID returns a fresh token identifier. Refresh tokens get ULIDs so rotation
// identifiers sort by issue time.
func NewID(kind Kind) string {
	if kind == KindRefresh {
		return ulid.Make().String()
	}
	return uuid.NewString()
}

func (c *Codec) Verify(value string, expected Kind) (*Claims, error) {
	return c.verify(value, expected, true)
}

// VerifyIgnoringExpiry checks signature and kind but accepts expired tokens.
// Logout uses it so an expired refresh token can still end its session.
func (c *Codec) VerifyIgnoringExpiry(value string, expected Kind) (*Claims, error) {
	return c.verify(value, expected, false)
}

func (c *Codec) verify(value string, expected Kind, validateTime bool) (*Claims, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if validateTime {
		opts = append(opts, jwt.WithLeeway(c.leeway), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
		if c.issuer != "" {
			opts = append(opts, jwt.WithIssuer(c.issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	if !claims.Kind.valid() || strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	if !validateTime && c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrMalformed
	}
	if claims.Kind != expected {
		return nil, ErrKindMismatch
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
