package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"koois.id/internal/ids"
)

// Token lifetimes per purpose.
const (
	loginTTL         = time.Hour
	passwordResetTTL = 15 * time.Minute
)

// Claims is the signed session token payload.
type Claims struct {
	Username string  `json:"username"`
	RoleID   int32   `json:"role_id"`
	Purpose  Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim as the numeric identity id.
func (c *Claims) UserID() (int32, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse subject %q: %w", c.Subject, err)
	}
	return int32(id), nil
}

// Authority signs and verifies session tokens with a fixed RSA keypair loaded
// once at startup. Verification is stateless: validity depends only on the
// signature and the expiry claim.
type Authority struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	now        func() time.Time
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithAuthorityClock overrides the time source (useful for tests).
func WithAuthorityClock(fn func() time.Time) AuthorityOption {
	return func(a *Authority) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthority parses the PEM keypair. Keys coming from single-line
// environment values may carry literal \n escapes; callers are expected to
// unfold those before passing the PEM in.
func NewAuthority(privatePEM, publicPEM string, opts ...AuthorityOption) (*Authority, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	publicPEM = strings.TrimSpace(publicPEM)
	if privatePEM == "" || publicPEM == "" {
		return nil, errors.New("auth: both private and public keys are required")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	a := &Authority{
		privateKey: priv,
		publicKey:  pub,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue signs a session token for the given persisted user. The purpose
// selects the lifetime and is embedded in the claims so verification sites
// can reject cross-purpose use.
func (a *Authority) Issue(user User, purpose Purpose) (string, error) {
	if user.ID == 0 {
		return "", fmt.Errorf("%w: user id is not assigned", ErrInvalidInput)
	}
	var ttl time.Duration
	switch purpose {
	case PurposeLogin:
		ttl = loginTTL
	case PurposePasswordReset:
		ttl = passwordResetTTL
	default:
		return "", fmt.Errorf("%w: unsupported purpose %q", ErrInvalidInput, purpose)
	}

	now := a.now().UTC()
	claims := Claims{
		Username: user.Username,
		RoleID:   user.RoleID,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(int64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature against the public key and the expiry
// claim. Purpose checks remain the caller's responsibility: it must switch on
// claims.Purpose and reject tokens minted for a different use-site.
func (a *Authority) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, ErrSignatureInvalid
		}
		return a.publicKey, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, classifyTokenError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if _, err := ParsePurpose(string(claims.Purpose)); err != nil {
		return nil, ErrTokenMalformed
	}
	if claims.ExpiresAt == nil {
		return nil, ErrTokenMalformed
	}
	// Expiry re-checked here independently of the library validation.
	if !a.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrSignatureInvalid
	default:
		return ErrTokenMalformed
	}
}
