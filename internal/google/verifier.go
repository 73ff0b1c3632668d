// Package google validates Google-issued OpenID Connect ID tokens against
// Google's published JWKS, with a TTL-bounded in-process key cache.
package google

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"koois.id/internal/obs"
)

// ErrVerification is returned for every rejected token. The detailed cause
// is logged server-side only; callers cannot distinguish failure modes.
var ErrVerification = errors.New("google: token verification failed")

const (
	defaultCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultCacheTTL = 3600 * time.Second
)

var acceptedIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Identity is the subset of ID-token claims the rest of the system needs.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	HostedDomain  string
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd"`
	jwt.RegisteredClaims
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type keyComponents struct {
	n string
	e string
}

type cachedKeys struct {
	keys      map[string]keyComponents
	expiresAt time.Time
}

// Verifier checks RS256 ID tokens signed by Google for a single OAuth
// client. Signing keys are fetched lazily and reused until the TTL the
// certs endpoint advertises has passed.
type Verifier struct {
	clientID string
	certsURL string
	client   *http.Client
	now      func() time.Time

	mu    sync.RWMutex
	cache cachedKeys
}

type Option func(*Verifier)

func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.client = c }
}

func WithCertsURL(url string) Option {
	return func(v *Verifier) { v.certsURL = url }
}

// WithClock overrides the verifier clock. Tests use it.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(clientID string, opts ...Option) (*Verifier, error) {
	if clientID == "" {
		return nil, errors.New("google: empty client id")
	}
	v := &Verifier{
		clientID: clientID,
		certsURL: defaultCertsURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates the ID token and returns the identity it asserts. Any
// failure is reported as ErrVerification; the cause is logged.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	identity, err := v.verify(ctx, token)
	if err != nil {
		obs.Error("google id token rejected", err, nil)
		return nil, ErrVerification
	}
	return identity, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (*Identity, error) {
	kid, err := tokenKeyID(token)
	if err != nil {
		return nil, err
	}
	keys, err := v.publicKeys(ctx)
	if err != nil {
		return nil, err
	}
	comp, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key with kid %q", kid)
	}
	pub, err := rsaKey(comp)
	if err != nil {
		return nil, err
	}

	claims := &idTokenClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return pub, nil
	}, jwt.WithAudience(v.clientID), jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, err
	}

	issuerOK := false
	for _, iss := range acceptedIssuers {
		if claims.Issuer == iss {
			issuerOK = true
			break
		}
	}
	if !issuerOK {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(v.now()) {
		return nil, errors.New("token expired")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing sub claim")
	}
	if claims.Email == "" {
		return nil, errors.New("missing email claim")
	}

	return &Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
		HostedDomain:  claims.HostedDomain,
	}, nil
}

// tokenKeyID extracts the kid from the JOSE header without verifying the
// signature; the key lookup happens before parsing proper.
func tokenKeyID(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.New("token is not a compact JWS")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode token header: %w", err)
	}
	var header struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", fmt.Errorf("parse token header: %w", err)
	}
	if header.Kid == "" {
		return "", errors.New("token header has no kid")
	}
	return header.Kid, nil
}

// publicKeys returns the cached key set, refreshing it from the certs
// endpoint when the TTL has passed. The fetch runs without the lock held so
// concurrent verifications are not serialized behind it.
func (v *Verifier) publicKeys(ctx context.Context) (map[string]keyComponents, error) {
	v.mu.RLock()
	if v.cache.keys != nil && v.now().Before(v.cache.expiresAt) {
		keys := v.cache.keys
		v.mu.RUnlock()
		return keys, nil
	}
	v.mu.RUnlock()

	keys, ttl, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache = cachedKeys{keys: keys, expiresAt: v.now().Add(ttl)}
	v.mu.Unlock()
	return keys, nil
}

func (v *Verifier) fetchKeys(ctx context.Context) (map[string]keyComponents, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build certs request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch certs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certs endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read certs body: %w", err)
	}

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))

	var set jwkSet
	if err := json.Unmarshal(stripChunkFraming(body), &set); err != nil {
		return nil, 0, fmt.Errorf("parse certs body: %w", err)
	}

	keys := make(map[string]keyComponents, len(set.Keys))
	for _, key := range set.Keys {
		if key.Kid == "" || key.N == "" || key.E == "" {
			continue
		}
		keys[key.Kid] = keyComponents{n: key.N, e: key.E}
	}
	if len(keys) == 0 {
		return nil, 0, errors.New("certs body has no usable keys")
	}
	obs.CountKeySetRefresh()
	return keys, ttl, nil
}

// cacheTTL reads the max-age directive out of a Cache-Control header,
// falling back to an hour when absent or unparsable.
func cacheTTL(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		value, found := strings.CutPrefix(part, "max-age=")
		if !found {
			continue
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultCacheTTL
}

// stripChunkFraming removes HTTP chunked transfer framing that survived into
// the body: hex chunk-size lines are dropped, a zero size line ends the
// payload. A body without framing passes through unchanged.
func stripChunkFraming(body []byte) []byte {
	lines := strings.Split(string(body), "\r\n")
	if len(lines) == 1 {
		return body
	}
	var out strings.Builder
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if size, err := strconv.ParseUint(trimmed, 16, 64); err == nil {
			if size == 0 {
				break
			}
			continue
		}
		out.WriteString(line)
	}
	return []byte(out.String())
}

func rsaKey(comp keyComponents) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(comp.n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(comp.e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero public exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
