package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/types"
)

// tokenClaims is the wire shape of a bearer token issued by the auth
// service.
type tokenClaims struct {
	jwt.RegisteredClaims
	Tier   types.AccountTier `json:"tier"`
	Scopes []types.Scope     `json:"scopes"`
}

// Verifier checks bearer tokens against the auth service's public key.
type Verifier struct {
	keys KeySource
}

// NewVerifier creates a verifier backed by the given key source.
func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{keys: keys}
}

// Verify parses and validates a bearer token, returning the claim it
// carries.
func (v *Verifier) Verify(ctx context.Context, token string) (*types.Claim, error) {
	key, err := v.keys.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch verification key: %w", err)
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, types.WrapError(types.KindUnauthorized, err)
	}

	return &types.Claim{
		Sub:    claims.Subject,
		Tier:   claims.Tier,
		Scopes: claims.Scopes,
	}, nil
}

// KeySource provides the RSA public key tokens are verified against.
type KeySource interface {
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// StaticKey is a KeySource wrapping a key already in hand, used in
// tests and single-binary deployments.
type StaticKey struct {
	Key *rsa.PublicKey
}

func (s StaticKey) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	return s.Key, nil
}

// RemoteKeySource fetches the PEM public key from the auth service and
// caches it. The auth service rotates keys rarely; a short TTL keeps
// rotation windows small without a fetch per request.
type RemoteKeySource struct {
	authURI string
	client  *http.Client
	ttl     time.Duration

	mu        sync.Mutex
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// NewRemoteKeySource creates a key source polling {authURI}/public-key.
func NewRemoteKeySource(authURI string) *RemoteKeySource {
	return &RemoteKeySource{
		authURI: strings.TrimRight(authURI, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     5 * time.Minute,
	}
}

func (r *RemoteKeySource) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.key != nil && time.Since(r.fetchedAt) < r.ttl {
		return r.key, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.authURI+"/public-key", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		// serve the stale key during auth service blips
		if r.key != nil {
			log.WithComponent("auth").Warn().Err(err).Msg("Using cached verification key")
			return r.key, nil
		}
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service returned %d fetching public key", resp.StatusCode)
	}
	pemBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	r.key = key
	r.fetchedAt = time.Now()
	log.WithComponent("auth").Debug().Msg("Refreshed verification key")
	return key, nil
}
