package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hangarlabs/hangar/pkg/types"
)

type contextKey int

const claimKey contextKey = iota

// ClaimFromContext returns the verified claim attached by the JWT
// middleware, or nil for unauthenticated requests.
func ClaimFromContext(ctx context.Context) *types.Claim {
	claim, _ := ctx.Value(claimKey).(*types.Claim)
	return claim
}

// WithClaim attaches a claim to the context, used by middleware and
// tests.
func WithClaim(ctx context.Context, claim *types.Claim) context.Context {
	return context.WithValue(ctx, claimKey, claim)
}

// JWT verifies the Authorization bearer token and attaches the claim.
// Requests without a valid token are rejected with 401.
func JWT(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, types.NewError(types.KindUnauthorized))
				return
			}
			claim, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeError(w, types.NewError(types.KindUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), claim)))
		})
	}
}

// Scoped rejects requests whose claim does not carry the scope.
func Scoped(scope types.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim := ClaimFromContext(r.Context())
			if claim == nil {
				writeError(w, types.NewError(types.KindUnauthorized))
				return
			}
			if !claim.HasScope(scope) {
				writeError(w, types.NewError(types.KindForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminSecretHeader is the shared-secret header admin routes accept as
// an alternative to an admin-scoped token.
const AdminSecretHeader = "X-Hangar-Admin-Secret"

// AdminSecret admits requests carrying the shared admin key or an
// admin claim.
func AdminSecret(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" {
				presented := r.Header.Get(AdminSecretHeader)
				if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
					next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), &types.Claim{
						Sub:    "admin",
						Tier:   types.TierAdmin,
						Scopes: []types.Scope{types.ScopeAdmin},
					})))
					return
				}
			}

			claim := ClaimFromContext(r.Context())
			if claim != nil && claim.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, types.NewError(types.KindForbidden))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func writeError(w http.ResponseWriter, err *types.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(err)
}
