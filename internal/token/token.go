// Package token mints, verifies, revokes and refreshes the signed
// session tokens used by the auth pipeline.
//
// Verify is a pure function of the token string and the signing secret;
// the revocation blacklist is consulted by the middleware, not here, so
// the service stays a crypto primitive.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/strobelt/aegis/internal/cache"
)

// TTL is fixed per token: sessions live 24 hours from issuance and are
// reissued on refresh, never extended.
const TTL = 24 * time.Hour

var (
	// ErrMalformed is returned for strings that do not parse as a
	// three-part signed token.
	ErrMalformed = errors.New("malformed token")
	// ErrInvalidSignature is returned when the MAC does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned for structurally valid tokens past exp.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers verification failures not in the above kinds.
	ErrInvalid = errors.New("invalid token")
)

// Claims is the session claim set. Immutable once minted.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies session tokens with a symmetric HS256 key
// and keeps the per-subject registry and revocation blacklist in the
// cache store.
type Service struct {
	secret []byte
	cache  cache.Store
	now    func() time.Time
}

// NewService requires a non-empty signing secret; resolution of that
// secret is the caller's problem and failing here keeps a misconfigured
// process from serving authenticated routes.
func NewService(secret []byte, store cache.Store) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	return &Service{secret: secret, cache: store, now: time.Now}, nil
}

// Mint issues a token for the subject and registers it as the subject's
// current token. A later mint for the same subject supersedes the
// registry pointer only; previously issued tokens stay valid until their
// own expiry unless explicitly revoked.
func (s *Service) Mint(ctx context.Context, userID int64, email, role string) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	// Best-effort: a cold registry does not invalidate the token.
	s.cache.Set(ctx, registryKey(userID), Hash(signed), TTL)

	return signed, claims, nil
}

// Verify checks signature and expiry and returns the claims. It does not
// consult the cache; blacklist membership is the middleware's layer.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Revoke blacklists the token until its natural expiry and clears the
// subject's registry pointer. Revoking an already-expired or unknown
// token is not an error; logout is idempotent.
func (s *Service) Revoke(ctx context.Context, tokenStr string) error {
	claims, err := s.parseSignedOnly(tokenStr)
	if err != nil {
		return err
	}

	if claims.ExpiresAt != nil {
		remaining := claims.ExpiresAt.Time.Sub(s.now())
		if remaining > 0 {
			// TTL matches the token's own lifetime so the blacklist
			// never accumulates entries for dead tokens.
			s.cache.Set(ctx, BlacklistKey(Hash(tokenStr)), "1", remaining)
		}
	}
	s.cache.Delete(ctx, registryKey(claims.UserID))
	return nil
}

// Refresh verifies the presented token and issues a fresh one for the
// same subject, email and role. The old token is not blacklisted; it
// remains valid until its own expiry unless separately revoked.
func (s *Service) Refresh(ctx context.Context, tokenStr string) (string, *Claims, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return "", nil, err
	}
	return s.Mint(ctx, claims.UserID, claims.Email, claims.Role)
}

// IsRevoked reports blacklist membership for the exact token string.
func (s *Service) IsRevoked(ctx context.Context, tokenStr string) bool {
	return s.cache.Exists(ctx, BlacklistKey(Hash(tokenStr)))
}

// parseSignedOnly validates the signature but tolerates expiry, which
// lets logout clear state for a token that just lapsed.
func (s *Service) parseSignedOnly(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Hash returns the stable, non-reversible digest used for blacklist and
// registry entries. Raw tokens are never stored server-side.
func Hash(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

// BlacklistKey is the cache key holding a revocation marker.
func BlacklistKey(hash string) string {
	return "blacklisted_token:" + hash
}

func registryKey(userID int64) string {
	return fmt.Sprintf("user_token:%d", userID)
}
