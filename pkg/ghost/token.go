package ghost

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenAudience = "/admin/"
	tokenLifetime = 5 * time.Minute

	// A cached token is replaced this long before it expires.
	tokenRefreshMargin = time.Minute
)

// AdminKey is a parsed "<id>:<hex secret>" Admin API key.
type AdminKey struct {
	ID     string
	Secret []byte
}

// ParseAdminKey splits and decodes an Admin API key.
func ParseAdminKey(key string) (AdminKey, error) {
	id, secretHex, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || id == "" || secretHex == "" {
		return AdminKey{}, fmt.Errorf("%w: expected <id>:<secret>", ErrInvalidAdminKey)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return AdminKey{}, fmt.Errorf("%w: secret is not hex: %v", ErrInvalidAdminKey, err)
	}
	return AdminKey{ID: id, Secret: secret}, nil
}

// SignToken issues an Admin API token valid from now for five minutes.
func (k AdminKey) SignToken(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
		"aud": tokenAudience,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = k.ID

	signed, err := token.SignedString(k.Secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// tokenSource reuses a signed token until it is close to expiry.
type tokenSource struct {
	key AdminKey
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(key AdminKey) *tokenSource {
	return &tokenSource{key: key, now: time.Now}
}

func (s *tokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(tokenRefreshMargin).Before(s.expires) {
		return s.token, nil
	}
	token, err := s.key.SignToken(now)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = now.Add(tokenLifetime)
	return token, nil
}
