// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/models"
)

// Sessions issues and verifies EdDSA-signed session tokens. A zero TTL issues
// tokens without an exp claim.
type Sessions struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// NewSessions generates a fresh key pair. Tokens do not survive a restart.
func NewSessions(ttl time.Duration) (*Sessions, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Sessions{private: priv, public: pub, ttl: ttl, now: time.Now}, nil
}

// NewSessionsFromFiles loads a raw ed25519 key pair from disk.
func NewSessionsFromFiles(privatePath, publicPath string, ttl time.Duration) (*Sessions, error) {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files have unexpected sizes")
	}
	return &Sessions{private: priv, public: pub, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for user.
func (s *Sessions) Issue(user models.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"name":  user.Username,
		"guest": user.IsGuest,
		"iat":   s.now().Unix(),
	}
	if s.ttl > 0 {
		claims["exp"] = s.now().Add(s.ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.private)
}

// Authenticate verifies tokenString and returns the identity it carries.
func (s *Sessions) Authenticate(tokenString string) (models.User, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.public, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.User{}, fmt.Errorf("jwt parse error: %w", err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return models.User{}, fmt.Errorf("invalid jwt claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return models.User{}, fmt.Errorf("missing sub in jwt")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return models.User{}, fmt.Errorf("malformed sub in jwt: %w", err)
	}
	name, _ := claims["name"].(string)
	guest, _ := claims["guest"].(bool)
	return models.User{ID: id, Username: name, IsGuest: guest}, nil
}

// NewGuest returns a fresh guest identity.
func NewGuest(name string) models.User {
	id := uuid.New()
	if name == "" {
		name = "guest-" + id.String()[:8]
	}
	return models.User{ID: id, Username: name, IsGuest: true}
}
