package adminserver

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/atrium/internal/config"
)

// Authenticator verifies the shared secret presented by AUTH. A bcrypt
// hash takes precedence over a plaintext secret when both are configured;
// the plaintext path compares in constant time.
type Authenticator struct {
	secret     []byte
	secretHash []byte
}

// NewAuthenticator builds an Authenticator from the admin configuration.
func NewAuthenticator(cfg config.AdminConfig) *Authenticator {
	return &Authenticator{
		secret:     []byte(cfg.Secret),
		secretHash: []byte(cfg.SecretHash),
	}
}

// Verify reports whether the presented secret is valid.
func (a *Authenticator) Verify(presented string) bool {
	if len(a.secretHash) > 0 {
		return bcrypt.CompareHashAndPassword(a.secretHash, []byte(presented)) == nil
	}
	if len(a.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(presented)) == 1
}
