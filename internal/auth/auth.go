// Package auth verifies the shared secret an RPC caller presents. The
// secret may be configured as plaintext (compared in constant time) or as
// a bcrypt hash. With neither configured the gateway runs open.
package auth

import (
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks presented keys against the configured secret.
// Safe for concurrent use; SetKey/SetKeyHash take effect immediately so
// the config watcher can hot-reload credentials.
type Authenticator struct {
	mu      sync.RWMutex
	key     string
	keyHash string
}

// New creates an authenticator. key is a plaintext shared secret,
// keyHash a bcrypt hash of one; keyHash wins when both are set.
func New(key, keyHash string) *Authenticator {
	return &Authenticator{key: key, keyHash: keyHash}
}

// Enabled reports whether any secret is configured.
func (a *Authenticator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.key != "" || a.keyHash != ""
}

// Verify reports whether the presented key is acceptable. An open-mode
// authenticator accepts anything, including an absent key.
func (a *Authenticator) Verify(presented string) bool {
	a.mu.RLock()
	key, keyHash := a.key, a.keyHash
	a.mu.RUnlock()

	if key == "" && keyHash == "" {
		return true
	}
	if presented == "" {
		return false
	}
	if keyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1
}

// SetKey replaces the plaintext secret.
func (a *Authenticator) SetKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.key = key
}

// SetKeyHash replaces the bcrypt hash.
func (a *Authenticator) SetKeyHash(hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keyHash = hash
}

// HashKey bcrypt-hashes a secret for SHELLGATE_AUTH_KEY_BCRYPT.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
