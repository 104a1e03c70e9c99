// Package webhook authenticates payment processor callbacks and decides
// which deployment owns the transaction they refer to.
package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Authenticator checks the shared secret sent by the payment processor.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate compares the credential with the configured secret in
// constant time. Both sides are hashed first so that neither the position of
// the first differing byte nor the length of the secret leaks through timing.
// An empty secret rejects everything.
func (a *Authenticator) Authenticate(credential string) bool {
	if len(a.secret) == 0 {
		return false
	}

	want := sha256.Sum256(a.secret)
	got := sha256.Sum256([]byte(credential))

	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}
