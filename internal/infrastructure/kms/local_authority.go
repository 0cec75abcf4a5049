package kms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/turtacn/s2s/internal/domain/service"
)

// LocalAuthority signs with in-process private keys. It exists for local
// development and tests; production deployments use GCPAuthority or
// VaultTransitAuthority.
type LocalAuthority struct {
	mu    sync.RWMutex
	keys  map[string]crypto.Signer
	pss   map[string]bool
	calls int
	fail  error
	empty bool
}

// NewLocalAuthority creates an empty LocalAuthority.
func NewLocalAuthority() *LocalAuthority {
	return &LocalAuthority{
		keys: make(map[string]crypto.Signer),
		pss:  make(map[string]bool),
	}
}

// PutKey registers key under keyVersionName. usePSS selects RSASSA-PSS padding
// for RSA keys.
func (a *LocalAuthority) PutKey(keyVersionName string, key crypto.Signer, usePSS bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[keyVersionName] = key
	a.pss[keyVersionName] = usePSS
}

// FailWith makes every subsequent sign call return err (nil restores normal behavior).
func (a *LocalAuthority) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = err
}

// ReturnEmpty makes every subsequent sign call succeed with an empty signature.
func (a *LocalAuthority) ReturnEmpty(empty bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.empty = empty
}

// Calls returns how many sign calls were made.
func (a *LocalAuthority) Calls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls
}

// AsymmetricSign signs digest. ECDSA signatures are DER encoded, as a cloud KMS returns them.
func (a *LocalAuthority) AsymmetricSign(ctx context.Context, keyVersionName string, digest service.Digest) ([]byte, error) {
	a.mu.Lock()
	a.calls++
	key, ok := a.keys[keyVersionName]
	usePSS := a.pss[keyVersionName]
	fail, empty := a.fail, a.empty
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}
	if empty {
		return nil, nil
	}
	if !ok {
		return nil, fmt.Errorf("key version %s not found", keyVersionName)
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		if usePSS {
			return rsa.SignPSS(rand.Reader, k, digest.Hash, digest.Value, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		}
		return rsa.SignPKCS1v15(rand.Reader, k, digest.Hash, digest.Value)
	case *ecdsa.PrivateKey:
		return ecdsa.SignASN1(rand.Reader, k, digest.Value)
	default:
		return key.Sign(rand.Reader, digest.Value, digest.Hash)
	}
}

// GetPublicKey returns the public half of keyVersionName.
func (a *LocalAuthority) GetPublicKey(ctx context.Context, keyVersionName string) (crypto.PublicKey, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	key, ok := a.keys[keyVersionName]
	if !ok {
		return nil, fmt.Errorf("key version %s not found", keyVersionName)
	}
	return key.Public(), nil
}

var _ service.SignAuthority = (*LocalAuthority)(nil)
