package kms

import (
	"context"
	"crypto"
	"encoding/base64"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

// VaultTransitAuthority signs digests with keys held in a Vault Transit engine.
// A key version resource name ".../cryptoKeys/K/cryptoKeyVersions/V" maps to
// Transit key K at version V.
type VaultTransitAuthority struct {
	client             *vault.Client
	mount              string
	signatureAlgorithm string
	logger             logger.Logger
}

// NewVaultTransitAuthority creates a Transit-backed authority. mount defaults to
// "transit"; signatureAlgorithm is "pss" or "pkcs1v15" and only matters for RSA keys.
func NewVaultTransitAuthority(client *vault.Client, mount, signatureAlgorithm string, log logger.Logger) (*VaultTransitAuthority, error) {
	if client == nil {
		return nil, fmt.Errorf("vault client is required")
	}
	if mount == "" {
		mount = "transit"
	}
	if signatureAlgorithm == "" {
		signatureAlgorithm = "pkcs1v15"
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &VaultTransitAuthority{
		client:             client,
		mount:              strings.Trim(mount, "/"),
		signatureAlgorithm: signatureAlgorithm,
		logger:             log.WithComponent("VaultTransitAuthority"),
	}, nil
}

// AsymmetricSign signs a precomputed digest. ECDSA signatures come back ASN.1
// DER encoded, the same shape Cloud KMS returns.
func (a *VaultTransitAuthority) AsymmetricSign(ctx context.Context, keyVersionName string, digest service.Digest) ([]byte, error) {
	key, version, err := transitKey(keyVersionName)
	if err != nil {
		return nil, err
	}
	hashName, err := transitHash(digest.Hash)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/sign/%s/%s", a.mount, key, hashName)
	secret, err := a.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"input":                base64.StdEncoding.EncodeToString(digest.Value),
		"prehashed":            true,
		"key_version":          version,
		"signature_algorithm":  a.signatureAlgorithm,
		"marshaling_algorithm": "asn1",
	})
	if err != nil {
		return nil, fmt.Errorf("transit sign %s: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit sign %s: empty response", key)
	}
	encoded, _ := secret.Data["signature"].(string)
	// Transit prefixes signatures with "vault:v<version>:".
	parts := strings.SplitN(encoded, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("transit sign %s: malformed signature", key)
	}
	sig, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("transit sign %s: decode signature: %w", key, err)
	}
	return sig, nil
}

// GetPublicKey reads the PEM public key of one Transit key version.
func (a *VaultTransitAuthority) GetPublicKey(ctx context.Context, keyVersionName string) (crypto.PublicKey, error) {
	key, version, err := transitKey(keyVersionName)
	if err != nil {
		return nil, err
	}
	secret, err := a.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/keys/%s", a.mount, key))
	if err != nil {
		return nil, fmt.Errorf("could not read transit key %s: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit key %s not found", key)
	}
	versions, ok := secret.Data["keys"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid transit key format for %s", key)
	}
	entry, ok := versions[version].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transit key %s has no version %s", key, version)
	}
	pemData, ok := entry["public_key"].(string)
	if !ok {
		return nil, fmt.Errorf("public_key not found for transit key %s", key)
	}
	return parsePublicKeyPEM(pemData)
}

func transitKey(keyVersionName string) (string, string, error) {
	parts := strings.Split(keyVersionName, "/")
	if len(parts) < 4 || parts[len(parts)-4] != "cryptoKeys" || parts[len(parts)-2] != "cryptoKeyVersions" {
		return "", "", fmt.Errorf("not a key version resource name: %q", keyVersionName)
	}
	return parts[len(parts)-3], parts[len(parts)-1], nil
}

func transitHash(h crypto.Hash) (string, error) {
	switch h {
	case crypto.SHA256:
		return "sha2-256", nil
	case crypto.SHA384:
		return "sha2-384", nil
	case crypto.SHA512:
		return "sha2-512", nil
	}
	return "", fmt.Errorf("unsupported digest hash %v", h)
}

var _ service.SignAuthority = (*VaultTransitAuthority)(nil)
