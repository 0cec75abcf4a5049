package models

import (
	"fmt"
	"strings"

	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
)

// SigningKeyIdentity identifies one version of an asymmetric KMS key and the JWT
// algorithm it backs. It is immutable once constructed.
// SigningKeyIdentity 标识一个非对称 KMS 密钥的某个版本及其对应的 JWT 算法。构造后不可变。
type SigningKeyIdentity struct {
	project   string
	location  string
	keyRing   string
	key       string
	version   string
	algorithm constants.JWTAlgorithm
	kid       string
}

// NewSigningKeyIdentity validates every field and derives the key id.
// A missing field or an algorithm outside the supported set is a ConfigurationError.
// NewSigningKeyIdentity 校验所有字段并派生 kid；任一字段缺失或算法不受支持时返回 ConfigurationError。
func NewSigningKeyIdentity(project, location, keyRing, key, version, algorithm string) (SigningKeyIdentity, error) {
	required := []struct {
		setting string
		value   string
	}{
		{"s2s.signing_key.project", project},
		{"s2s.signing_key.location", location},
		{"s2s.signing_key.key_ring", keyRing},
		{"s2s.signing_key.key", key},
		{"s2s.signing_key.version", version},
		{"s2s.signing_key.algorithm", algorithm},
	}
	for _, r := range required {
		if r.value == "" {
			return SigningKeyIdentity{}, errors.Configuration(r.setting, "must not be empty")
		}
	}
	if !constants.IsSupportedAlgorithm(algorithm) {
		return SigningKeyIdentity{}, errors.Configuration("s2s.signing_key.algorithm",
			fmt.Sprintf("unsupported algorithm %q", algorithm))
	}

	return SigningKeyIdentity{
		project:   project,
		location:  location,
		keyRing:   keyRing,
		key:       key,
		version:   version,
		algorithm: constants.JWTAlgorithm(algorithm),
		kid: constants.KIDPrefix + project + ":" + location + ":" + keyRing + ":" + key +
			":v" + version,
	}, nil
}

// KID returns the deterministic key id embedded in every token header.
// KID 返回嵌入在每个令牌头中的确定性密钥 ID。
func (k SigningKeyIdentity) KID() string { return k.kid }

// Algorithm returns the JWT algorithm name.
// Algorithm 返回 JWT 算法名称。
func (k SigningKeyIdentity) Algorithm() string { return string(k.algorithm) }

func (k SigningKeyIdentity) Project() string  { return k.project }
func (k SigningKeyIdentity) Location() string { return k.location }
func (k SigningKeyIdentity) KeyRing() string  { return k.keyRing }
func (k SigningKeyIdentity) Key() string      { return k.key }
func (k SigningKeyIdentity) Version() string  { return k.version }

// IsZero reports whether the identity was never constructed.
func (k SigningKeyIdentity) IsZero() bool { return k.kid == "" }

// ResourceName returns the fully-qualified key-version resource name used by the
// signing authority.
// ResourceName 返回签名服务使用的完整密钥版本资源名。
func (k SigningKeyIdentity) ResourceName() string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s/cryptoKeyVersions/%s",
		k.project, k.location, k.keyRing, k.key, k.version)
}

// String implements fmt.Stringer.
func (k SigningKeyIdentity) String() string {
	return k.kid + " (" + string(k.algorithm) + ")"
}

// ResourceNameFromKID reverses KID: it maps a key id back to the key-version
// resource name. Used by verifiers that only see the token header.
// ResourceNameFromKID 将 kid 还原为密钥版本资源名，供只能看到令牌头的验证方使用。
func ResourceNameFromKID(kid string) (string, error) {
	if !strings.HasPrefix(kid, constants.KIDPrefix) {
		return "", fmt.Errorf("kid %q lacks the %q prefix", kid, constants.KIDPrefix)
	}
	parts := strings.Split(strings.TrimPrefix(kid, constants.KIDPrefix), ":")
	if len(parts) != 5 || !strings.HasPrefix(parts[4], "v") {
		return "", fmt.Errorf("malformed kid %q", kid)
	}
	for _, p := range parts {
		if p == "" || p == "v" {
			return "", fmt.Errorf("malformed kid %q", kid)
		}
	}
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s/cryptoKeyVersions/%s",
		parts[0], parts[1], parts[2], parts[3], strings.TrimPrefix(parts[4], "v")), nil
}

// KIDForKeyVersion builds the kid of version of the key named keyName
// ("projects/P/locations/L/keyRings/R/cryptoKeys/K").
// KIDForKeyVersion 根据密钥资源名与版本构造 kid。
func KIDForKeyVersion(keyName, version string) (string, error) {
	parts := strings.Split(keyName, "/")
	if len(parts) != 8 || parts[0] != "projects" || parts[2] != "locations" ||
		parts[4] != "keyRings" || parts[6] != "cryptoKeys" || version == "" {
		return "", fmt.Errorf("malformed key name %q", keyName)
	}
	for _, i := range []int{1, 3, 5, 7} {
		if parts[i] == "" {
			return "", fmt.Errorf("malformed key name %q", keyName)
		}
	}
	return constants.KIDPrefix + parts[1] + ":" + parts[3] + ":" + parts[5] + ":" + parts[7] + ":v" + version, nil
}
