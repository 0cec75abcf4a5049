// Package kms implements the remote signing authorities behind the token
// signer: Google Cloud KMS, HashiCorp Vault Transit, and an in-process
// authority for development.
package kms

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash/crc32"

	cloudkms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

// KeyManagementClient is the subset of the Cloud KMS client the authority uses.
type KeyManagementClient interface {
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
	Close() error
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func crc32c(data []byte) int64 {
	return int64(crc32.Checksum(data, crc32cTable))
}

// GCPAuthority signs digests with asymmetric keys held in Google Cloud KMS.
// Every request and response is integrity-checked with CRC32C as Cloud KMS
// recommends.
type GCPAuthority struct {
	client KeyManagementClient
	logger logger.Logger
}

// NewGCPAuthority dials Cloud KMS with application default credentials plus opts.
func NewGCPAuthority(ctx context.Context, log logger.Logger, opts ...option.ClientOption) (*GCPAuthority, error) {
	client, err := cloudkms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create kms client: %w", err)
	}
	return NewGCPAuthorityWithClient(client, log), nil
}

// NewGCPAuthorityWithClient wraps an existing client.
func NewGCPAuthorityWithClient(client KeyManagementClient, log logger.Logger) *GCPAuthority {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &GCPAuthority{client: client, logger: log.WithComponent("GCPAuthority")}
}

// AsymmetricSign asks Cloud KMS to sign digest with keyVersionName.
func (a *GCPAuthority) AsymmetricSign(ctx context.Context, keyVersionName string, digest service.Digest) ([]byte, error) {
	d, err := kmsDigest(digest)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name:         keyVersionName,
		Digest:       d,
		DigestCrc32C: wrapperspb.Int64(crc32c(digest.Value)),
	})
	if err != nil {
		return nil, err
	}
	if !resp.GetVerifiedDigestCrc32C() {
		return nil, fmt.Errorf("kms did not verify the request digest checksum")
	}
	if resp.GetName() != keyVersionName {
		return nil, fmt.Errorf("kms signed with %q, want %q", resp.GetName(), keyVersionName)
	}
	if crc32c(resp.GetSignature()) != resp.GetSignatureCrc32C().GetValue() {
		return nil, fmt.Errorf("kms signature checksum mismatch")
	}
	return resp.GetSignature(), nil
}

// GetPublicKey fetches and parses the PEM public key of keyVersionName.
func (a *GCPAuthority) GetPublicKey(ctx context.Context, keyVersionName string) (crypto.PublicKey, error) {
	resp, err := a.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyVersionName})
	if err != nil {
		return nil, err
	}
	if crc32c([]byte(resp.GetPem())) != resp.GetPemCrc32C().GetValue() {
		return nil, fmt.Errorf("kms public key checksum mismatch")
	}
	return parsePublicKeyPEM(resp.GetPem())
}

// Close releases the underlying gRPC connection.
func (a *GCPAuthority) Close() error {
	return a.client.Close()
}

func kmsDigest(d service.Digest) (*kmspb.Digest, error) {
	switch d.Hash {
	case crypto.SHA256:
		return &kmspb.Digest{Digest: &kmspb.Digest_Sha256{Sha256: d.Value}}, nil
	case crypto.SHA384:
		return &kmspb.Digest{Digest: &kmspb.Digest_Sha384{Sha384: d.Value}}, nil
	case crypto.SHA512:
		return &kmspb.Digest{Digest: &kmspb.Digest_Sha512{Sha512: d.Value}}, nil
	}
	return nil, fmt.Errorf("unsupported digest hash %v", d.Hash)
}

func parsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

var _ service.SignAuthority = (*GCPAuthority)(nil)
