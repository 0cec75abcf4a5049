//go:build integration

package kms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/s2s/internal/domain/service"
)

func requireDockerOrSkip(t *testing.T) {
	t.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") != "" {
		t.Skip("Skipping Docker-dependent tests")
	}
	if _, err := os.Stat("/var/run/docker.sock"); err != nil {
		t.Skip("Docker socket not accessible; skipping integration test")
	}
}

func setupVault(ctx context.Context, t *testing.T) (*api.Client, testcontainers.Container) {
	req := testcontainers.ContainerRequest{
		Image:        "hashicorp/vault:1.15",
		ExposedPorts: []string{"8200/tcp"},
		Env: map[string]string{
			"VAULT_DEV_ROOT_TOKEN_ID": "root",
		},
		WaitingFor: wait.ForHTTP("/v1/sys/health").WithStatusCodeMatcher(func(status int) bool {
			return status == http.StatusOK
		}),
	}
	vaultC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := vaultC.Host(ctx)
	require.NoError(t, err)
	port, err := vaultC.MappedPort(ctx, "8200")
	require.NoError(t, err)

	config := api.DefaultConfig()
	config.Address = fmt.Sprintf("http://%s:%s", host, port.Port())
	client, err := api.NewClient(config)
	require.NoError(t, err)
	client.SetToken("root")

	require.NoError(t, client.Sys().Mount("transit", &api.MountInput{Type: "transit"}))
	_, err = client.Logical().Write("transit/keys/s2s-signer", map[string]interface{}{"type": "ecdsa-p256"})
	require.NoError(t, err)

	return client, vaultC
}

func setupRedis(ctx context.Context, t *testing.T) (*redis.Client, testcontainers.Container) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())}), redisC
}

func TestVaultTransit_Integration(t *testing.T) {
	requireDockerOrSkip(t)
	ctx := context.Background()
	vaultClient, vaultC := setupVault(ctx, t)
	defer vaultC.Terminate(ctx)
	redisClient, redisC := setupRedis(ctx, t)
	defer redisC.Terminate(ctx)

	authority, err := NewVaultTransitAuthority(vaultClient, "transit", "", nil)
	require.NoError(t, err)

	name := "projects/p/locations/global/keyRings/r/cryptoKeys/s2s-signer/cryptoKeyVersions/1"
	sum := sha256.Sum256([]byte("header.payload"))
	sig, err := authority.AsymmetricSign(ctx, name, service.Digest{Hash: crypto.SHA256, Value: sum[:]})
	require.NoError(t, err)

	keys := NewPublicKeyCache(authority, redisClient, 0, nil)
	pub, err := keys.PublicKey(ctx, "kms:p:global:r:s2s-signer:v1")
	require.NoError(t, err)
	ecPub, ok := pub.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, ecdsa.VerifyASN1(ecPub, sum[:], sig))
}
