package application

import (
	"context"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// KeyForgetter drops a cached verification key.
type KeyForgetter interface {
	Forget(kid string)
}

// KeyRotationService reacts to key lifecycle events coming from outside the
// process: upstream rotations and compromise reports.
// KeyRotationService 处理来自进程外部的密钥生命周期事件：上游轮换与泄露通告。
type KeyRotationService struct {
	tokens   *BearerTokenService
	keys     KeyForgetter
	denylist service.KeyDenylist
	logger   logger.Logger
}

// KeyRotationOption customizes a KeyRotationService.
type KeyRotationOption func(*KeyRotationService)

// WithKeyDenylist shares compromise reports with every verifier using d.
func WithKeyDenylist(d service.KeyDenylist) KeyRotationOption {
	return func(s *KeyRotationService) { s.denylist = d }
}

// NewKeyRotationService creates the service. keys may be nil when the process
// does not verify inbound tokens.
func NewKeyRotationService(tokens *BearerTokenService, keys KeyForgetter, log logger.Logger, opts ...KeyRotationOption) (*KeyRotationService, error) {
	if tokens == nil {
		return nil, errors.Configuration("s2s.signing_key", "bearer token service is required")
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	s := &KeyRotationService{tokens: tokens, keys: keys, logger: log.WithComponent("KeyRotationService")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleRotation applies one rotation event. Tokens signed by our own key are
// dropped so the next request mints again; the retired version's public key
// is forgotten either way.
// HandleRotation 处理一次轮换事件。
func (s *KeyRotationService) HandleRotation(ctx context.Context, event models.KeyRotationEvent) error {
	if event.KeyName == "" {
		return errors.InvalidRequest("key_name", "must not be empty")
	}
	fields := logger.Fields{
		"key_name":    event.KeyName,
		"old_version": event.OldVersion,
		"new_version": event.NewVersion,
		"reason":      event.Reason,
	}

	if event.OldVersion != "" {
		kid, err := models.KIDForKeyVersion(event.KeyName, event.OldVersion)
		if err != nil {
			return errors.InvalidRequest("key_name", err.Error())
		}
		if s.keys != nil {
			s.keys.Forget(kid)
		}
	}

	identity, err := s.tokens.deps.S2S.SigningIdentity()
	if err != nil || !event.AffectsKey(identity) {
		s.logger.Debug(ctx, "rotation event does not concern our signing key", fields)
		return nil
	}

	cleared := s.tokens.ClearTokens()
	fields["cleared_tokens"] = cleared
	s.logger.Info(ctx, "signing key rotated upstream; token cache cleared", fields)
	if event.NewVersion != "" && event.NewVersion != identity.Version() {
		s.logger.Warn(ctx, "configured signing key version differs from the newest upstream version",
			logger.Merge(fields, logger.String("configured_version", identity.Version())))
	}
	return nil
}

// CompromiseKey handles a report that kid must no longer be trusted.
// CompromiseKey 处理密钥泄露通告。
func (s *KeyRotationService) CompromiseKey(ctx context.Context, kid, reason string) error {
	if _, err := models.ResourceNameFromKID(kid); err != nil {
		return errors.InvalidRequest("kid", err.Error())
	}
	if s.denylist != nil {
		if err := s.denylist.Deny(ctx, kid, reason); err != nil {
			return err
		}
	}
	if s.keys != nil {
		s.keys.Forget(kid)
	}
	fields := logger.Fields{"kid": kid, "reason": reason}

	identity, err := s.tokens.deps.S2S.SigningIdentity()
	if err == nil && identity.KID() == kid {
		fields["cleared_tokens"] = s.tokens.ClearTokens()
		s.logger.Error(ctx, "our signing key was reported compromised", nil, fields)
		return nil
	}
	s.logger.Warn(ctx, "key reported compromised", fields)
	return nil
}
