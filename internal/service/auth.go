package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/abuse"
	"github.com/gatekeeperhq/gatekeeper/internal/keys"
	"github.com/gatekeeperhq/gatekeeper/internal/model"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
)

var (
	// ErrMissingCredential means no API key was presented.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential means the presented key matches no record.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRevokedCredential means the key exists but has been revoked.
	ErrRevokedCredential = errors.New("credential revoked")
	// ErrDirectoryUnavailable means the key directory could not be queried.
	ErrDirectoryUnavailable = errors.New("key directory unavailable")
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	TenantID   uuid.UUID
	KeyID      uuid.UUID
	KeyPrefix  string
	RateLimit  int
	RateWindow int
}

// KeyDirectory is the read-only hashed-key lookup the guard depends on.
type KeyDirectory interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
}

// AuthGuard resolves raw credentials to identities. Every rejection is
// reported to the abuse monitor with the originating IP; raw credentials
// never reach a log line, only the digest prefix does.
type AuthGuard struct {
	dir     KeyDirectory
	monitor *abuse.Monitor
	logger  *slog.Logger
}

// NewAuthGuard creates an AuthGuard over the given directory.
func NewAuthGuard(dir KeyDirectory, monitor *abuse.Monitor, logger *slog.Logger) *AuthGuard {
	return &AuthGuard{dir: dir, monitor: monitor, logger: logger}
}

// Authenticate resolves rawKey to an Identity or one of the credential
// errors. clientIP is only used for abuse reporting.
func (g *AuthGuard) Authenticate(ctx context.Context, rawKey, clientIP string) (*Identity, error) {
	if rawKey == "" {
		g.monitor.ObserveAuthRejection(ctx, clientIP, abuse.RejectionMissingCredential)
		return nil, ErrMissingCredential
	}

	hash := keys.Hash(rawKey)

	key, err := g.dir.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.monitor.ObserveAuthRejection(ctx, clientIP, abuse.RejectionInvalidCredential)
			g.logger.Info("auth rejected: unknown key",
				"hash_prefix", hash[:8], "client_ip", clientIP)
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	// The directory is indexed by hash, but a case-insensitive collation on
	// the backing column could return a near-match. Verify byte equality in
	// constant time before trusting the row.
	if !keys.ConstantTimeEquals(key.KeyHash, hash) {
		g.monitor.ObserveAuthRejection(ctx, clientIP, abuse.RejectionInvalidCredential)
		return nil, ErrInvalidCredential
	}

	if key.Revoked() {
		g.monitor.ObserveAuthRejection(ctx, clientIP, abuse.RejectionRevokedCredential)
		g.logger.Info("auth rejected: revoked key",
			"key_id", key.ID, "client_ip", clientIP)
		return nil, ErrRevokedCredential
	}

	return &Identity{
		TenantID:   key.TenantID,
		KeyID:      key.ID,
		KeyPrefix:  key.KeyPrefix,
		RateLimit:  key.RateLimit,
		RateWindow: key.RateWindow,
	}, nil
}
