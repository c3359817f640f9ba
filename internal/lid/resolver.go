package lid

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppchat/internal/store"
	"github.com/matheus3301/wppchat/internal/wid"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache is the local PN -> LID mapping table.
type Cache interface {
	LIDForPN(ctx context.Context, pn string) (string, error)
	PutLIDMapping(ctx context.Context, m store.LIDMapping) error
}

// Platform asks WhatsApp which LID belongs to a phone number JID. It returns
// an empty JID when the platform has no mapping.
type Platform interface {
	LookupLID(ctx context.Context, pn types.JID) (types.JID, error)
}

// Resolver discovers the linked identifier for a phone number JID.
type Resolver struct {
	cache    Cache
	platform Platform
	timeout  time.Duration
	logger   *zap.Logger
	group    singleflight.Group
}

// DefaultTimeout bounds a platform lookup when the resolver has no timeout.
const DefaultTimeout = 10 * time.Second

// NewResolver creates a resolver. platform may be nil, in which case only the
// cache is consulted. A zero timeout means DefaultTimeout. Platform lookups are
// shared between concurrent callers and are not cancelled by any one caller.
func NewResolver(cache Cache, platform Platform, timeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:    cache,
		platform: platform,
		timeout:  timeout,
		logger:   logger,
	}
}

// ResolveLID returns the LID for pn, or an empty JID when none is known.
// Non-user JIDs resolve to empty without any lookup.
func (r *Resolver) ResolveLID(ctx context.Context, pn types.JID) (types.JID, error) {
	if !wid.IsUser(pn) {
		return types.EmptyJID, nil
	}
	key := pn.String()

	if r.cache != nil {
		cached, err := r.cache.LIDForPN(ctx, key)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("lid cache %q: %w", key, err)
		}
		if jid, ok := wid.ParseLID(cached); ok {
			return jid, nil
		}
	}

	if r.platform == nil {
		return types.EmptyJID, nil
	}

	// The shared lookup outlives any single waiter; each waiter still
	// honours its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.lookup(detached, pn)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return types.EmptyJID, res.Err
		}
		if res.Shared {
			r.logger.Debug("lid lookup shared", zap.String("pn", key))
		}
		return res.Val.(types.JID), nil
	case <-ctx.Done():
		return types.EmptyJID, ctx.Err()
	}
}

func (r *Resolver) lookup(ctx context.Context, pn types.JID) (types.JID, error) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found, err := r.platform.LookupLID(ctx, pn)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("lookup lid for %s: %w", pn, err)
	}
	found = found.ToNonAD()
	if !wid.IsLID(found) {
		r.logger.Debug("no lid known for pn", zap.String("pn", pn.String()))
		return types.EmptyJID, nil
	}

	if r.cache != nil {
		if err := r.cache.PutLIDMapping(ctx, store.LIDMapping{LID: found.String(), PN: pn.String()}); err != nil {
			r.logger.Warn("failed to cache lid mapping", zap.Error(err), zap.String("pn", pn.String()))
		}
	}
	r.logger.Info("lid discovered", zap.String("pn", pn.String()), zap.String("lid", found.String()))
	return found, nil
}
