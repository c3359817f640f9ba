package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wppchat/internal/store"
	"github.com/matheus3301/wppchat/internal/wid"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

// Store is the chat and contact storage the resolver reads from. Lookups
// report a missing record with an error wrapping store.ErrNotFound.
type Store interface {
	LookupChat(ctx context.Context, jid string) (*store.Chat, error)
	FindOrCreateChat(ctx context.Context, jid string) (*store.Chat, error)
	CreateChat(ctx context.Context, jid string) (*store.Chat, error)
	GetContact(ctx context.Context, jid string) (*store.Contact, error)
	SetContactLIDIfEmpty(ctx context.Context, jid, lid string) (bool, error)
}

// LIDResolver discovers the linked identifier of a phone number JID. An
// empty JID means none is known.
type LIDResolver interface {
	ResolveLID(ctx context.Context, pn types.JID) (types.JID, error)
}

// EnsureOptions tunes EnsureChat.
type EnsureOptions struct {
	// CreateChat makes the fallback pass create a record for any valid
	// identifier, groups included, instead of only find-or-create.
	CreateChat bool
	// EnsureLID enables linked-identifier discovery and contact backfill.
	EnsureLID bool
}

// DefaultEnsureOptions returns the options used by message-sending callers.
func DefaultEnsureOptions() EnsureOptions {
	return EnsureOptions{EnsureLID: true}
}

// Resolver turns loosely-typed chat references into stored chats,
// regardless of whether the chat is stored under the phone number JID or
// under its LID.
type Resolver struct {
	store  Store
	lids   LIDResolver
	logger *zap.Logger
}

// NewResolver creates a chat resolver.
func NewResolver(s Store, lids LIDResolver, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: s, lids: lids, logger: logger}
}

type fetchFunc func(ctx context.Context, jid string) (*store.Chat, error)

// EnsureChat returns the chat for ref. Candidates are the discovered LID
// (when any) followed by the primary JID; every candidate is looked up
// before any of them is created.
func (r *Resolver) EnsureChat(ctx context.Context, ref wid.Ref, opts EnsureOptions) (*store.Chat, error) {
	primary, err := wid.Coerce(ref)
	if err != nil {
		return nil, err
	}

	var (
		contact *store.Contact
		alias   types.JID
	)
	if opts.EnsureLID && wid.IsUser(primary) {
		contact, err = r.store.GetContact(ctx, primary.String())
		if err != nil {
			return nil, fmt.Errorf("get contact %s: %w", primary, err)
		}
		alias, err = r.aliasFor(ctx, primary, contact)
		if err != nil {
			return nil, err
		}
	}

	candidates := candidateIDs(alias, primary)

	chat, err := r.tryCandidates(ctx, candidates, r.store.LookupChat)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if chat == nil {
		create := r.store.FindOrCreateChat
		if opts.CreateChat {
			create = r.store.CreateChat
		}
		chat, err = r.tryCandidates(ctx, candidates, create)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if chat == nil {
			if err == nil {
				err = fmt.Errorf("chat %q: %w", primary.String(), store.ErrNotFound)
			}
			return nil, &InvalidChatError{JID: primary, Err: err}
		}
	}

	if opts.EnsureLID {
		if err := r.reconcile(ctx, primary, contact, alias); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

// EnsureChatSync looks the chat up directly and, on a miss, retries under
// the LID already cached on the contact. It never queries the platform and
// never creates a chat.
func (r *Resolver) EnsureChatSync(ctx context.Context, ref wid.Ref) (*store.Chat, error) {
	primary, err := wid.Coerce(ref)
	if err != nil {
		return nil, err
	}

	chat, err := r.store.LookupChat(ctx, primary.String())
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	notFound := &InvalidChatError{JID: primary, Err: err}

	contact, err := r.store.GetContact(ctx, primary.String())
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", primary, err)
	}
	if contact == nil {
		return nil, notFound
	}
	alias, ok := wid.ParseLID(contact.LID)
	if !ok {
		return nil, notFound
	}

	chat, err = r.store.LookupChat(ctx, alias.String())
	if err == nil {
		return chat, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound
	}
	return nil, err
}

// aliasFor prefers the LID cached on the contact and only falls back to the
// resolver when the contact has none.
func (r *Resolver) aliasFor(ctx context.Context, pn types.JID, contact *store.Contact) (types.JID, error) {
	if contact != nil {
		if cached, ok := wid.ParseLID(contact.LID); ok {
			return cached, nil
		}
	}
	if r.lids == nil {
		return types.EmptyJID, nil
	}
	found, err := r.lids.ResolveLID(ctx, pn)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("resolve lid for %s: %w", pn, err)
	}
	return found, nil
}

// tryCandidates returns the first chat fetch yields. A not-found error moves
// on to the next candidate; any other error aborts. When every candidate is
// missing the last not-found error is returned.
func (r *Resolver) tryCandidates(ctx context.Context, candidates []types.JID, fetch fetchFunc) (*store.Chat, error) {
	var lastMiss error
	for _, id := range candidates {
		chat, err := fetch(ctx, id.String())
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		r.logger.Debug("chat candidate missing", zap.String("jid", id.String()))
		lastMiss = err
	}
	return nil, lastMiss
}

// reconcile backfills the primary contact's cached LID when it is still
// empty. The resolved chat is always the primary or its alias, so the alias
// belongs to the primary contact either way.
func (r *Resolver) reconcile(ctx context.Context, primary types.JID, contact *store.Contact, alias types.JID) error {
	if !wid.IsUser(primary) {
		return nil
	}
	return r.backfill(ctx, primary, contact, alias)
}

func (r *Resolver) backfill(ctx context.Context, pn types.JID, contact *store.Contact, lid types.JID) error {
	if contact == nil || contact.LID != "" || lid.IsEmpty() {
		return nil
	}
	updated, err := r.store.SetContactLIDIfEmpty(ctx, pn.String(), lid.String())
	if err != nil {
		return err
	}
	if updated {
		contact.LID = lid.String()
		r.logger.Info("contact lid backfilled", zap.String("pn", pn.String()), zap.String("lid", lid.String()))
	}
	return nil
}

// candidateIDs orders the alias ahead of the primary and drops duplicates.
func candidateIDs(alias, primary types.JID) []types.JID {
	ids := make([]types.JID, 0, 2)
	if !alias.IsEmpty() && alias != primary {
		ids = append(ids, alias)
	}
	return append(ids, primary)
}
