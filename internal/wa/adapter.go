package wa

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppchat/internal/session"
	"github.com/matheus3301/wppchat/internal/store"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	session   string
}

// NewAdapter opens the session's device store and creates a client. Pairing
// happens outside this program; an unpaired session never connects.
func NewAdapter(ctx context.Context, sessionName string, logger *zap.Logger) (*Adapter, error) {
	wastore.SetOSInfo("wppchat", [3]uint32{0, 1, 0})

	dbPath := session.SessionDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	if !a.IsLoggedIn() {
		return fmt.Errorf("session %q is not paired", a.session)
	}
	a.logger.Info("connecting to WhatsApp", zap.String("phone", a.PhoneNumber()))
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Close releases the device store.
func (a *Adapter) Close() error {
	return a.container.Close()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client == nil || a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

func (a *Adapter) hasLIDStore() bool {
	return a.client != nil && a.client.Store != nil && a.client.Store.LIDs != nil
}

// GetContacts returns all contacts from the whatsmeow device store, with the
// LID attached when the device store knows it.
func (a *Adapter) GetContacts(ctx context.Context) ([]store.Contact, error) {
	if a.client == nil || a.client.Store == nil || a.client.Store.Contacts == nil {
		return nil, nil
	}
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device contacts: %w", err)
	}
	contacts := make([]store.Contact, 0, len(allContacts))
	for jid, info := range allContacts {
		normalized := jid.ToNonAD()
		c := store.Contact{
			JID:      normalized.String(),
			Name:     info.FullName,
			PushName: info.PushName,
		}
		if normalized.Server == types.DefaultUserServer && a.hasLIDStore() {
			if lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, normalized); err == nil && !lid.IsEmpty() {
				c.LID = lid.ToNonAD().String()
			}
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

// GetLIDMappings returns the LID-to-PN mappings the device store holds for
// known contacts. There is no bulk API, so each contact is queried.
func (a *Adapter) GetLIDMappings(ctx context.Context) ([]store.LIDMapping, error) {
	if !a.hasLIDStore() || a.client.Store.Contacts == nil {
		return nil, nil
	}
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device contacts: %w", err)
	}

	var mappings []store.LIDMapping
	for jid := range allContacts {
		normalized := jid.ToNonAD()
		if normalized.Server != types.DefaultUserServer {
			continue
		}
		lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, normalized)
		if err != nil {
			a.logger.Debug("lid lookup failed", zap.String("pn", normalized.String()), zap.Error(err))
			continue
		}
		if lid.IsEmpty() {
			continue
		}
		mappings = append(mappings, store.LIDMapping{
			LID: lid.ToNonAD().String(),
			PN:  normalized.String(),
		})
	}
	return mappings, nil
}

// LookupLID asks the device store, then the server, which LID belongs to pn.
// Returns an empty JID when neither knows one.
func (a *Adapter) LookupLID(ctx context.Context, pn types.JID) (types.JID, error) {
	if a.hasLIDStore() {
		lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, pn)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("device lid store: %w", err)
		}
		if !lid.IsEmpty() {
			return lid, nil
		}
	}
	if a.client == nil || !a.client.IsConnected() {
		return types.EmptyJID, nil
	}

	infos, err := a.client.GetUserInfo(ctx, []types.JID{pn})
	if err != nil {
		return types.EmptyJID, fmt.Errorf("usync %s: %w", pn, err)
	}
	if info, ok := infos[pn]; ok {
		return info.LID, nil
	}
	return types.EmptyJID, nil
}

// PNForLID maps a LID to its phone number JID using the device store.
func (a *Adapter) PNForLID(ctx context.Context, lid types.JID) (types.JID, bool) {
	if lid.Server != types.HiddenUserServer || !a.hasLIDStore() {
		return types.EmptyJID, false
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, lid)
	if err != nil || pn.IsEmpty() {
		return types.EmptyJID, false
	}
	return pn, true
}
