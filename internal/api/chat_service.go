package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppchat/internal/bus"
	"github.com/matheus3301/wppchat/internal/chat"
	"github.com/matheus3301/wppchat/internal/store"
	"github.com/matheus3301/wppchat/internal/unread"
	"github.com/matheus3301/wppchat/internal/wid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatCounter reports how many chats the store holds.
type ChatCounter interface {
	ChatCount(ctx context.Context) (int64, error)
}

// Account describes the platform session. May be nil when the daemon runs
// without a device store.
type Account interface {
	PhoneNumber() string
	IsLoggedIn() bool
}

// ChatService implements ChatServer on top of the chat resolver and the
// unread tracker.
type ChatService struct {
	sessionName string
	startedAt   time.Time
	resolver    *chat.Resolver
	tracker     *unread.Tracker
	bus         *bus.Bus
	counter     ChatCounter
	account     Account
	logger      *zap.Logger
}

// NewChatService creates a new chat service.
func NewChatService(sessionName string, resolver *chat.Resolver, tracker *unread.Tracker, b *bus.Bus, counter ChatCounter, account Account, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		resolver:    resolver,
		tracker:     tracker,
		bus:         b,
		counter:     counter,
		account:     account,
		logger:      logger,
	}
}

func (s *ChatService) EnsureChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := refFromRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	c, err := s.resolver.EnsureChat(ctx, ref, optionsFromRequest(req))
	if err != nil {
		s.logger.Debug("ensure chat failed", zap.String("ref", ref.String()), zap.Error(err))
		return nil, toStatus(err)
	}
	return encoded(chatResponse(c))
}

func (s *ChatService) EnsureChatSync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := refFromRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	c, err := s.resolver.EnsureChatSync(ctx, ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return encoded(chatResponse(c))
}

func (s *ChatService) GetUnreadChats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	onlyNew := req.GetFields()[fieldOnlyNew].GetBoolValue()
	chats, err := s.tracker.GetUnreadChats(ctx, onlyNew)
	if err != nil {
		return nil, toStatus(err)
	}
	return encoded(chatsResponse(chats))
}

func (s *ChatService) GetSessionStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":   s.sessionName,
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
		"tracked":   len(s.tracker.Snapshot()),
	}
	if s.account != nil {
		resp["phone_number"] = s.account.PhoneNumber()
		resp["logged_in"] = s.account.IsLoggedIn()
	}
	if s.counter != nil {
		if n, err := s.counter.ChatCount(ctx); err == nil {
			resp["chat_count"] = n
		}
	}
	return encoded(structpb.NewStruct(resp))
}

// WatchUnread streams every unread-count change until the client goes away.
func (s *ChatService) WatchUnread(_ *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(bus.KindChatUnreadCountChanged, unread.DefaultBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			change, ok := evt.Payload.(store.UnreadCountChanged)
			if !ok || change.Chat == nil {
				continue
			}
			msg, err := changeResponse(change)
			if err != nil {
				s.logger.Warn("dropping unencodable unread change", zap.String("jid", change.Chat.JID), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// encoded maps a response encoding failure to a status error.
func encoded(resp *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err))
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, wid.ErrInvalidIdentifier):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrInvalidChat):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	default:
		return grpcstatus.Errorf(codes.Internal, "%v", err)
	}
}
