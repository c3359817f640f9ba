package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/wppchat/internal/chat"
	"github.com/matheus3301/wppchat/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls ChatService on a daemon.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// EnsureChat resolves ref on the daemon. A nil opts uses the server defaults.
func (c *Client) EnsureChat(ctx context.Context, ref string, opts *chat.EnsureOptions) (*store.Chat, error) {
	req, err := ensureRequest(ref, opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, methodEnsureChat, req)
	if err != nil {
		return nil, err
	}
	return chatFromStruct(resp.GetFields()[fieldChat].GetStructValue()), nil
}

// EnsureChatSync resolves ref without creating chats or querying the platform.
func (c *Client) EnsureChatSync(ctx context.Context, ref string) (*store.Chat, error) {
	req, err := ensureRequest(ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, methodEnsureChatSync, req)
	if err != nil {
		return nil, err
	}
	return chatFromStruct(resp.GetFields()[fieldChat].GetStructValue()), nil
}

// GetUnreadChats lists chats with unread messages.
func (c *Client) GetUnreadChats(ctx context.Context, onlyNew bool) ([]store.Chat, error) {
	req, err := structpb.NewStruct(map[string]any{fieldOnlyNew: onlyNew})
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, methodGetUnreadChats, req)
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()[fieldChats].GetListValue().GetValues()
	chats := make([]store.Chat, 0, len(values))
	for _, v := range values {
		chats = append(chats, *chatFromStruct(v.GetStructValue()))
	}
	return chats, nil
}

// GetSessionStatus returns the daemon's status document.
func (c *Client) GetSessionStatus(ctx context.Context) (map[string]any, error) {
	resp, err := c.call(ctx, methodGetSessionStatus, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// WatchUnread calls fn for each unread-count change until ctx ends or the
// stream fails.
func (c *Client) WatchUnread(ctx context.Context, fn func(store.UnreadCountChanged)) error {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], fullMethod(streamWatchUnread))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		f := msg.GetFields()
		fn(store.UnreadCountChanged{
			Chat:        chatFromStruct(f[fieldChat].GetStructValue()),
			UnreadCount: int(f[fieldUnread].GetNumberValue()),
		})
	}
}
