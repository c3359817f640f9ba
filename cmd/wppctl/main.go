package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/wppchat/internal/api"
	"github.com/matheus3301/wppchat/internal/chat"
	"github.com/matheus3301/wppchat/internal/session"
	"github.com/matheus3301/wppchat/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Usage = printUsage
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)
	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	switch args[0] {
	case "chat":
		cmdChat(ctx, c, args[1:], *jsonFlag)
	case "chat-sync":
		cmdChatSync(ctx, c, args[1:], *jsonFlag)
	case "unread":
		cmdUnread(ctx, c, args[1:], *jsonFlag)
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppctl [--session <name>] [--json] [--timeout <d>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  chat [-create] [-no-lid] <ref>   Find or create the chat for a number, JID or LID")
	fmt.Fprintln(os.Stderr, "  chat-sync <ref>                  Look a chat up without contacting WhatsApp")
	fmt.Fprintln(os.Stderr, "  unread [-new]                    List chats with unread messages")
	fmt.Fprintln(os.Stderr, "  status                           Show session status")
	fmt.Fprintln(os.Stderr, "  watch                            Stream unread counter changes")
}

func cmdChat(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	create := fs.Bool("create", false, "create the chat for any valid identifier, groups included")
	noLID := fs.Bool("no-lid", false, "skip LID discovery and contact backfill")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: wppctl chat [-create] [-no-lid] <ref>")
		os.Exit(1)
	}

	opts := chat.EnsureOptions{CreateChat: *create, EnsureLID: !*noLID}
	ch, err := c.EnsureChat(ctx, fs.Arg(0), &opts)
	if err != nil {
		fail(err)
	}
	printChat(ch, jsonOut)
}

func cmdChatSync(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: wppctl chat-sync <ref>")
		os.Exit(1)
	}
	ch, err := c.EnsureChatSync(ctx, args[0])
	if err != nil {
		fail(err)
	}
	printChat(ch, jsonOut)
}

func cmdUnread(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("unread", flag.ExitOnError)
	onlyNew := fs.Bool("new", false, "only chats that became unread since the daemon started")
	_ = fs.Parse(args)

	chats, err := c.GetUnreadChats(ctx, *onlyNew)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No unread chats.")
		return
	}
	for i := range chats {
		printChat(&chats[i], false)
	}
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.GetSessionStatus(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:   %v\n", resp["session"])
	if phone, ok := resp["phone_number"]; ok {
		fmt.Printf("Phone:     %v\n", phone)
		fmt.Printf("Logged in: %v\n", resp["logged_in"])
	}
	fmt.Printf("Chats:     %v\n", resp["chat_count"])
	fmt.Printf("Tracked:   %v\n", resp["tracked"])
	fmt.Printf("Uptime:    %vms\n", resp["uptime_ms"])
}

func cmdWatch(c *api.Client, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.WatchUnread(ctx, func(change store.UnreadCountChanged) {
		if jsonOut {
			outputJSON(change)
			return
		}
		fmt.Printf("%-40s %d\n", change.Chat.JID, change.UnreadCount)
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func printChat(ch *store.Chat, jsonOut bool) {
	if jsonOut {
		outputJSON(ch)
		return
	}
	name := ch.Name
	if name == "" {
		name = "-"
	}
	fmt.Printf("%-40s %-24s unread=%d\n", ch.JID, name, ch.UnreadCount)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
