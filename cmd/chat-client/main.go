package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tradepost/realtime/pkg/session"
)

// settings come from flags, with CHAT_-prefixed env vars as fallback.
type settings struct {
	URL      string `env:"CHAT_URL"`
	Token    string `env:"CHAT_TOKEN"`
	LogLevel string `env:"CHAT_LOG_LEVEL"`
}

func main() {
	s := settings{URL: "ws://localhost:3000/chat", LogLevel: "info"}
	if err := env.Parse(&s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "chat-client [conversation-id...]",
		Short: "Connect to the chat backend and join the given conversations",
		Long: `chat-client opens one realtime session, joins the conversations given as
arguments, prints every state update, and sends each stdin line as a message
to the first conversation. Lines starting with '/' are commands:
/read <messageId> marks a message read, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), s, args)
		},
	}
	root.Flags().StringVar(&s.URL, "url", s.URL, "websocket endpoint")
	root.Flags().StringVar(&s.Token, "token", s.Token, "bearer token")
	root.Flags().StringVar(&s.LogLevel, "log-level", s.LogLevel, "zerolog level")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s settings, conversations []string) error {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return errors.Wrap(err, "parse log level")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level)

	if s.Token == "" {
		return errors.New("missing token (--token or CHAT_TOKEN)")
	}

	client, err := session.New(session.Config{
		URL:   s.URL,
		Token: session.StaticToken(s.Token),
		OnAuthExpired: func(reason string) {
			log.Warn().Str("reason", reason).Msg("session expired, re-login required")
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	updates, err := client.Updates(ctx)
	if err != nil {
		return err
	}

	client.Connect()
	for _, convID := range conversations {
		client.JoinRoom(convID)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case u, ok := <-updates:
				if !ok {
					return nil
				}
				printUpdate(u)
			}
		}
	})
	g.Go(func() error {
		return readInput(ctx, client, conversations)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readInput(ctx context.Context, client *session.Client, conversations []string) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := handleCommand(client, conversations, line); done {
				return nil
			}
			continue
		}
		if len(conversations) == 0 {
			log.Warn().Msg("no conversation joined, message not sent")
			continue
		}
		tempID := client.Send(conversations[0], line)
		log.Debug().Str("client_temp_id", tempID).Msg("message dispatched")
	}
	return scanner.Err()
}

func handleCommand(client *session.Client, conversations []string, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/read":
		if len(fields) < 2 || len(conversations) == 0 {
			log.Warn().Msg("usage: /read <messageId>")
			return false
		}
		client.MarkRead(conversations[0], fields[1])
	case "/typing":
		if len(conversations) > 0 {
			client.StartTyping(conversations[0])
		}
	default:
		log.Warn().Str("command", fields[0]).Msg("unknown command")
	}
	return false
}

func printUpdate(u session.Update) {
	switch u.Kind {
	case session.UpdateKindSession:
		log.Info().Str("status", u.Session.Status.String()).
			Uint("retries", u.Session.RetryCount).
			Str("error", u.Session.LastError).
			Msg("session")
	case session.UpdateKindRoom:
		log.Info().Str("conversation_id", u.Room.ConversationID).
			Str("state", u.Room.State).
			Str("error", u.Room.Error).
			Msg("room")
	case session.UpdateKindMessage:
		switch {
		case u.Message.Inbound != nil:
			fmt.Printf("[%s] %s: %s\n", u.Message.ConversationID, u.Message.Inbound.SenderID, u.Message.Inbound.Content)
		case u.Message.Outbound != nil:
			fmt.Printf("[%s] (you, %s) %s\n", u.Message.ConversationID, u.Message.Outbound.State, u.Message.Outbound.Content)
		}
	case session.UpdateKindTyping:
		if len(u.Typing.UserIDs) > 0 {
			fmt.Printf("[%s] typing: %s\n", u.Typing.ConversationID, strings.Join(u.Typing.UserIDs, ", "))
		}
	case session.UpdateKindPresence:
		log.Debug().Strs("online", u.Presence.UserIDs).Msg("presence")
	case session.UpdateKindUnread:
		log.Info().Str("conversation_id", u.Unread.ConversationID).Int("count", u.Unread.Count).Msg("unread")
	case session.UpdateKindReceipt:
		log.Debug().Str("message_id", u.Receipt.MessageID).Str("reader_id", u.Receipt.ReaderID).Msg("read")
	case session.UpdateKindConversation:
		log.Debug().Str("conversation_id", u.Conversation.ID).Msg("conversation updated")
	}
}
