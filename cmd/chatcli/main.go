package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/carelink/chat-client/internal/auth"
	"github.com/carelink/chat-client/internal/config"
	"github.com/carelink/chat-client/internal/domain"
	"github.com/carelink/chat-client/internal/feed"
	"github.com/carelink/chat-client/internal/logger"
	"github.com/carelink/chat-client/internal/mention"
	"github.com/carelink/chat-client/internal/menu"
	"github.com/carelink/chat-client/internal/rest"
	"github.com/carelink/chat-client/internal/shell"
	"github.com/carelink/chat-client/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(logger.Config{
		Development: cfg.App.Env != "production",
		Level:       cfg.App.LogLevel,
	})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync()

	self, err := auth.FromToken(cfg.App.AccessToken, cfg.App.JWTSecret)
	if err != nil {
		lg.Fatalw("session identity", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sock, err := transport.Dial(ctx, transport.SocketConfig{
		URL:                 cfg.Socket.URL,
		AccessToken:         cfg.App.AccessToken,
		PingInterval:        cfg.PingInterval,
		ReconnectMaxElapsed: cfg.ReconnectMaxElapsed,
	}, lg)
	if err != nil {
		lg.Fatalw("socket dial", "url", cfg.Socket.URL, "err", err)
	}
	defer sock.Close()

	api := rest.New(rest.Config{
		BaseURL:            cfg.API.BaseURL,
		AccessToken:        cfg.App.AccessToken,
		Timeout:            cfg.APITimeout,
		RetryMaxElapsed:    cfg.RetryMaxElapsed,
		BreakerMaxFailures: cfg.API.BreakerMaxFailures,
		BreakerTimeout:     cfg.BreakerTimeout,
	}, lg)

	sh := shell.New(self, sock, api, lg, shell.Options{
		TypingTTL:        cfg.TypingTTL,
		TypingPerMinute:  cfg.Chat.TypingSignalsPerMinute,
		HistoryPageSize:  cfg.Chat.HistoryPageSize,
		SendRetryElapsed: cfg.SendRetryElapsed,
		SendAckTimeout:   cfg.SendAckTimeout,
		Confirmer:        terminalConfirmer{},
		OnRefresh:        func() {}, // terminal render happens on demand
	})
	defer sh.Shutdown()

	if err := sh.LoadConversations(ctx); err != nil {
		lg.Fatalw("load conversations", "err", err)
	}
	lg.Infow("connected", "user", self.Username)

	go repl(ctx, sh, self)
	<-ctx.Done()
	lg.Infow("shutting down")
}

// repl is a minimal line-oriented driver: /list, /open <id>, /send <text>,
// /typing, /quit.
func repl(ctx context.Context, sh *shell.Shell, self auth.Identity) {
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "/quit":
			return
		case line == "/list":
			for _, v := range sh.Conversations("") {
				marker := " "
				if v.Unread > 0 {
					marker = fmt.Sprintf("%d", v.Unread)
				}
				fmt.Printf("[%s] %s %s\n", marker, v.ID, v.DisplayName)
			}
		case strings.HasPrefix(line, "/open "):
			sh.Open(ctx, strings.TrimPrefix(line, "/open "))
		case strings.HasPrefix(line, "/send "):
			if _, err := sh.Send(ctx, strings.TrimPrefix(line, "/send "), nil, ""); err != nil {
				fmt.Println("!", err)
			}
		case line == "/show":
			f := sh.ActiveFeed()
			if f == nil {
				fmt.Println("! no open conversation")
				continue
			}
			msgs := f.Messages()
			for i, m := range msgs {
				prefix := "  "
				if feed.ShowsHeader(msgs, i) {
					prefix = m.SenderUsername + ":"
				}
				body := renderBody(m, self.Username)
				switch feed.ReceiptFor(&m, self.UserID) {
				case feed.ReceiptSent:
					body += " ✓"
				case feed.ReceiptRead:
					body += " ✓✓"
				}
				fmt.Printf("%s %s\n", prefix, body)
			}
		default:
			sh.Typing(ctx)
		}
	}
}

// renderBody flattens the mention segments, bracketing mentions of the
// current user so they stand out on a plain terminal.
func renderBody(m domain.Message, username string) string {
	if m.Deleted() {
		return "(deleted)"
	}
	var b strings.Builder
	for _, seg := range mention.Highlight(m.Content, username) {
		if seg.Type == mention.SegmentMention && seg.Self {
			b.WriteString("[" + seg.Content + "]")
		} else {
			b.WriteString(seg.Content)
		}
	}
	return b.String()
}

type terminalConfirmer struct{}

func (terminalConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	fmt.Printf("%s [y/N] ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false, nil
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}

var _ menu.Confirmer = terminalConfirmer{}
