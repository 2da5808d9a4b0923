// chatlink is an interactive chat client: every stdin line is sent to the
// current conversation and inbound events are printed to stdout.
//
// Usage: go run ./cmd/chatlink --config configs/chatlink.example.yaml --conversation general
//
// Commands:
//
//	/join <id> [cursor]  switch conversation and track it for polling
//	/leave <id>          stop tracking a conversation
//	/typing on|off       send a typing indicator
//	/presence <status>   set presence (online, away, busy, offline)
//	/retry <message-id>  requeue a failed message
//	/status              print connection status and notices
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chatlink/internal/client"
	"github.com/rickgao/chatlink/internal/config"
	"github.com/rickgao/chatlink/internal/model"
	"github.com/rickgao/chatlink/internal/queue"
	"github.com/rickgao/chatlink/internal/socket"
	"github.com/rickgao/chatlink/internal/status"
	"github.com/rickgao/chatlink/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/chatlink.example.yaml", "path to config file")
	conversation := pflag.String("conversation", "", "conversation to send to")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := pflag.String("log-format", "text", "log format (text, json)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger, err := newLogger(os.Stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting chatlink",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfg, *conversation, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("chatlink failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chatlink stopped")
}

func run(ctx context.Context, cfg config.Config, conversation string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	c, err := client.New(ctx, cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}

	c.OnMessage(func(m model.ChatMessage) {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.ConversationID, m.SenderID, m.Content)
	})
	c.OnTyping(func(t socket.Typing) {
		verb := "stopped typing"
		if t.IsTyping {
			verb = "is typing"
		}
		fmt.Fprintf(out, "[%s] %s %s\n", t.ConversationID, t.UserID, verb)
	})
	c.OnUserStatus(func(s socket.UserStatus) {
		fmt.Fprintf(out, "* %s is %s\n", s.UserID, s.Status)
	})
	c.OnStatus(func(s status.Status) {
		fmt.Fprintf(out, "* mode=%s state=%s\n", s.Mode, s.State)
	})
	c.OnNotice(func(n status.Notice) {
		if n.Resolved {
			return
		}
		fmt.Fprintf(out, "! %s\n", n.Text)
		if n.Kind == status.NoticeMessageFailed {
			fmt.Fprintf(out, "! /retry %s to resend\n", n.MessageID)
		}
	})
	c.OnQueueEvent(queue.EventSent, func(ev queue.Event) {
		logger.Debug("delivered", "id", ev.Message.ID)
	})

	if conversation != "" {
		c.Join(conversation, "")
	}

	if err := start(ctx, c); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var healthServer *http.Server
	if cfg.Health.Port > 0 {
		healthServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           healthHandler(cfg.Health.Path, c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
			if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	lines := make(chan string)
	go readLines(in, lines)

	g.Go(func() error {
		sh := &shell{client: c, out: out, conversation: conversation, report: func() string {
			return describe(c.Health(), c.Notices())
		}}
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// stdin EOF ends the session.
					cancel()
					return nil
				}
				sh.handle(line)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if healthServer != nil {
			healthServer.Shutdown(shutdownCtx)
		}
		return c.Stop(shutdownCtx)
	})

	return g.Wait()
}

type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// start starts c and releases it again if starting fails part way.
func start(ctx context.Context, c lifecycle) error {
	err := c.Start(ctx)
	if err == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return errors.Join(fmt.Errorf("start client: %w", err), c.Stop(stopCtx))
}

func readLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
