// streamtest connects to the chat WebSocket and streams parsed events to console.
// Usage: go run ./cmd/streamtest --config configs/chatlink.example.yaml
//
// Credentials come from the config file or environment:
//
//	CHATLINK_API_KEY          - key id for request signing
//	CHATLINK_PRIVATE_KEY_PATH - path to the RSA private key PEM file
//	CHATLINK_TOKEN            - bearer token, used when no key is configured
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/chatlink/internal/auth"
	"github.com/rickgao/chatlink/internal/client"
	"github.com/rickgao/chatlink/internal/config"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/socket"
)

func main() {
	configPath := pflag.String("config", "configs/chatlink.example.yaml", "path to config file")
	verbose := pflag.Bool("verbose", false, "print full event JSON")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var signer auth.Signer = auth.BearerToken(cfg.API.Token)
	if cfg.API.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.API.APIKey, cfg.API.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		signer = creds
		logger.Info("using API credentials", "key_id", cfg.API.APIKey)
	}

	connCfg := client.ConnectionConfig(cfg.Connection)
	conn := connection.NewManager(connCfg,
		connection.WithLogger(logger),
		connection.WithDialer(connection.NewWebSocketDialer(connCfg, signer, logger)),
	)
	conn.OnStateChange(func(sc connection.StateChange) {
		logger.Info("state change", "from", sc.Old, "to", sc.New, "attempt", sc.Attempt, "delay", sc.Delay, "error", sc.Err)
	})
	conn.OnMaxReconnectAttempts(func(n int) {
		logger.Error("giving up after reconnect attempts", "attempts", n)
		cancel()
	})

	sock := socket.New(conn, socket.WithLogger(logger))
	sock.OnError(func(err error) {
		logger.Warn("socket error", "error", err)
	})

	messages := socket.Subscribe(sock, socket.EventMessage, 1000)
	typing := socket.Subscribe(sock, socket.EventTyping, 1000)
	presence := socket.Subscribe(sock, socket.EventUserStatus, 1000)
	acks := socket.Subscribe(sock, socket.EventMessageAck, 1000)

	logger.Info("connecting", "url", cfg.Connection.URL)
	if err := conn.Connect(ctx); err != nil {
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	go printStream(ctx, "MESSAGE", messages, *verbose)
	go printStream(ctx, "TYPING", typing, *verbose)
	go printStream(ctx, "STATUS", presence, *verbose)
	go printStream(ctx, "ACK", acks, *verbose)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := conn.Stats()
				sockStats := sock.Stats()
				logger.Info("stats",
					"state", conn.State(),
					"connects", connStats.Connects,
					"reconnects", connStats.Reconnects,
					"frames_in", connStats.FramesIn,
					"dispatched", sockStats.Dispatched,
					"parse_errors", sockStats.ParseErrors,
					"unknown_events", sockStats.UnknownEvents,
					"message_buf", messages.Len(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down...")
	messages.Close()
	typing.Close()
	presence.Close()
	acks.Close()
	sock.Close()
	conn.Disconnect()
	logger.Info("shutdown complete")
}

func printStream[T any](ctx context.Context, label string, s *socket.Stream[T], verbose bool) {
	for {
		v, ok := s.Receive(ctx)
		if !ok {
			return
		}
		var data []byte
		if verbose {
			data, _ = json.MarshalIndent(v, "", "  ")
		} else {
			data, _ = json.Marshal(v)
		}
		fmt.Printf("[%s] %s\n", label, data)
	}
}
