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

	"github.com/google/uuid"

	"github.com/seralia/guildmind/internal/app"
	"github.com/seralia/guildmind/internal/orchestrator"
)

// stdoutResponder is the local harness delivery path. A real deployment
// swaps in a chat-platform adapter.
type stdoutResponder struct{}

func (stdoutResponder) Send(_ context.Context, conversationID, text string) (string, error) {
	fmt.Printf("[%s] %s\n", conversationID, text)
	return uuid.NewString(), nil
}

func main() {
	cfg := app.LoadConfig()
	a, err := app.New(cfg, stdoutResponder{})
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Log.Info("guildmind ready, reading turns from stdin",
		"db_path", cfg.DBPath,
		"default_provider", cfg.DefaultProvider,
	)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	conversationID := "local"
	for {
		select {
		case <-ctx.Done():
			a.Log.Info("Shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			_, err := a.Orchestrator.HandleInboundTurn(ctx, orchestrator.InboundTurn{
				ConversationID: conversationID,
				TurnID:         uuid.NewString(),
				Text:           line,
				Timestamp:      time.Now().UTC(),
			})
			if err != nil {
				a.Log.Error("Turn failed", "error", err)
			}
		}
	}
}
