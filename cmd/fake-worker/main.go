// ABOUTME: Minimal fake AI worker for E2E testing — polls for pending messages and echoes replies
// ABOUTME: Usage: fake-worker [-addr localhost:8080] [-key WORKER_KEY] [-interval 1s]

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

type pendingMessage struct {
	DialogID string `json:"dialog_id"`
	UserID   string `json:"user_id"`
	Content  string `json:"content"`
}

type messagesResponse struct {
	Messages []pendingMessage `json:"messages"`
}

type replyRequest struct {
	DialogID string `json:"dialog_id"`
	Content  string `json:"content"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway HTTP address")
	key := flag.String("key", os.Getenv("DEEPBOT_WORKER_KEY"), "worker key")
	interval := flag.Duration("interval", time.Second, "poll interval")
	flag.Parse()

	if *key == "" {
		log.Fatal("worker key required (-key or DEEPBOT_WORKER_KEY)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, "http://"+*addr, *key, *interval); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, baseURL, key string, interval time.Duration) error {
	log.Printf("polling %s every %s", baseURL, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pending, err := pull(ctx, baseURL, key)
			if err != nil {
				log.Printf("pull error: %v", err)
				continue
			}
			for _, msg := range pending {
				log.Printf("replying to dialog %s: %q", msg.DialogID, msg.Content)
				if err := push(ctx, baseURL, key, msg.DialogID, echoReply(msg.Content)); err != nil {
					log.Printf("push error: %v", err)
				}
			}
		}
	}
}

func pull(ctx context.Context, baseURL, key string) ([]pendingMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/worker/messages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Worker-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, err
	}
	return mr.Messages, nil
}

func push(ctx context.Context, baseURL, key, dialogID, content string) error {
	body, err := json.Marshal(replyRequest{DialogID: dialogID, Content: content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/worker/reply", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Worker-Key", key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func echoReply(input string) string {
	if strings.Contains(strings.ToLower(input), "hello") {
		return "Hello! How can I help you today?"
	}
	return fmt.Sprintf("Echo: %s", input)
}
