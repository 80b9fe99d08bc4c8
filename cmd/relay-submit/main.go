// ABOUTME: Minimal submit client for E2E testing — posts one activity and polls its state.
// ABOUTME: Usage: relay-submit [-relay URL] [-target URL] [-reply URL] [-reply-method M] [-body JSON]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

func main() {
	relayURL := flag.String("relay", "http://localhost:9090", "relay base URL")
	target := flag.String("target", "http://localhost:9091/work", "target URL (X-Url)")
	reply := flag.String("reply", "http://localhost:9091/reply", "reply URL (X-Reply)")
	replyMethod := flag.String("reply-method", http.MethodPost, "reply method (X-ReplyMethod)")
	body := flag.String("body", `{"task":"demo"}`, "request body")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *relayURL, *target, *reply, *replyMethod, *body); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, relayURL, target, reply, replyMethod, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/submit", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Url", target)
	req.Header.Set("X-Reply", reply)
	req.Header.Set("X-ReplyMethod", replyMethod)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit rejected: status %d: %s", resp.StatusCode, respBody)
	}

	id := resp.Header.Get("X-Activity")
	log.Printf("accepted: activity %s", id)

	// Poll the status endpoint until the activity completes.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			state, err := fetchState(ctx, relayURL, id)
			if err != nil {
				return err
			}
			log.Printf("activity %s: %s", id, state)
			if state == "COMPLETED" {
				return nil
			}
		}
	}
}

func fetchState(ctx context.Context, relayURL, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL+"/message?id="+id, nil)
	if err != nil {
		return "", fmt.Errorf("creating status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status check failed: status %d", resp.StatusCode)
	}

	var status struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decoding status: %w", err)
	}
	return status.State, nil
}
