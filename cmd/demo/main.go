// Command demo posts one task to an agentbox gateway and renders the
// streamed response in the terminal: reasoning dimmed, content plain,
// usage at the end.
//
// Usage:
//
//	demo -url http://localhost:8080 -task "write a fizzbuzz in Python"
//	demo -agent claude-cli -model claude-sonnet -key sk-... -task "..."
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
)

const (
	dim   = "\x1b[2m"
	reset = "\x1b[0m"
)

func main() {
	url := flag.String("url", "http://localhost:8080", "gateway base URL")
	task := flag.String("task", "", "task text (required)")
	agent := flag.String("agent", "", "agent implementation (server default when empty)")
	model := flag.String("model", "", "model id (server default when empty)")
	key := flag.String("key", "", "API key (optional)")
	plain := flag.Bool("plain", false, "disable ANSI styling")
	flag.Parse()

	if *task == "" {
		fmt.Fprintln(os.Stderr, "demo: -task is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*url, *task, *agent, *model, *key, *plain); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

func run(url, task, agent, model, key string, plain bool) error {
	reqBody := api.ChatCompletionRequest{
		Model:         model,
		Agent:         agent,
		Stream:        true,
		StreamOptions: &api.ChatStreamOptions{IncludeUsage: true},
		Messages: []api.ChatMessage{
			{Role: "user", Content: task},
		},
	}
	body, err := json.Marshal(&reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	// No client timeout: an agent run takes as long as it takes.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	if runID := resp.Header.Get("X-Run-ID"); runID != "" {
		fmt.Fprintf(os.Stderr, "run %s\n", runID)
	}

	start := time.Now()
	var usage *api.ChatUsage
	inReasoning := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk api.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed chunk: %v\n", err)
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if rc := choice.Delta.ReasoningContent; rc != nil {
				if !plain && !inReasoning {
					fmt.Print(dim)
				}
				inReasoning = true
				fmt.Print(*rc)
			}
			if c := choice.Delta.Content; c != nil {
				if !plain && inReasoning {
					fmt.Print(reset)
				}
				inReasoning = false
				fmt.Print(*c)
			}
		}
	}
	if !plain && inReasoning {
		fmt.Print(reset)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	fmt.Println()
	if usage != nil {
		fmt.Printf("--- %.1fs sandbox time, %.1fs wall time\n",
			usage.SandboxSeconds, time.Since(start).Seconds())
	} else {
		fmt.Printf("--- %.1fs wall time\n", time.Since(start).Seconds())
	}
	return nil
}
