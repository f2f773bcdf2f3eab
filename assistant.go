package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// AssistantClient drives one pre-configured hosted assistant. All
// conversational state lives on the remote side; this only holds ids.
type AssistantClient struct {
	api          *openai.Client
	assistantID  string
	model        string
	instructions string
	pollEvery    time.Duration
	runTimeout   time.Duration
}

func NewAssistantClient(cfg *Config) *AssistantClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &AssistantClient{
		api:          openai.NewClientWithConfig(apiCfg),
		assistantID:  cfg.AssistantID,
		model:        cfg.Model,
		instructions: cfg.Instructions,
		pollEvery:    cfg.PollEvery,
		runTimeout:   cfg.RunTimeout,
	}
}

// Verify resolves the configured assistant id against the API. Called once
// at startup so a bad key or id fails there instead of on the first message.
func (a *AssistantClient) Verify(ctx context.Context) error {
	assistant, err := a.api.RetrieveAssistant(ctx, a.assistantID)
	if err != nil {
		return fmt.Errorf("retrieve assistant %s: %v", a.assistantID, err)
	}
	name := ""
	if assistant.Name != nil {
		name = *assistant.Name
	}
	log.Printf("[Assistant] Using assistant %s (%s), default model %s", assistant.ID, name, assistant.Model)
	return nil
}

// CreateThread opens a fresh remote conversation thread.
func (a *AssistantClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := a.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %v", err)
	}
	return thread.ID, nil
}

// Send appends userText to the thread, runs the assistant over it, and
// returns the reply text. It blocks until the run reaches a terminal state
// or the configured timeout elapses. The run id is returned for the audit
// log even when the run fails.
func (a *AssistantClient) Send(ctx context.Context, threadID, userText string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.runTimeout)
	defer cancel()

	_, err := a.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})
	if err != nil {
		return "", "", fmt.Errorf("append message: %v", err)
	}

	run, err := a.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:  a.assistantID,
		Model:        a.model,
		Instructions: a.instructions,
	})
	if err != nil {
		return "", "", fmt.Errorf("create run: %v", err)
	}
	runID := run.ID

	if err := a.waitForRun(ctx, threadID, runID); err != nil {
		return "", runID, err
	}

	reply, err := a.runReply(ctx, threadID, runID)
	if err != nil {
		return "", runID, err
	}
	return reply, runID, nil
}

// waitForRun polls the run until it completes. Terminal failure states carry
// the provider's last_error message when one is present.
func (a *AssistantClient) waitForRun(ctx context.Context, threadID, runID string) error {
	every := a.pollEvery
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		run, err := a.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("run %s did not complete in time: %v", runID, ctx.Err())
			}
			return fmt.Errorf("retrieve run: %v", err)
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			// still working
		default:
			// failed, cancelled, expired, requires_action: nothing here
			// submits tool outputs, so all of these end the exchange
			reason := string(run.Status)
			if run.LastError != nil && run.LastError.Message != "" {
				reason = fmt.Sprintf("%s (%s)", reason, run.LastError.Message)
			}
			return fmt.Errorf("run %s ended with status %s", runID, reason)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("run %s did not complete in time: %v", runID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// runReply fetches the assistant message the run produced.
func (a *AssistantClient) runReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 10
	order := "desc"
	msgs, err := a.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", fmt.Errorf("list messages: %v", err)
	}

	for _, m := range msgs.Messages {
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		var parts []string
		for _, c := range m.Content {
			if c.Text != nil && c.Text.Value != "" {
				parts = append(parts, c.Text.Value)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", fmt.Errorf("run %s produced no assistant reply", runID)
}
