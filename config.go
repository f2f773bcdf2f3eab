package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the application reads. It is built once at
// startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	APIKey      string
	AssistantID string
	Model       string

	Instructions    string
	PageTitle       string
	WelcomeMessage  string
	UserPrompt      string
	BeginMessage    string
	ExitMessage     string
	StartChatButton string
	DisclaimerPath  string
	LogoPath        string

	Port        int
	BaseURL     string // override for the OpenAI API endpoint, mostly for tests
	RunTimeout  time.Duration
	PollEvery   time.Duration
	SessionTTL  time.Duration
	RateRPS     float64
	RateBurst   int
	AuditDBPath string
}

// uiOverrides is the shape of the optional UI_CONFIG yaml file. Any field
// present there wins over the corresponding environment variable.
type uiOverrides struct {
	PageTitle       string `yaml:"page_title"`
	WelcomeMessage  string `yaml:"welcome_message"`
	UserPrompt      string `yaml:"user_prompt"`
	BeginMessage    string `yaml:"begin_message"`
	ExitMessage     string `yaml:"exit_message"`
	StartChatButton string `yaml:"start_chat_button"`
	Instructions    string `yaml:"instructions"`
}

// LoadConfig reads the environment into a Config, failing fast when a
// required variable is missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIKey:      os.Getenv("API_KEY"),
		AssistantID: os.Getenv("ASSISTANT_KEY"),
		Model:       os.Getenv("OPENAI_MODEL"),

		Instructions:    os.Getenv("INSTRUCTIONS"),
		PageTitle:       envOr("PAGE_TITLE", "Assistant Chat"),
		WelcomeMessage:  envOr("WELCOME_MESSAGE", "Welcome! Ask me anything."),
		UserPrompt:      envOr("USER_PROMPT", "Type your message..."),
		BeginMessage:    envOr("BEGIN_MESSAGE", "Press the button below to start chatting."),
		ExitMessage:     envOr("EXIT_MESSAGE", "End chat"),
		StartChatButton: envOr("START_CHAT_BUTTON", "Start chat"),
		DisclaimerPath:  os.Getenv("DISCLAIMER"),
		LogoPath:        os.Getenv("LOGO"),

		Port:        envInt("CHAT_PORT", 8501),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		RunTimeout:  time.Duration(envInt("RUN_TIMEOUT_SECONDS", 90)) * time.Second,
		PollEvery:   time.Duration(envInt("RUN_POLL_MS", 1000)) * time.Millisecond,
		SessionTTL:  time.Duration(envInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		RateRPS:     envFloat("RATE_LIMIT_RPS", 1),
		RateBurst:   envInt("RATE_LIMIT_BURST", 5),
		AuditDBPath: envOr("CHAT_AUDIT_DB", "chat_audit.db"),
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing required environment variable API_KEY")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("missing required environment variable ASSISTANT_KEY")
	}

	if path := os.Getenv("UI_CONFIG"); path != "" {
		if err := cfg.applyUIOverrides(path); err != nil {
			return nil, fmt.Errorf("UI_CONFIG: %v", err)
		}
	}

	return cfg, nil
}

func (c *Config) applyUIOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var ui uiOverrides
	if err := yaml.Unmarshal(raw, &ui); err != nil {
		return fmt.Errorf("parse %s: %v", path, err)
	}
	if ui.PageTitle != "" {
		c.PageTitle = ui.PageTitle
	}
	if ui.WelcomeMessage != "" {
		c.WelcomeMessage = ui.WelcomeMessage
	}
	if ui.UserPrompt != "" {
		c.UserPrompt = ui.UserPrompt
	}
	if ui.BeginMessage != "" {
		c.BeginMessage = ui.BeginMessage
	}
	if ui.ExitMessage != "" {
		c.ExitMessage = ui.ExitMessage
	}
	if ui.StartChatButton != "" {
		c.StartChatButton = ui.StartChatButton
	}
	if ui.Instructions != "" {
		c.Instructions = ui.Instructions
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
