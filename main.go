package main

import (
	"context"
	"log"
	"time"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := InitAuditDB(cfg.AuditDBPath); err != nil {
		log.Printf("[AUDIT] Continuing without audit log: %v", err)
	}

	assistant := NewAssistantClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := assistant.Verify(ctx); err != nil {
		cancel()
		log.Fatalf("Assistant verification failed: %v", err)
	}
	cancel()

	store := NewSessionStore(cfg.SessionTTL)
	store.StartJanitor(context.Background(), time.Minute)

	server := NewServer(cfg, assistant, store)
	if err := server.Start(); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
