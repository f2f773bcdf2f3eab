package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	auditDB      *sql.DB
	auditDBOnce  sync.Once
	auditEnabled = true
)

// DisableAudit turns off all audit logging
func DisableAudit() {
	auditEnabled = false
	log.Println("[AUDIT] Audit logging DISABLED")
}

// ChatAuditEntry is one recorded user/assistant exchange.
type ChatAuditEntry struct {
	ID            int64
	SessionID     string
	ThreadID      string
	RunID         string
	Timestamp     time.Time
	UserText      string
	AssistantText string
	InputTokens   int
	OutputTokens  int
	Error         string
}

// InitAuditDB opens the SQLite database used for exchange audit logging.
// ENABLE_CHAT_AUDIT=false turns auditing off entirely.
func InitAuditDB(path string) error {
	if os.Getenv("ENABLE_CHAT_AUDIT") == "false" {
		DisableAudit()
		return nil
	}

	var err error
	auditDBOnce.Do(func() {
		auditDB, err = sql.Open("sqlite3", path)
		if err != nil {
			log.Printf("Failed to open audit database: %v", err)
			return
		}

		schema := `
		CREATE TABLE IF NOT EXISTS chat_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			thread_id TEXT,
			run_id TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			input_tokens INTEGER,
			output_tokens INTEGER,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_session_id ON chat_audit(session_id);
		CREATE INDEX IF NOT EXISTS idx_timestamp ON chat_audit(timestamp);
		`

		_, err = auditDB.Exec(schema)
		if err != nil {
			log.Printf("Failed to create audit schema: %v", err)
			return
		}

		log.Println("[AUDIT] Chat audit database initialized")
	})

	return err
}

// LogExchange records one exchange to the audit database. Failures are
// logged and swallowed so auditing can never break a chat.
func LogExchange(sessionID, threadID, runID, userText, assistantText string, err error) {
	if !auditEnabled || auditDB == nil {
		return
	}

	errorStr := ""
	if err != nil {
		errorStr = err.Error()
	}

	query := `
		INSERT INTO chat_audit (
			session_id, thread_id, run_id,
			user_text, assistant_text, input_tokens, output_tokens, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, dbErr := auditDB.Exec(query,
		sessionID, threadID, runID,
		userText, assistantText, countTokens(userText), countTokens(assistantText), errorStr)

	if dbErr != nil {
		log.Printf("[AUDIT] Failed to log exchange: %v", dbErr)
		return
	}

	id, _ := result.LastInsertId()
	log.Printf("[AUDIT] Logged exchange ID=%d, Session=%s, Thread=%s, InputLen=%d, OutputLen=%d",
		id, sessionID, threadID, len(userText), len(assistantText))
}

// GetSessionHistory retrieves all recorded exchanges for a session.
func GetSessionHistory(sessionID string) ([]ChatAuditEntry, error) {
	if auditDB == nil {
		return nil, fmt.Errorf("audit database not initialized")
	}

	query := `
		SELECT id, session_id, thread_id, run_id, timestamp,
		       user_text, assistant_text, input_tokens, output_tokens, error
		FROM chat_audit
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := auditDB.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ChatAuditEntry
	for rows.Next() {
		var entry ChatAuditEntry
		err := rows.Scan(
			&entry.ID, &entry.SessionID, &entry.ThreadID, &entry.RunID,
			&entry.Timestamp, &entry.UserText, &entry.AssistantText,
			&entry.InputTokens, &entry.OutputTokens, &entry.Error,
		)
		if err != nil {
			log.Printf("[AUDIT] Error scanning row: %v", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
