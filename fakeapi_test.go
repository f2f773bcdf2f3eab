package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAssistantAPI emulates the slice of the hosted assistants API this app
// touches: assistant retrieval, thread creation, message append, run
// create/retrieve and message listing.
type fakeAssistantAPI struct {
	srv *httptest.Server

	mu             sync.Mutex
	threadCreates  int
	runCreates     int
	reply          string
	failCreateRun  bool          // POST runs returns 500
	failRunStatus  bool          // run comes back failed with a last_error
	runPollDelay   time.Duration // each run status poll stalls this long
	runNeverDone   bool          // run status stays in_progress forever
}

func newFakeAssistantAPI(t *testing.T) *fakeAssistantAPI {
	t.Helper()
	f := &fakeAssistantAPI{reply: "hello from the assistant"}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/assistants/", f.handleAssistant)
	mux.HandleFunc("/v1/threads", f.handleCreateThread)
	mux.HandleFunc("/v1/threads/", f.handleThread)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// config returns an app Config pointed at the fake server with limits high
// enough to stay out of the way.
func (f *fakeAssistantAPI) config() *Config {
	return &Config{
		APIKey:      "test-key",
		AssistantID: "asst_test",
		Model:       "gpt-4o",
		PageTitle:   "Test Chat",
		BaseURL:     f.srv.URL + "/v1",
		RunTimeout:  5 * time.Second,
		PollEvery:   5 * time.Millisecond,
		SessionTTL:  time.Hour,
		RateRPS:     1000,
		RateBurst:   1000,
	}
}

func (f *fakeAssistantAPI) setReply(reply string) {
	f.mu.Lock()
	f.reply = reply
	f.mu.Unlock()
}

func (f *fakeAssistantAPI) setFailCreateRun(fail bool) {
	f.mu.Lock()
	f.failCreateRun = fail
	f.mu.Unlock()
}

func (f *fakeAssistantAPI) setFailRunStatus(fail bool) {
	f.mu.Lock()
	f.failRunStatus = fail
	f.mu.Unlock()
}

func (f *fakeAssistantAPI) setRunPollDelay(d time.Duration) {
	f.mu.Lock()
	f.runPollDelay = d
	f.mu.Unlock()
}

func (f *fakeAssistantAPI) setRunNeverDone(never bool) {
	f.mu.Lock()
	f.runNeverDone = never
	f.mu.Unlock()
}

func (f *fakeAssistantAPI) threadCreateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadCreates
}

func (f *fakeAssistantAPI) handleAssistant(w http.ResponseWriter, r *http.Request) {
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"id":     "asst_test",
		"object": "assistant",
		"name":   "Test Assistant",
		"model":  "gpt-4o",
	})
}

func (f *fakeAssistantAPI) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.threadCreates++
	n := f.threadCreates
	f.mu.Unlock()

	writeFakeJSON(w, http.StatusOK, map[string]any{
		"id":     fmt.Sprintf("thread_%d", n),
		"object": "thread",
	})
}

// handleThread routes /v1/threads/{tid}/messages and /v1/threads/{tid}/runs[/{rid}].
func (f *fakeAssistantAPI) handleThread(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/threads/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodPost:
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"id":     "msg_user",
			"object": "thread.message",
			"role":   "user",
		})

	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		f.mu.Lock()
		reply := f.reply
		f.mu.Unlock()
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{
					"id":     "msg_assistant",
					"object": "thread.message",
					"role":   "assistant",
					"content": []map[string]any{
						{
							"type": "text",
							"text": map[string]any{"value": reply, "annotations": []any{}},
						},
					},
				},
			},
			"has_more": false,
		})

	case len(parts) == 2 && parts[1] == "runs" && r.Method == http.MethodPost:
		f.mu.Lock()
		fail := f.failCreateRun
		f.runCreates++
		n := f.runCreates
		f.mu.Unlock()
		if fail {
			writeFakeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"message": "injected run failure",
					"type":    "server_error",
				},
			})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"id":        fmt.Sprintf("run_%d", n),
			"object":    "thread.run",
			"thread_id": parts[0],
			"status":    "queued",
		})

	case len(parts) == 3 && parts[1] == "runs" && r.Method == http.MethodGet:
		f.mu.Lock()
		fail := f.failRunStatus
		delay := f.runPollDelay
		neverDone := f.runNeverDone
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if neverDone {
			writeFakeJSON(w, http.StatusOK, map[string]any{
				"id":        parts[2],
				"object":    "thread.run",
				"thread_id": parts[0],
				"status":    "in_progress",
			})
			return
		}
		if fail {
			writeFakeJSON(w, http.StatusOK, map[string]any{
				"id":        parts[2],
				"object":    "thread.run",
				"thread_id": parts[0],
				"status":    "failed",
				"last_error": map[string]any{
					"code":    "server_error",
					"message": "the model blew a fuse",
				},
			})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"id":        parts[2],
			"object":    "thread.run",
			"thread_id": parts[0],
			"status":    "completed",
		})

	default:
		http.NotFound(w, r)
	}
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
