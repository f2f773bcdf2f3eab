package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/yuin/goldmark"
)

// Server wires the chat page and its API to the assistant driver.
type Server struct {
	cfg            *Config
	assistant      *AssistantClient
	store          *SessionStore
	limiter        *ipLimiter
	disclaimerHTML string
	hasLogo        bool
}

func NewServer(cfg *Config, assistant *AssistantClient, store *SessionStore) *Server {
	s := &Server{
		cfg:       cfg,
		assistant: assistant,
		store:     store,
		limiter:   newIPLimiter(cfg.RateRPS, cfg.RateBurst),
	}
	s.disclaimerHTML = renderDisclaimer(cfg.DisclaimerPath)
	s.hasLogo = fileExists(cfg.LogoPath)
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods("GET", "POST")
	r.HandleFunc("/api/session", s.handleSessionStart).Methods("POST")
	r.HandleFunc("/api/session/{id}", s.handleSessionEnd).Methods("DELETE")
	r.HandleFunc("/api/chat", s.handleChat).Methods("POST")
	r.HandleFunc("/api/transcript", s.handleTranscript).Methods("GET")
	r.HandleFunc("/logo", s.handleLogo).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	log.Printf("[HTTP] Listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// renderDisclaimer converts the configured markdown file to HTML for the
// page header. Missing or unreadable files just render nothing.
func renderDisclaimer(path string) string {
	if path == "" || !fileExists(path) {
		return ""
	}
	src, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[HTTP] Could not read disclaimer %s: %v", path, err)
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		log.Printf("[HTTP] Could not render disclaimer %s: %v", path, err)
		return ""
	}
	return buf.String()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// isBrowserUA checks if the user agent appears to be from a web browser
func isBrowserUA(ua string) bool {
	ua = strings.ToLower(ua)
	browserIndicators := []string{
		"mozilla", "msie", "trident", "edge", "chrome", "safari",
		"firefox", "opera", "webkit", "gecko", "khtml",
	}
	for _, indicator := range browserIndicators {
		if strings.Contains(ua, indicator) {
			return true
		}
	}
	return false
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil && r.FormValue("q") != "" {
			query = r.FormValue("q")
		}
	}

	// One-shot plain-text mode for curl and friends
	if query != "" && !isBrowserUA(r.Header.Get("User-Agent")) {
		s.answerOneShot(w, r, query)
		return
	}

	s.renderPage(w)
}

// answerOneShot runs a single exchange in a throwaway session and returns
// the reply as plain text.
func (s *Server) answerOneShot(w http.ResponseWriter, r *http.Request, query string) {
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	sess := s.store.Create()
	defer s.store.Delete(sess.ID)

	reply, err := sess.Send(r.Context(), s.assistant, query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, reply)
}

func (s *Server) renderPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(w, "<title>%s</title>\n", html.EscapeString(s.cfg.PageTitle))
	fmt.Fprint(w, `<meta name="viewport" content="width=device-width, initial-scale=1.0">`+"\n")
	fmt.Fprint(w, pageStyle)
	fmt.Fprint(w, "</head>\n<body>\n")

	if s.disclaimerHTML != "" {
		fmt.Fprintf(w, "<div class=\"disclaimer\">%s</div>\n", s.disclaimerHTML)
	}
	if s.hasLogo {
		fmt.Fprint(w, "<img src=\"/logo\" class=\"logo\" alt=\"logo\">\n")
	}
	fmt.Fprintf(w, "<h1>%s</h1>\n", html.EscapeString(s.cfg.PageTitle))
	fmt.Fprintf(w, "<p class=\"welcome\">%s</p>\n", html.EscapeString(s.cfg.WelcomeMessage))

	fmt.Fprintf(w, `<div id="begin">
    <p>%s</p>
    <button id="start-button" onclick="startChat()">%s</button>
</div>
<div id="chat-area" class="hidden">
    <div class="chat" id="chat"></div>
    <form id="chat-form" onsubmit="sendMessage(event); return false;">
        <div class="input-row">
            <input type="text" id="query-input" placeholder="%s" autocomplete="off">
            <input type="submit" value="Send" id="send-button">
        </div>
    </form>
    <p><button id="exit-button" class="linklike" onclick="endChat()">%s</button></p>
</div>
`,
		html.EscapeString(s.cfg.BeginMessage),
		html.EscapeString(s.cfg.StartChatButton),
		html.EscapeString(s.cfg.UserPrompt),
		html.EscapeString(s.cfg.ExitMessage),
	)

	fmt.Fprint(w, pageScript)
	fmt.Fprint(w, "</body>\n</html>\n")
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	sess := s.store.Create()
	log.Printf("[HTTP] Session %s started", sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.store.Delete(id)
	log.Printf("[HTTP] Session %s ended", id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	sessionID := r.FormValue("session_id")
	query := strings.TrimSpace(r.FormValue("q"))
	if sessionID == "" || query == "" {
		http.Error(w, "session_id and q are required", http.StatusBadRequest)
		return
	}

	sess, err := s.store.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	reply, err := sess.Send(r.Context(), s.assistant, query)
	if err != nil {
		log.Printf("[HTTP] Chat error (session %s): %v", sessionID, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, reply)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	sess, err := s.store.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"messages":   sess.Transcript(),
	})
}

func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	if !s.hasLogo {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.cfg.LogoPath)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"sessions": s.store.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	b, err := json.Marshal(v)
	if err != nil {
		_, _ = w.Write([]byte(`{"ok":false,"error":"failed to marshal json"}`))
		return
	}
	_, _ = w.Write(append(b, '\n'))
}

const pageStyle = `<style>
    body { text-align: center; margin: 2.5rem; font-family: system-ui, -apple-system, sans-serif; background: #FFF8F0; color: #2C1F3D; }
    .logo { width: 90px; }
    .disclaimer { max-width: 700px; margin: 0 auto 1rem; font-size: 0.85rem; color: #6B5E7A; text-align: left; }
    .welcome { max-width: 700px; margin: 0 auto 1.5rem; }
    .chat { text-align: left; max-width: 700px; margin: 1.25rem auto; }
    .q { padding: 1.25rem; background: #E8DCC4; font-style: italic; border-left: 4px solid #6B4C8A; margin-top: 1rem; }
    .a { padding: 1.5rem 1.25rem; background: #FFFBF5; margin: 0.75rem 0; border-radius: 8px; border: 1px solid #E8DCC4; white-space: pre-wrap; }
    .err { padding: 1rem 1.25rem; background: #FDECEA; color: #B3261E; margin: 0.75rem 0; border-radius: 8px; border: 1px solid #F2B8B5; }
    form { max-width: 700px; margin: 0 auto 1rem; }
    .input-row { display: flex; gap: .5rem; }
    input[type="text"] { width: 100%; padding: 1rem 1.25rem; font-size: 1.1rem; border: 3px solid #6B4C8A; border-radius: 12px; background: #FFFBF5; outline: none; }
    input[type="text"]:focus { border-color: #5A3D79; background: white; }
    input[type="submit"], #start-button { padding: 1rem 2rem; font-size: 1rem; font-weight: 600; background: #6B4C8A; color: white; border: none; border-radius: 10px; cursor: pointer; }
    input[type="submit"]:hover, #start-button:hover { background: #5A3D79; }
    .linklike { background: none; border: none; color: #6B4C8A; text-decoration: underline; cursor: pointer; font-size: 0.9rem; }
    .hidden { display: none; }
    @media (prefers-color-scheme: dark) {
        body { background: #181a1b; color: #e8e6e3; }
        .q { background: #23262a; color: #c9d1d9; }
        .a { background: #222326; color: #e8e6e3; border-color: #444; }
        input[type="text"] { background: #23262a; color: #e8e6e3; border-color: #444; }
    }
</style>
`

const pageScript = `<script>
    let sessionId = null;

    async function startChat() {
        const resp = await fetch('/api/session', {method: 'POST'});
        if (!resp.ok) { alert('Could not start chat: ' + await resp.text()); return; }
        const data = await resp.json();
        sessionId = data.session_id;
        document.getElementById('begin').classList.add('hidden');
        document.getElementById('chat-area').classList.remove('hidden');
        document.getElementById('query-input').focus();
    }

    async function endChat() {
        if (sessionId) {
            await fetch('/api/session/' + sessionId, {method: 'DELETE'});
        }
        sessionId = null;
        document.getElementById('chat').innerHTML = '';
        document.getElementById('chat-area').classList.add('hidden');
        document.getElementById('begin').classList.remove('hidden');
    }

    async function sendMessage(event) {
        event.preventDefault();
        if (!sessionId) return;

        const queryInput = document.getElementById('query-input');
        const query = queryInput.value.trim();
        if (!query) return;

        queryInput.disabled = true;
        document.getElementById('send-button').disabled = true;

        const chatDiv = document.getElementById('chat');
        const questionDiv = document.createElement('div');
        questionDiv.className = 'q';
        questionDiv.textContent = query;
        chatDiv.appendChild(questionDiv);

        try {
            const params = new URLSearchParams();
            params.append('session_id', sessionId);
            params.append('q', query);

            const resp = await fetch('/api/chat', {
                method: 'POST',
                headers: {'Content-Type': 'application/x-www-form-urlencoded'},
                body: params.toString()
            });

            const div = document.createElement('div');
            if (resp.ok) {
                div.className = 'a';
                div.textContent = await resp.text();
            } else {
                div.className = 'err';
                div.textContent = 'Error: ' + await resp.text();
            }
            chatDiv.appendChild(div);
            div.scrollIntoView({behavior: 'smooth', block: 'end'});
        } catch (error) {
            const div = document.createElement('div');
            div.className = 'err';
            div.textContent = 'Error: ' + error.message;
            chatDiv.appendChild(div);
        } finally {
            queryInput.value = '';
            queryInput.disabled = false;
            queryInput.focus();
            document.getElementById('send-button').disabled = false;
        }
    }
</script>
`
