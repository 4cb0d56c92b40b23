package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"shopchat/internal/auth"
	"shopchat/internal/catalog"
	"shopchat/internal/config"
	"shopchat/internal/index"
	"shopchat/internal/service/chat"
	"shopchat/internal/service/completion"
	"shopchat/internal/storage"
)

type stubSearcher struct {
	results []index.Result
}

func (s *stubSearcher) Search(ctx context.Context, query string, k int) ([]index.Result, error) {
	if len(s.results) > k {
		return s.results[:k], nil
	}
	return s.results, nil
}

type stubCompleter struct {
	reply string
	err   error
}

func (c *stubCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type testServer struct {
	router    *gin.Engine
	db        *sql.DB
	completer *stubCompleter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: "file:" + t.Name() + "?mode=memory&cache=shared"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	completer := &stubCompleter{reply: "Check out Laptop 7."}
	searcher := &stubSearcher{results: []index.Result{
		{ProductID: 1, Text: "Laptop 7. Lightweight laptop with 16GB RAM. Price: 499.00", Score: 0.9},
	}}
	chatService := chat.NewService(db, searcher, completer, nil, chat.Config{})
	authService := auth.NewService([]byte("test-secret"), time.Hour)

	router := gin.New()
	NewHandler(chatService, authService, catalog.NewStore(db, "sqlite3")).RegisterRoutes(router)
	return &testServer{router: router, db: db, completer: completer}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func (ts *testServer) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "pass123"}
	if w := ts.do(t, http.MethodPost, "/auth/register", "", creds); w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, w.Code, w.Body.String())
	}
	w := ts.do(t, http.MethodPost, "/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("login %s: missing token in %s", username, w.Body.String())
	}
	return token
}

func TestRegisterLoginAndChat(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice")

	w := ts.do(t, http.MethodPost, "/chat", token, map[string]any{"query": "cheap laptops"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: status %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["response"] != "Check out Laptop 7." {
		t.Fatalf("unexpected response %v", resp["response"])
	}
	sessionID, ok := resp["session_id"].(float64)
	if !ok || sessionID <= 0 {
		t.Fatalf("expected resolved session id in %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/chat/messages/%d", int64(sessionID)), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("messages: status %d body %s", w.Code, w.Body.String())
	}
	messages, _ := decode(t, w)["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected both turns stored, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	if first["sender"] != "user" || first["content"] != "cheap laptops" {
		t.Fatalf("unexpected first turn %v", first)
	}
	second, _ := messages[1].(map[string]any)
	if second["sender"] != "assistant" || second["content"] != "Check out Laptop 7." {
		t.Fatalf("unexpected second turn %v", second)
	}
}

func TestChatRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/chat", "", map[string]any{"query": "hi"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/chat", "not-a-jwt", map[string]any{"query": "hi"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/chat/sessions", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("sessions without token: status %d", w.Code)
	}
}

func TestChatEmptyQuery(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice")

	w := ts.do(t, http.MethodPost, "/chat", token, map[string]any{"query": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty query: status %d body %s", w.Code, w.Body.String())
	}
}

func TestChatForeignSessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := ts.registerAndLogin(t, "alice")
	bobToken := ts.registerAndLogin(t, "bob")

	w := ts.do(t, http.MethodPost, "/chat/reset", aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: status %d body %s", w.Code, w.Body.String())
	}
	sessionID := decode(t, w)["session_id"].(float64)

	w = ts.do(t, http.MethodPost, "/chat", bobToken, map[string]any{"query": "hi", "session_id": int64(sessionID)})
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign session: status %d body %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/chat/messages/%d", int64(sessionID)), bobToken, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign messages: status %d body %s", w.Code, w.Body.String())
	}
}

func TestResetStartsFreshSession(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice")

	w := ts.do(t, http.MethodPost, "/chat", token, map[string]any{"query": "first"})
	if w.Code != http.StatusOK {
		t.Fatalf("first chat: status %d body %s", w.Code, w.Body.String())
	}
	firstSession := decode(t, w)["session_id"].(float64)

	w = ts.do(t, http.MethodPost, "/chat/reset", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: status %d body %s", w.Code, w.Body.String())
	}
	resetSession := decode(t, w)["session_id"].(float64)
	if resetSession == firstSession {
		t.Fatalf("reset did not create a fresh session")
	}

	w = ts.do(t, http.MethodPost, "/chat", token, map[string]any{"query": "second"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat after reset: status %d body %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["session_id"].(float64); got != resetSession {
		t.Fatalf("expected turn in reset session %v, got %v", resetSession, got)
	}

	w = ts.do(t, http.MethodGet, "/chat/sessions", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions: status %d body %s", w.Code, w.Body.String())
	}
	sessions, _ := decode(t, w)["sessions"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestChatCompletionFailureSurfaced(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice")

	ts.completer.err = &completion.UpstreamError{Status: http.StatusBadGateway, Body: `{"error":"overloaded"}`}
	w := ts.do(t, http.MethodPost, "/chat", token, map[string]any{"query": "hi"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("upstream failure: status %d body %s", w.Code, w.Body.String())
	}
	if details := decode(t, w)["details"]; details != `{"error":"overloaded"}` {
		t.Fatalf("expected upstream body surfaced, got %v", details)
	}

	ts.completer.err = completion.ErrUnavailable
	w = ts.do(t, http.MethodPost, "/chat", token, map[string]any{"query": "hi again"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unreachable endpoint: status %d body %s", w.Code, w.Body.String())
	}
}

func TestDuplicateRegistrationConflict(t *testing.T) {
	ts := newTestServer(t)
	creds := map[string]string{"username": "alice", "password": "pass123"}

	if w := ts.do(t, http.MethodPost, "/auth/register", "", creds); w.Code != http.StatusCreated {
		t.Fatalf("register: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/auth/register", "", creds); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status %d body %s", w.Code, w.Body.String())
	}
}

func TestProductEndpoints(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.db.Exec(`INSERT INTO products (id, name, description, price, category, image_url) VALUES (1, 'Laptop 7', 'Lightweight laptop', 499.0, 'laptops', '')`)
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}

	w := ts.do(t, http.MethodGet, "/products", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list products: status %d body %s", w.Code, w.Body.String())
	}
	products, _ := decode(t, w)["products"].([]any)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}

	if w := ts.do(t, http.MethodGet, "/products/1", "", nil); w.Code != http.StatusOK {
		t.Fatalf("get product: status %d body %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodGet, "/products/99", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing product: status %d body %s", w.Code, w.Body.String())
	}
}
