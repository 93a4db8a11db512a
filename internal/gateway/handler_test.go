package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/piyush97/resonance/internal/config"
	"github.com/piyush97/resonance/internal/domain"
	"github.com/piyush97/resonance/internal/rag"
	"github.com/piyush97/resonance/internal/session"
	"github.com/piyush97/resonance/internal/store"
)

// newKBServer returns a fake knowledge-base backend answering every chat
// request with a fixed grounded response.
func newKBServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/knowledge-base/chat":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"response":"grounded answer","sources":[{"source":"kb/doc.md","score":0.87}]}`)
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestHandler(t *testing.T, kbURL string) (*Handler, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Load()
	cfg.KBServiceURL = kbURL
	cfg.RAGTimeout = 2 * time.Second

	registry := session.NewRegistry(cfg.DuplicatePolicy)
	ragClient := rag.NewClient(kbURL, "", cfg.RAGTimeout)

	return NewHandler(cfg, registry, st, ragClient), st
}

func postJSON(e *echo.Echo, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateConversation(t *testing.T) {
	kb := newKBServer(t)
	h, st := newTestHandler(t, kb.URL)
	e := echo.New()

	c, rec := postJSON(e, "/api/v1/conversations/create", `{"visitor_id":"visitor-1","channel":"web"}`)
	if err := h.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CreateConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.True(t, strings.HasPrefix(resp.ConversationID, "conv_"), "id: %s", resp.ConversationID)
	assert.Contains(t, resp.WSURL, "/api/v1/conversations/"+resp.ConversationID+"/ws")
	assert.True(t, strings.HasPrefix(resp.WSURL, "ws://"), "ws_url: %s", resp.WSURL)

	// The durable record exists immediately.
	sess, err := st.GetConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	assert.NotNil(t, sess)
	assert.Equal(t, domain.SessionActive, sess.Status)
}

func TestCreateConversationPublicWSBase(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	h.cfg.PublicWSBase = "wss://chat.example.com"
	e := echo.New()

	c, rec := postJSON(e, "/api/v1/conversations/create", `{"visitor_id":"v","channel":"web"}`)
	if err := h.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	var resp CreateConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.True(t, strings.HasPrefix(resp.WSURL, "wss://chat.example.com/"), "ws_url: %s", resp.WSURL)
}

func TestCreateConversationValidation(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	cases := []struct {
		name   string
		body   string
		detail string
	}{
		{"missing visitor_id", `{"channel":"web"}`, "visitor_id is required"},
		{"missing channel", `{"visitor_id":"v"}`, "channel is required"},
		{"unknown channel", `{"visitor_id":"v","channel":"carrier_pigeon"}`, "channel must be one of: web, slack, whatsapp, email"},
		{"not an object", `"hello"`, "request body must be a JSON object"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := postJSON(e, "/api/v1/conversations/create", tc.body)
			if err := h.CreateConversation(c); err != nil {
				t.Fatalf("CreateConversation failed: %v", err)
			}

			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp struct {
				Error   string   `json:"error"`
				Details []string `json:"details"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			assert.Equal(t, "validation failed", resp.Error)
			assert.Contains(t, resp.Details, tc.detail)
		})
	}
}

func TestCreateConversationAllChannels(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	for _, channel := range domain.Channels {
		c, rec := postJSON(e, "/api/v1/conversations/create",
			fmt.Sprintf(`{"visitor_id":"v","channel":"%s"}`, channel))
		if err := h.CreateConversation(c); err != nil {
			t.Fatalf("CreateConversation failed for %s: %v", channel, err)
		}
		assert.Equal(t, http.StatusOK, rec.Code, "channel %s", channel)
	}
}

func TestCreateConversationInitialMessage(t *testing.T) {
	kb := newKBServer(t)
	h, st := newTestHandler(t, kb.URL)
	e := echo.New()

	c, rec := postJSON(e, "/api/v1/conversations/create",
		`{"visitor_id":"v","channel":"web","initial_message":"what do you sell?"}`)
	if err := h.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CreateConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	// The initial turn is processed in the background.
	deadline := time.Now().Add(3 * time.Second)
	for {
		turns, err := st.GetTurns(context.Background(), resp.ConversationID)
		if err != nil {
			t.Fatalf("GetTurns failed: %v", err)
		}
		if len(turns) == 2 {
			assert.Equal(t, domain.RoleUser, turns[0].Role)
			assert.Equal(t, "what do you sell?", turns[0].Content)
			assert.Equal(t, domain.RoleAssistant, turns[1].Role)
			assert.Equal(t, "grounded answer", turns[1].Content)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("initial message never processed, have %d turns", len(turns))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCreateThenGetEmptyTranscript(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	c, rec := postJSON(e, "/api/v1/conversations/create", `{"visitor_id":"v1","channel":"web"}`)
	if err := h.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	var created CreateConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetPath("/api/v1/conversations/:id")
	c.SetParamNames("id")
	c.SetParamValues(created.ConversationID)

	if err := h.GetConversation(c); err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	var resp struct {
		ConversationID string        `json:"conversation_id"`
		Messages       []domain.Turn `json:"messages"`
		Status         string        `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.Equal(t, created.ConversationID, resp.ConversationID)
	assert.Equal(t, "active", resp.Status)
	assert.Empty(t, resp.Messages)
}

func TestGetConversationUnknown(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/conversations/:id")
	c.SetParamNames("id")
	c.SetParamValues("conv_0_deadbeef")

	if err := h.GetConversation(c); err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConversationID string        `json:"conversation_id"`
		Messages       []domain.Turn `json:"messages"`
		Status         string        `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.Equal(t, "conv_0_deadbeef", resp.ConversationID)
	assert.Equal(t, "active", resp.Status)
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
}

func TestPostMessageThenGetConversation(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	c, rec := postJSON(e, "/", `{"content":"hello there"}`)
	c.SetPath("/api/v1/conversations/:id/messages")
	c.SetParamNames("id")
	c.SetParamValues("conv_7_feedf00d")

	if err := h.PostMessage(c); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	assert.Equal(t, http.StatusOK, rec.Code)

	var reply struct {
		Type    string                  `json:"type"`
		Content string                  `json:"content"`
		Sources []domain.SourceCitation `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	assert.Equal(t, "response", reply.Type)
	assert.Equal(t, "grounded answer", reply.Content)
	assert.Len(t, reply.Sources, 1)
	assert.Equal(t, "kb/doc.md", reply.Sources[0].Source)

	// The stateless turn landed in the transcript, with a record created
	// on demand for the previously unseen id.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetPath("/api/v1/conversations/:id")
	c.SetParamNames("id")
	c.SetParamValues("conv_7_feedf00d")

	if err := h.GetConversation(c); err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	var resp struct {
		Messages []domain.Turn `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.Len(t, resp.Messages, 2)
	assert.Equal(t, domain.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, resp.Messages[1].Role)
}

func TestPostMessageEmptyContent(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	c, rec := postJSON(e, "/", `{"content":""}`)
	c.SetPath("/api/v1/conversations/:id/messages")
	c.SetParamNames("id")
	c.SetParamValues("conv_8_feedf00d")

	if err := h.PostMessage(c); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageUpstreamFailure(t *testing.T) {
	kb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"detail":"vector store on fire"}`)
	}))
	defer kb.Close()

	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	c, rec := postJSON(e, "/", `{"content":"hello"}`)
	c.SetPath("/api/v1/conversations/:id/messages")
	c.SetParamNames("id")
	c.SetParamValues("conv_9_feedf00d")

	if err := h.PostMessage(c); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	// Logic failures still answer 200 with an error-typed reply, and the
	// upstream detail never reaches the client.
	assert.Equal(t, http.StatusOK, rec.Code)

	var reply struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "Failed to generate response", reply.Message)
	assert.NotContains(t, rec.Body.String(), "vector store")
}

func TestHealth(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	if err := h.Health(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Health failed: %v", err)
	}

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Services["api"])
	assert.Equal(t, "ok", resp.Services["kb"])
}

func TestHealthKBDown(t *testing.T) {
	kb := newKBServer(t)
	h, _ := newTestHandler(t, kb.URL)
	kb.Close()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	if err := h.Health(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Health failed: %v", err)
	}

	var resp struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "error", resp.Services["kb"])
}
