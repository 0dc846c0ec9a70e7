package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"strings"
	"testing"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/oriade/ragserve/internal/auth"
	"github.com/oriade/ragserve/internal/domain"
	answeruc "github.com/oriade/ragserve/internal/usecase/answer"
	healthuc "github.com/oriade/ragserve/internal/usecase/health"
)

// --- Mocks ---

type mockPipeline struct {
	answer     domain.Answer
	err        error
	calls      int
	credential string
	query      domain.Query
}

func (m *mockPipeline) Answer(_ context.Context, credential string, q domain.Query) (domain.Answer, error) {
	m.calls++
	m.credential = credential
	m.query = q
	return m.answer, m.err
}

type mockLogin struct {
	token string
	err   error
}

func (m *mockLogin) Login(_, _ string) (string, error) {
	return m.token, m.err
}

type mockExchanger struct {
	url   string
	token *oauth2.Token
	err   error
	code  string
}

func (m *mockExchanger) AuthCodeURL() string { return m.url }

func (m *mockExchanger) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	m.code = code
	return m.token, m.err
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(_ context.Context) healthuc.Report { return m.report }

func newTestServer(t *testing.T, pipeline Pipeline, login LoginProvider, exchanger Exchanger) *httptest.Server {
	t.Helper()
	s := NewServer(pipeline, login, exchanger, &mockHealth{report: healthuc.Report{Status: healthuc.Healthy}}, zap.NewNop())
	r := chirouter.NewRouter()
	s.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

// --- Query tests ---

func TestQuery_Success(t *testing.T) {
	p := &mockPipeline{answer: domain.Answer{Text: "the answer"}}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "valid-token", map[string]any{"query": "what is this"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["answer"] != "the answer" {
		t.Errorf("answer: got %v", body["answer"])
	}
	if p.credential != "valid-token" {
		t.Errorf("credential: got %q", p.credential)
	}
	if p.query.Text != "what is this" || p.query.TopK != domain.DefaultTopK {
		t.Errorf("query: got %+v", p.query)
	}
}

func TestQuery_MissingAuthorizationHeader(t *testing.T) {
	p := &mockPipeline{err: domain.ErrInvalidCredentials}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "", map[string]any{"query": "anything"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != codeUnauthenticated {
		t.Errorf("code: got %v", body["code"])
	}
	// The pipeline receives an empty credential and rejects it at the gate.
	if p.credential != "" {
		t.Errorf("credential should be empty, got %q", p.credential)
	}
}

func TestQuery_InvalidToken(t *testing.T) {
	p := &mockPipeline{err: domain.ErrInvalidCredentials}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "tampered", map[string]any{"query": "anything"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["message"] != "invalid credentials" {
		t.Errorf("message: got %v", body["message"])
	}
}

func TestQuery_EmptyQuestion(t *testing.T) {
	p := &mockPipeline{}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "valid-token", map[string]any{"query": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
	if p.calls != 0 {
		t.Error("pipeline must not run for an empty question")
	}
}

func TestQuery_MalformedBody(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, nil, nil)

	resp, err := http.Post(ts.URL+"/query", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestQuery_NoRelevantDocuments(t *testing.T) {
	p := &mockPipeline{err: domain.ErrNoRelevantDocuments}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "valid-token", map[string]any{"query": "obscure"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["message"] != "no relevant documents found" {
		t.Errorf("message: got %v", body["message"])
	}
}

func TestQuery_GenerationFailure(t *testing.T) {
	p := &mockPipeline{err: domain.ErrGenerationFailed}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "valid-token", map[string]any{"query": "anything"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["code"] != codeGenerationError {
		t.Errorf("code: got %v", body["code"])
	}
}

func TestQuery_UnexpectedErrorIsOpaque(t *testing.T) {
	p := &mockPipeline{err: errors.New("redis: connection pool exhausted")}
	ts := newTestServer(t, p, nil, nil)

	resp := postJSON(t, ts.URL+"/query", "valid-token", map[string]any{"query": "anything"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["message"] != "internal error" {
		t.Errorf("internals leaked to client: %v", body["message"])
	}
}

// --- Login tests ---

func postLogin(t *testing.T, url, username, password string) *http.Response {
	t.Helper()
	form := neturl.Values{"username": {username}, "password": {password}}
	resp, err := http.PostForm(url, form)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestLogin_Success(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, &mockLogin{token: "signed.jwt.token"}, nil)

	resp := postLogin(t, ts.URL+"/login", "alice", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["access_token"] != "signed.jwt.token" {
		t.Errorf("access_token: got %v", body["access_token"])
	}
	if body["token_type"] != "bearer" {
		t.Errorf("token_type: got %v", body["token_type"])
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, &mockLogin{err: domain.ErrInvalidCredentials}, nil)

	resp := postLogin(t, ts.URL+"/login", "alice", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["message"] != "invalid username or password" {
		t.Errorf("message: got %v", body["message"])
	}
}

func TestLogin_DisabledInOAuthMode(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, nil, &mockExchanger{url: "https://idp.example/authorize"})

	resp := postLogin(t, ts.URL+"/login", "alice", "secret")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- OAuth flow tests ---

func TestAuthRedirect(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, nil, &mockExchanger{url: "https://idp.example/authorize?state=x"})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/auth/login")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status: got %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://idp.example/authorize?state=x" {
		t.Errorf("location: got %q", loc)
	}
}

func TestAuthCallback_Success(t *testing.T) {
	ex := &mockExchanger{token: &oauth2.Token{AccessToken: "provider-token", TokenType: "Bearer"}}
	ts := newTestServer(t, &mockPipeline{}, nil, ex)

	resp, err := http.Get(ts.URL + "/auth/callback?code=abc123")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["access_token"] != "provider-token" {
		t.Errorf("access_token: got %v", body["access_token"])
	}
	if ex.code != "abc123" {
		t.Errorf("exchanged code: got %q", ex.code)
	}
}

func TestAuthCallback_MissingCode(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, nil, &mockExchanger{})

	resp, err := http.Get(ts.URL + "/auth/callback")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["message"] != "Authorization code not found" {
		t.Errorf("message: got %v", body["message"])
	}
}

func TestAuthCallback_ExchangeRejected(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, nil, &mockExchanger{err: errors.New("invalid_grant")})

	resp, err := http.Get(ts.URL + "/auth/callback?code=expired")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- End-to-end: local login then query ---

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

type stubRetriever struct{}

func (stubRetriever) Search(_ context.Context, _ []float32, _ int) ([]string, error) {
	return []string{"RAG retrieves passages and feeds them to a generator."}, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	return "Test answer", nil
}

func TestLoginThenQuery(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	local := auth.NewLocalVerifier("test-secret", time.Hour, map[string]string{"alice": hash}, zap.NewNop())
	pipeline := answeruc.NewService(local, stubEmbedder{}, stubRetriever{}, stubGenerator{}, time.Second, zap.NewNop())

	s := NewServer(pipeline, local, nil, &mockHealth{report: healthuc.Report{Status: healthuc.Healthy}}, zap.NewNop())
	r := chirouter.NewRouter()
	s.Routes(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp := postLogin(t, ts.URL+"/login", "alice", "correct-horse")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: got %d, want 200", resp.StatusCode)
	}
	token, _ := decodeBody(t, resp)["access_token"].(string)
	if token == "" {
		t.Fatal("expected a token")
	}

	resp = postJSON(t, ts.URL+"/query", token, map[string]any{
		"query": "What is Retrieval-Augmented Generation?",
		"top_k": 2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status: got %d, want 200", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["answer"] != "Test answer" {
		t.Errorf("answer: got %v", body["answer"])
	}

	resp = postJSON(t, ts.URL+"/query", token+"x", map[string]any{"query": "anything"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("tampered token status: got %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Health ---

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &mockPipeline{}, nil, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "ok" {
		t.Errorf("status: got %v", body["status"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	s := NewServer(&mockPipeline{}, nil, nil, &mockHealth{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckError},
	}}, zap.NewNop())
	r := chirouter.NewRouter()
	s.Routes(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", resp.StatusCode)
	}
}
