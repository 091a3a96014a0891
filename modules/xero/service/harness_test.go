package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"compliance-api/core/metrics"
	"compliance-api/core/security"
	"compliance-api/modules/xero/client"
	"compliance-api/modules/xero/dto"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"

	"github.com/stretchr/testify/require"
)

const (
	testKey       = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testCompanyID = int64(1)
	authorizeURL  = "https://login.example.test/identity/connect/authorize"
)

// ledger is a fake of the token, connections and data endpoints.
type ledger struct {
	mu          sync.Mutex
	calls       map[string]int
	tokenForms  []url.Values
	authHeaders map[string][]string
	issued      int

	token       http.HandlerFunc
	connections http.HandlerFunc
	resources   map[string]http.HandlerFunc
}

func (l *ledger) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[key]
}

func (l *ledger) bearers(key string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.authHeaders[key]...)
}

func (l *ledger) setToken(h http.HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.token = h
}

func (l *ledger) setConnections(h http.HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections = h
}

func (l *ledger) forms() []url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]url.Values(nil), l.tokenForms...)
}

func (l *ledger) setResource(name string, h http.HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources[name] = h
}

// issueToken answers with a numbered token pair so tests can tell responses apart.
func (l *ledger) issueToken(w http.ResponseWriter, _ *http.Request) {
	l.mu.Lock()
	l.issued++
	n := l.issued
	l.mu.Unlock()
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"access_token":"at-%d","refresh_token":"rt-%d","expires_in":1800,"token_type":"Bearer"}`, n, n))
}

func (l *ledger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if r.URL.Path == "/connect/token" {
		_ = r.ParseForm()
		key = "token"
	} else if r.URL.Path == "/connections" {
		key = "connections"
	} else if strings.HasPrefix(r.URL.Path, "/api.xro/2.0/") {
		key = strings.TrimPrefix(r.URL.Path, "/api.xro/2.0/")
	}

	l.mu.Lock()
	l.calls[key]++
	l.authHeaders[key] = append(l.authHeaders[key], r.Header.Get("Authorization"))
	if key == "token" {
		l.tokenForms = append(l.tokenForms, r.PostForm)
	}
	h := l.resources[key]
	switch key {
	case "token":
		h = l.token
	case "connections":
		h = l.connections
	}
	l.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func tokenError(status int, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, fmt.Sprintf(`{"error":%q,"error_description":"rejected"}`, code))
	}
}

func okResource(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons map[int64][]string
}

func (n *recordingNotifier) NotifyReconnectRequired(_ context.Context, companyID int64, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons[companyID] = append(n.reasons[companyID], reason)
	return nil
}

func (n *recordingNotifier) count(companyID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons[companyID])
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) Put(_ context.Context, key string, body []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = body
	return nil
}

type harness struct {
	t        *testing.T
	ledger   *ledger
	creds    *repository.MemoryCredentialRepository
	states   *repository.MemoryStateRepository
	notifier *recordingNotifier
	archive  *memArchive
	metrics  *metrics.Registry
	svc      *ConnectionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newPacedHarness(t, time.Millisecond)
}

// newPacedHarness spaces outbound ledger calls by minInterval.
func newPacedHarness(t *testing.T, minInterval time.Duration) *harness {
	t.Helper()

	l := &ledger{
		calls:       make(map[string]int),
		authHeaders: make(map[string][]string),
		resources:   make(map[string]http.HandlerFunc),
	}
	l.token = l.issueToken
	l.connections = okResource(`[{"id":"c-1","tenantId":"t-1","tenantName":"Acme Ltd","tenantType":"ORGANISATION"}]`)
	srv := httptest.NewServer(l)
	t.Cleanup(srv.Close)

	cipher, err := security.NewCipher(testKey)
	require.NoError(t, err)

	m := metrics.NewRegistry()
	api := client.New(client.Options{
		TokenURL:           srv.URL + "/connect/token",
		ConnectionsURL:     srv.URL + "/connections",
		APIBaseURL:         srv.URL + "/api.xro/2.0",
		MinRequestInterval: minInterval,
		TokenTimeout:       200 * time.Millisecond,
		APITimeout:         200 * time.Millisecond,
		HTTPClient:         srv.Client(),
		Metrics:            m,
	})

	h := &harness{
		t:        t,
		ledger:   l,
		creds:    repository.NewMemoryCredentialRepository(),
		states:   repository.NewMemoryStateRepository(),
		notifier: &recordingNotifier{reasons: make(map[int64][]string)},
		archive:  &memArchive{objects: make(map[string][]byte)},
		metrics:  m,
	}
	h.svc = NewConnectionService(Options{
		AuthorizeURL:      authorizeURL,
		Scopes:            "offline_access accounting.transactions",
		StateTTL:          10 * time.Minute,
		RateLimitCooldown: 20 * time.Millisecond,
		RefreshSkew:       5 * time.Minute,
		TenantCacheTTL:    time.Hour,
	}, Dependencies{
		Credentials: h.creds,
		States:      h.states,
		Cipher:      cipher,
		Tokens:      api,
		Ledger:      api,
		Archive:     h.archive,
		Notifier:    h.notifier,
		Metrics:     m,
	})
	return h
}

func (h *harness) configure(companyID int64) {
	h.t.Helper()
	_, err := h.svc.Configure(context.Background(), companyID, dto.ConfigureRequest{
		ClientID:     "abc",
		ClientSecret: "xyz",
		CallbackURL:  "https://app/cb",
	})
	require.NoError(h.t, err)
}

func (h *harness) seedTokens(companyID int64, access, refresh string, expiresAt time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.creds.SaveTokens(context.Background(), &entity.TokenSet{
		CompanyID:    companyID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}))
}

func (h *harness) tokens(companyID int64) *entity.TokenSet {
	h.t.Helper()
	ts, err := h.creds.GetTokens(context.Background(), companyID)
	require.NoError(h.t, err)
	return ts
}
