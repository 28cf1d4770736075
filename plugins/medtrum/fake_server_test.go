package medtrum

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	loginOK      = `{"error":0,"uid":"123","realname":"Jane"}`
	statusOK     = `{"error":0,"data":{"pump_status":{"status":32,"remainingTime":100},"sensor_status":{"status":1}}}`
	testUsername = "jane@example.com"
	testPassword = "secret"
)

type reply struct {
	status int
	body   string
	delay  time.Duration
}

// fakeEasyView serves canned login and status replies. Status replies are
// consumed in order; the last one repeats.
type fakeEasyView struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	login         reply
	statuses      []reply
	loginCalls    int
	statusCalls   int
	loginBodies   []loginRequest
	statusPaths   []string
	statusQueries []url.Values
	headers       []http.Header
}

func newFakeEasyView(t *testing.T) *fakeEasyView {
	t.Helper()
	f := &fakeEasyView{
		t:        t,
		login:    reply{status: http.StatusOK, body: loginOK},
		statuses: []reply{{status: http.StatusOK, body: statusOK}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, f.handleLogin)
	mux.HandleFunc("/api/v2.1/monitor/", f.handleStatus)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeEasyView) URL() string {
	return f.server.URL
}

func (f *fakeEasyView) setLogin(r reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.login = r
}

func (f *fakeEasyView) setStatuses(replies ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = replies
}

func (f *fakeEasyView) counts() (login, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.statusCalls
}

type recordedRequests struct {
	logins  []loginRequest
	paths   []string
	queries []url.Values
	headers []http.Header
}

func (f *fakeEasyView) recorded() recordedRequests {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recordedRequests{
		logins:  append([]loginRequest(nil), f.loginBodies...),
		paths:   append([]string(nil), f.statusPaths...),
		queries: append([]url.Values(nil), f.statusQueries...),
		headers: append([]http.Header(nil), f.headers...),
	}
}

func (f *fakeEasyView) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var req loginRequest
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.loginCalls++
	f.loginBodies = append(f.loginBodies, req)
	f.headers = append(f.headers, r.Header.Clone())
	rep := f.login
	f.mu.Unlock()

	writeReply(w, r, rep)
}

func (f *fakeEasyView) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/status") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	f.mu.Lock()
	idx := f.statusCalls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.statusCalls++
	f.statusPaths = append(f.statusPaths, r.URL.Path)
	f.statusQueries = append(f.statusQueries, r.URL.Query())
	f.headers = append(f.headers, r.Header.Clone())
	rep := f.statuses[idx]
	f.mu.Unlock()

	writeReply(w, r, rep)
}

func writeReply(w http.ResponseWriter, r *http.Request, rep reply) {
	if rep.delay > 0 {
		select {
		case <-time.After(rep.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = io.WriteString(w, rep.body)
}

func testConfig(baseURL string) Config {
	return Config{
		Username:        testUsername,
		Password:        testPassword,
		Region:          DefaultRegion,
		BaseURL:         baseURL,
		RefreshInterval: time.Hour,
	}
}

func jsonNumber(v any) json.Number {
	return json.Number(fmt.Sprint(v))
}
