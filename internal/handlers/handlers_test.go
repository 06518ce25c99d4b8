package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/database"
	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
	"github.com/gluk-w/claworc/shellbridge/internal/sshpool"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell/shelltest"
)

func stubConfig(host string) sshshell.Config {
	return sshshell.Config{
		Host:              host,
		User:              "user",
		Password:          "secret",
		ConnectTimeout:    time.Second,
		RequestTimeout:    200 * time.Millisecond,
		RequestEndTimeout: 10 * time.Millisecond,
		WaitCycle:         2 * time.Millisecond,
	}
}

// setupPool installs a pool with a "web" session backed by a stub shell.
func setupPool(t *testing.T, opts ...sshpool.Option) *shelltest.Transport {
	t.Helper()
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}
	opts = append([]sshpool.Option{
		sshpool.WithSessionOptions(sshshell.WithTransport(tr)),
		sshpool.WithConnectRetries(1),
	}, opts...)
	pool, err := sshpool.New(map[string]sshshell.Config{"web": stubConfig("web.example")}, opts...)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	SessionPool = pool
	t.Cleanup(func() {
		pool.CloseAll()
		SessionPool = nil
	})
	return tr
}

// setupAuditDB opens an in-memory database and installs a global auditor.
func setupAuditDB(t *testing.T) *sshaudit.Auditor {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	database.DB = db
	auditor := sshaudit.NewAuditor(db, 90)
	sshaudit.SetGlobalForTest(auditor)
	t.Cleanup(func() {
		sshaudit.ResetGlobalForTest()
		database.Close()
		database.DB = nil
	})
	return auditor
}

func serve(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	NewRouter("", nil).ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}
