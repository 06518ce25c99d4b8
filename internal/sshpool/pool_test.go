package sshpool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell/shelltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(label string) sshshell.Config {
	return sshshell.Config{
		Host:              label + ".example",
		User:              "user",
		Password:          "secret",
		ConnectTimeout:    time.Second,
		RequestTimeout:    300 * time.Millisecond,
		RequestEndTimeout: 10 * time.Millisecond,
		WaitCycle:         2 * time.Millisecond,
		Label:             label,
	}
}

func shortBackoff(t *testing.T) {
	t.Helper()
	initial, max := connectInitialBackoff, connectMaxBackoff
	connectInitialBackoff, connectMaxBackoff = time.Millisecond, 2*time.Millisecond
	t.Cleanup(func() { connectInitialBackoff, connectMaxBackoff = initial, max })
}

func newTestPool(t *testing.T, tr *shelltest.Transport, opts ...Option) *Pool {
	t.Helper()
	configs := map[string]sshshell.Config{
		"web": testConfig("web"),
		"db":  testConfig("db"),
	}
	opts = append([]Option{WithSessionOptions(sshshell.WithTransport(tr))}, opts...)
	p, err := New(configs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.CloseAll() })
	return p
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(map[string]sshshell.Config{"bad": {Host: "x"}})
	assert.ErrorContains(t, err, `session "bad"`)
}

func TestNames_Sorted(t *testing.T) {
	p := newTestPool(t, &shelltest.Transport{Banner: shelltest.DefaultPrompt})
	assert.Equal(t, []string{"db", "web"}, p.Names())
}

func TestExec_ConnectsLazily(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}
	p := newTestPool(t, tr)
	assert.Zero(t, tr.Opens())

	tx, err := p.Exec(context.Background(), "web", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", tx.Output)
	assert.Equal(t, "web", tx.Label)
	assert.Equal(t, 1, tr.Opens())

	_, err = p.Exec(context.Background(), "web", "echo again")
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Opens(), "connected session must be reused")

	info, err := p.Info("web")
	require.NoError(t, err)
	assert.Equal(t, "connected", info.State)
	assert.Equal(t, int64(2), info.Stats.Requests)
	assert.Equal(t, int64(1), info.Health.Connects)
	assert.False(t, info.LastUsed.IsZero())
	assert.NotEmpty(t, info.History)
}

func TestExec_UnknownSession(t *testing.T) {
	p := newTestPool(t, &shelltest.Transport{Banner: shelltest.DefaultPrompt})
	_, err := p.Exec(context.Background(), "nope", "echo x")
	assert.ErrorIs(t, err, ErrUnknownSession)

	assert.ErrorIs(t, p.Close("nope"), ErrUnknownSession)
	_, err = p.Transactions("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestExec_ReconnectsAfterIOError(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}
	p := newTestPool(t, tr)

	_, err := p.Exec(context.Background(), "web", "echo one")
	require.NoError(t, err)

	tr.Conns()[0].Shells()[0].Hangup()

	_, err = p.Exec(context.Background(), "web", "echo lost")
	var ioErr *sshshell.IOError
	require.ErrorAs(t, err, &ioErr)

	s, err := p.Session("web")
	require.NoError(t, err)
	assert.False(t, s.IsConnected(), "broken session must be closed")
	assert.True(t, tr.Conns()[0].Closed())

	tx, err := p.Exec(context.Background(), "web", "echo back")
	require.NoError(t, err)
	assert.Equal(t, "back", tx.Output)
	assert.Equal(t, 2, tr.Opens())
	assert.Equal(t, int64(1), s.Stats().Disconnects)

	info, err := p.Info("web")
	require.NoError(t, err)
	assert.Empty(t, info.LastError)
}

func TestEnsureConnected_RetriesThenFails(t *testing.T) {
	shortBackoff(t)
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt, OpenErr: fmt.Errorf("connection refused")}
	p := newTestPool(t, tr, WithConnectRetries(4))

	err := p.EnsureConnected(context.Background(), "db")
	var connErr *sshshell.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorContains(t, err, "after 4 attempt(s)")
	assert.Equal(t, 4, tr.Opens())

	info, err := p.Info("db")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", info.State)
	assert.Contains(t, info.LastError, "connection refused")
}

func TestEnsureConnected_ContextCancelledDuringBackoff(t *testing.T) {
	initial := connectInitialBackoff
	connectInitialBackoff = time.Hour
	t.Cleanup(func() { connectInitialBackoff = initial })

	tr := &shelltest.Transport{OpenErr: fmt.Errorf("down")}
	p := newTestPool(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.EnsureConnected(ctx, "web")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, tr.Opens())
}

func TestExec_SerializesPerSession(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt, Delay: time.Millisecond}
	p := newTestPool(t, tr)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("msg-%d", i)
			tx, err := p.Exec(context.Background(), "web", "echo "+want)
			if err != nil {
				errs <- err
				return
			}
			if tx.Output != want {
				errs <- fmt.Errorf("got %q, want %q", tx.Output, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, tr.Opens())
}

func TestExec_SessionsRunIndependently(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}
	p := newTestPool(t, tr)

	_, err := p.Exec(context.Background(), "web", "echo w")
	require.NoError(t, err)
	_, err = p.Exec(context.Background(), "db", "echo d")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Opens())

	require.NoError(t, p.Close("db"))
	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "db", snap[0].Name)
	assert.Equal(t, "disconnected", snap[0].State)
	assert.Equal(t, "web", snap[1].Name)
	assert.Equal(t, "connected", snap[1].State)
	assert.Equal(t, "web.example:22", snap[1].Addr)
}

func TestTransactionsAndResetStats(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}
	p := newTestPool(t, tr)

	_, err := p.Exec(context.Background(), "web", "echo a")
	require.NoError(t, err)
	_, err = p.Exec(context.Background(), "web", "echo b")
	require.NoError(t, err)

	txs, err := p.Transactions("web")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "echo a", txs[0].Command)
	assert.Equal(t, "b", txs[1].Output)

	require.NoError(t, p.ResetStats("web"))
	info, err := p.Info("web")
	require.NoError(t, err)
	assert.Zero(t, info.Stats.Requests)
}

func TestObservers(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}

	var mu sync.Mutex
	var commands []string
	var hosts []string
	var states []sshshell.ConnectionState

	p := newTestPool(t, tr,
		WithObserver(sshshell.TransactionObserverFunc(func(tx sshshell.Transaction) {
			mu.Lock()
			defer mu.Unlock()
			commands = append(commands, tx.Label+":"+tx.Command)
		})),
		WithStateObserver(func(label, host string) sshshell.StateChangeCallback {
			mu.Lock()
			hosts = append(hosts, label+"@"+host)
			mu.Unlock()
			return func(_ string, _, to sshshell.ConnectionState, _ string) {
				mu.Lock()
				defer mu.Unlock()
				if label == "web" {
					states = append(states, to)
				}
			}
		}),
	)

	_, err := p.Exec(context.Background(), "web", "echo hi")
	require.NoError(t, err)
	require.NoError(t, p.Close("web"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"web:echo hi"}, commands)
	assert.ElementsMatch(t, []string{"web@web.example:22", "db@db.example:22"}, hosts)
	assert.Equal(t, []sshshell.ConnectionState{
		sshshell.StateConnecting, sshshell.StateConnected, sshshell.StateDisconnected,
	}, states)
}

func TestCloseAll(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt}
	p := newTestPool(t, tr)

	for _, name := range p.Names() {
		require.NoError(t, p.EnsureConnected(context.Background(), name))
	}
	require.NoError(t, p.CloseAll())

	for _, c := range tr.Conns() {
		assert.True(t, c.Closed())
	}
	for _, info := range p.Snapshot() {
		assert.Equal(t, "disconnected", info.State)
	}
	// Idempotent.
	assert.NoError(t, p.CloseAll())
}

func TestCloseAll_JoinsErrors(t *testing.T) {
	tr := &shelltest.Transport{Banner: shelltest.DefaultPrompt, ConnCloseErr: fmt.Errorf("close boom")}
	p := newTestPool(t, tr)

	require.NoError(t, p.EnsureConnected(context.Background(), "web"))
	err := p.CloseAll()
	assert.ErrorContains(t, err, `close "web"`)
	assert.ErrorContains(t, err, "close boom")
}
