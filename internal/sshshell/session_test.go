package sshshell_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell/shelltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeBanner = "Welcome\r\nuser@host:~$ "

func testConfig() sshshell.Config {
	return sshshell.Config{
		Host:              "stub.example",
		User:              "user",
		Password:          "secret",
		ConnectTimeout:    time.Second,
		RequestTimeout:    500 * time.Millisecond,
		RequestEndTimeout: 10 * time.Millisecond,
		WaitCycle:         2 * time.Millisecond,
	}
}

func dialStub(t *testing.T, tr *shelltest.Transport, cfg sshshell.Config, opts ...sshshell.Option) *sshshell.Session {
	t.Helper()
	opts = append([]sshshell.Option{sshshell.WithTransport(tr)}, opts...)
	s, err := sshshell.Dial(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnect_LearnsPrompt(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	assert.True(t, s.IsConnected())
	assert.Equal(t, "user@host:~$", s.Prompt())

	for _, cmd := range []string{"echo one", "echo two"} {
		_, err := s.IssueCommand(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "user@host:~$", s.Prompt(), "prompt changed after %q", cmd)
	}
}

func TestConnect_BannerInBursts(t *testing.T) {
	tr := &shelltest.Transport{Banner: "Last login: today\r\n"}
	cfg := testConfig()
	cfg.RequestEndTimeout = 50 * time.Millisecond

	s, err := sshshell.New(cfg, sshshell.WithTransport(tr))
	require.NoError(t, err)
	defer s.Close()

	// The prompt arrives after the first part of the banner but within the
	// quiet period.
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, c := range tr.Conns() {
			for _, sh := range c.Shells() {
				sh.Print("host$ ")
			}
		}
	}()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, "host$", s.Prompt())
}

func TestConnect_NoBannerIsConnectionError(t *testing.T) {
	tr := &shelltest.Transport{}
	cfg := testConfig()
	cfg.RequestTimeout = 40 * time.Millisecond

	s, err := sshshell.New(cfg, sshshell.WithTransport(tr))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.Error(t, err)

	var connErr *sshshell.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "learn prompt", connErr.Op)
	var timeoutErr *sshshell.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Timeout())
	assert.Equal(t, cfg.RequestTimeout, timeoutErr.After)

	assert.False(t, s.IsConnected())
	assert.Empty(t, s.Prompt())
	assert.Equal(t, int64(1), s.Stats().HardTimeouts)

	conns := tr.Conns()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Closed(), "transport session must be released")
	for _, sh := range conns[0].Shells() {
		assert.True(t, sh.Closed(), "shell channel must be released")
	}
}

func TestConnect_OpenFailure(t *testing.T) {
	tr := &shelltest.Transport{OpenErr: errors.New("auth failed")}
	s, err := sshshell.New(testConfig(), sshshell.WithTransport(tr))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	var connErr *sshshell.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "open session", connErr.Op)
	assert.ErrorContains(t, err, "auth failed")
	assert.Equal(t, sshshell.StateDisconnected, s.State())
}

func TestConnect_ShellFailureReleasesConn(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner, ShellErr: errors.New("channel refused")}
	s, err := sshshell.New(testConfig(), sshshell.WithTransport(tr))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	var connErr *sshshell.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "open shell", connErr.Op)

	conns := tr.Conns()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Closed())
}

func TestConnect_AlreadyConnected(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	err := s.Connect(context.Background())
	var connErr *sshshell.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, s.IsConnected(), "failed second connect must not disturb the session")
	assert.Equal(t, 1, tr.Opens())
}

func TestConnect_AfterCloseReconnects(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	_, err := s.IssueCommand(context.Background(), "echo a")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, s.Connect(context.Background()))
	out, err := s.IssueCommand(context.Background(), "echo b")
	require.NoError(t, err)
	assert.Equal(t, "b", out)

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Requests, "stats carry over reconnects")
	assert.Equal(t, int64(1), stats.Disconnects)
	assert.Equal(t, 2, tr.Opens())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Host = ""
	_, err := sshshell.New(cfg)
	assert.ErrorContains(t, err, "host is required")
}

func TestIssueCommand_NotConnected(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s, err := sshshell.New(testConfig(), sshshell.WithTransport(tr))
	require.NoError(t, err)

	_, err = s.IssueCommand(context.Background(), "echo hi")
	var connErr *sshshell.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, sshshell.ErrNotConnected)

	stats := s.Stats()
	assert.Zero(t, stats.BytesWritten)
	assert.Zero(t, stats.BytesRead)
	assert.Zero(t, stats.Requests)
	assert.Zero(t, tr.Opens())
}

func TestIssueCommand_AfterCloseDoesNoIO(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())
	require.NoError(t, s.Close())
	before := s.Stats()

	_, err := s.IssueCommand(context.Background(), "echo hi")
	assert.ErrorIs(t, err, sshshell.ErrNotConnected)

	after := s.Stats()
	assert.Equal(t, before.BytesWritten, after.BytesWritten)
	assert.Equal(t, before.BytesRead, after.BytesRead)
	assert.Equal(t, int64(1), after.Disconnects)

	sh := tr.Conns()[0].Shells()[0]
	assert.Empty(t, sh.Received())
}

func TestIssueCommand_ReturnsOnlyOutput(t *testing.T) {
	tr := &shelltest.Transport{
		Banner: welcomeBanner,
		Handler: func(cmd string) string {
			if cmd == "uname -a" {
				return "Linux host 6.1.0 x86_64\r\nsecond line"
			}
			return ""
		},
	}
	s := dialStub(t, tr, testConfig())

	out, err := s.IssueCommand(context.Background(), "uname -a")
	require.NoError(t, err)
	assert.Equal(t, "Linux host 6.1.0 x86_64\r\nsecond line", out)
}

func TestIssueCommand_EmptyOutput(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	out, err := s.IssueCommand(context.Background(), "true")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIssueCommand_TwoSequentialCommands(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	a, err := s.IssueCommand(context.Background(), "echo a")
	require.NoError(t, err)
	b, err := s.IssueCommand(context.Background(), "echo b")
	require.NoError(t, err)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)

	var rawTotal int64
	for _, raw := range tr.Responses() {
		rawTotal += int64(len(raw))
	}

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, rawTotal, stats.BytesRead)
	assert.Equal(t, int64(len("echo a\n")+len("echo b\n")), stats.BytesWritten)
}

func TestIssueCommand_PromptCharInEchoedCommand(t *testing.T) {
	tr := &shelltest.Transport{
		Banner: "$ ",
		Prompt: "$ ",
		Handler: func(cmd string) string {
			return "/home/user"
		},
	}
	s := dialStub(t, tr, testConfig())
	require.Equal(t, "$", s.Prompt())

	out, err := s.IssueCommand(context.Background(), "echo $HOME")
	require.NoError(t, err)
	assert.Equal(t, "/home/user", out)
}

func TestIssueCommand_IncompleteReturnsPartial(t *testing.T) {
	tr := &shelltest.Transport{
		Banner:  welcomeBanner,
		Handler: func(cmd string) string { return "partial" },
	}
	cfg := testConfig()
	cfg.RequestTimeout = 200 * time.Millisecond
	s := dialStub(t, tr, cfg)
	tr.SuppressPrompt(true)

	start := time.Now()
	tx, err := s.Execute(context.Background(), "slow-command")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	assert.Equal(t, "partial", tx.Output)
	assert.Equal(t, sshshell.OutcomeIncomplete, tx.Outcome)
	assert.Equal(t, int64(1), s.Stats().IncompleteResponses)
}

func TestIssueCommand_IncompleteFails(t *testing.T) {
	tr := &shelltest.Transport{
		Banner:  welcomeBanner,
		Handler: func(cmd string) string { return "partial" },
	}
	cfg := testConfig()
	cfg.RequestTimeout = 200 * time.Millisecond
	cfg.FailOnIncomplete = true
	s := dialStub(t, tr, cfg)
	tr.SuppressPrompt(true)

	_, err := s.IssueCommand(context.Background(), "slow-command")
	var incomplete *sshshell.IncompleteResponseError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "partial", incomplete.Partial)
	assert.Equal(t, "slow-command", incomplete.Command)
	assert.Equal(t, int64(1), s.Stats().IncompleteResponses)
	assert.True(t, s.IsConnected(), "an incomplete response does not close the session")
}

func TestIssueCommand_LateOutputOfIncompleteCommandIsDiscarded(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	cfg := testConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	s := dialStub(t, tr, cfg)

	tr.SuppressPrompt(true)
	first, err := s.Execute(context.Background(), "echo slow")
	require.NoError(t, err)
	require.Equal(t, sshshell.OutcomeIncomplete, first.Outcome)
	assert.Equal(t, "slow", first.Output)

	tr.SuppressPrompt(false)
	stale := "late tail\r\n" + shelltest.DefaultPrompt
	conns := tr.Conns()
	require.Len(t, conns, 1)
	require.NoError(t, conns[0].Shells()[0].Print(stale))

	second, err := s.Execute(context.Background(), "echo b")
	require.NoError(t, err)
	assert.Equal(t, sshshell.OutcomeComplete, second.Outcome)
	assert.Equal(t, "b", second.Output)
	assert.NotContains(t, second.Raw, "late tail")

	stats := s.Stats()
	assert.Equal(t, int64(first.BytesRead+len(stale)+second.BytesRead), stats.BytesRead)
}

func TestIssueCommand_NoOutputTimesOut(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	s := dialStub(t, tr, cfg)
	tr.Mute(true)

	tx, err := s.Execute(context.Background(), "echo lost")
	require.NoError(t, err)
	assert.Equal(t, sshshell.OutcomeTimedOut, tx.Outcome)
	assert.Empty(t, tx.Output)
	assert.Zero(t, tx.BytesRead)
	assert.Equal(t, int64(1), s.Stats().IncompleteResponses)
}

func TestIssueCommand_WriteFailure(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	// The remote side stops accepting input.
	tr.Conns()[0].Shells()[0].Close()

	tx, err := s.Execute(context.Background(), "echo lost")
	var ioErr *sshshell.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write command", ioErr.Op)
	assert.Equal(t, sshshell.OutcomeErrored, tx.Outcome)
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestIssueCommand_RemoteHangup(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	tr.Conns()[0].Shells()[0].Hangup()

	_, err := s.IssueCommand(context.Background(), "echo x")
	var ioErr *sshshell.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestIssueCommand_ContextCancelled(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	cfg := testConfig()
	cfg.RequestTimeout = 5 * time.Second
	s := dialStub(t, tr, cfg)
	tr.SuppressPrompt(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.IssueCommand(ctx, "sleep 60")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIssueCommand_ShellTemplate(t *testing.T) {
	tr := &shelltest.Transport{
		Banner: welcomeBanner,
		Handler: func(cmd string) string {
			if cmd == "sh -c 'echo wrapped'" {
				return "wrapped"
			}
			return "unexpected: " + cmd
		},
	}
	cfg := testConfig()
	cfg.ShellTemplate = "sh -c '" + sshshell.CommandPlaceholder + "'"
	s := dialStub(t, tr, cfg)

	tx, err := s.Execute(context.Background(), "echo wrapped")
	require.NoError(t, err)
	assert.Equal(t, "wrapped", tx.Output)
	assert.Equal(t, "sh -c 'echo wrapped'", tx.Wire)

	sh := tr.Conns()[0].Shells()[0]
	assert.Equal(t, []string{"sh -c 'echo wrapped'"}, sh.Received())
}

func TestClose_Idempotent(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.IsConnected())
	assert.Equal(t, int64(1), s.Stats().Disconnects)
	assert.True(t, tr.Conns()[0].Closed())
}

func TestClose_NeverConnected(t *testing.T) {
	s, err := sshshell.New(testConfig(), sshshell.WithTransport(&shelltest.Transport{}))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.Zero(t, s.Stats().Disconnects)
}

func TestClose_BestEffort(t *testing.T) {
	tr := &shelltest.Transport{
		Banner:        welcomeBanner,
		ShellCloseErr: errors.New("shell close failed"),
		ConnCloseErr:  errors.New("conn close failed"),
	}
	s := dialStub(t, tr, testConfig())

	err := s.Close()
	require.Error(t, err)
	assert.ErrorContains(t, err, "shell close failed")
	assert.ErrorContains(t, err, "conn close failed")
	assert.True(t, tr.Conns()[0].Closed(), "conn closed despite shell close failure")
	assert.Equal(t, int64(1), s.Stats().Disconnects)
}

func TestClose_FromAnotherGoroutine(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	cfg := testConfig()
	cfg.RequestTimeout = 5 * time.Second
	s := dialStub(t, tr, cfg)
	tr.SuppressPrompt(true)

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.Close()
	}()

	start := time.Now()
	_, err := s.IssueCommand(context.Background(), "sleep 60")
	var ioErr *sshshell.IOError
	assert.ErrorAs(t, err, &ioErr)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), s.Stats().Disconnects)
}

func TestClose_ConcurrentCountsOneDisconnect(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), s.Stats().Disconnects)
}

func TestStats_AverageRequestTime(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner, Delay: 5 * time.Millisecond}
	s := dialStub(t, tr, testConfig())

	empty := s.Stats()
	assert.Zero(t, empty.AvgRequestTime)
	assert.Zero(t, empty.AvgWaitCyclesPerRequest)

	for _, cmd := range []string{"echo 1", "echo 2", "echo 3"} {
		_, err := s.IssueCommand(context.Background(), cmd)
		require.NoError(t, err)
	}

	stats := s.Stats()
	require.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, stats.RequestTime/3, stats.AvgRequestTime)
	assert.Positive(t, stats.AvgRequestTime)
}

func TestStats_WaitCycleTime(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner, Delay: 20 * time.Millisecond}
	cfg := testConfig()
	s := dialStub(t, tr, cfg)
	s.ResetStats()

	_, err := s.IssueCommand(context.Background(), "echo slow")
	require.NoError(t, err)

	stats := s.Stats()
	require.Positive(t, stats.WaitCycles)
	expected := time.Duration(stats.WaitCycles) * cfg.WaitCycle
	diff := stats.WaitCycleTime - expected
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, cfg.WaitCycle)
}

func TestStats_Reset(t *testing.T) {
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig())
	_, err := s.IssueCommand(context.Background(), "echo a")
	require.NoError(t, err)

	s.ResetStats()
	stats := s.Stats()
	assert.Zero(t, stats.Requests)
	assert.Zero(t, stats.BytesRead)
	assert.False(t, stats.ConnectedAt.IsZero(), "reset keeps the connection start time")
}

func TestStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, testConfig(), sshshell.WithStateCallback(
		func(id string, from, to sshshell.ConnectionState, reason string) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, from.String()+"->"+to.String())
		}))
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"disconnected->connecting",
		"connecting->connected",
		"connected->disconnected",
	}, seen)

	transitions := s.StateTransitions()
	require.Len(t, transitions, 3)
	assert.Equal(t, sshshell.StateDisconnected, transitions[2].To)
}

func TestObserverAndHistory(t *testing.T) {
	var observed []sshshell.Transaction
	cfg := testConfig()
	cfg.Label = "collector"
	tr := &shelltest.Transport{Banner: welcomeBanner}
	s := dialStub(t, tr, cfg, sshshell.WithObserver(sshshell.TransactionObserverFunc(
		func(tx sshshell.Transaction) { observed = append(observed, tx) })))

	_, err := s.IssueCommand(context.Background(), "echo a")
	require.NoError(t, err)

	require.Len(t, observed, 1)
	assert.Equal(t, "echo a", observed[0].Command)
	assert.Equal(t, "a", observed[0].Output)
	assert.Equal(t, "collector", observed[0].Label)
	assert.Equal(t, s.ID, observed[0].SessionID)
	assert.Equal(t, sshshell.OutcomeComplete, observed[0].Outcome)

	history := s.Transactions()
	require.Len(t, history, 1)
	assert.Equal(t, observed[0].Raw, history[0].Raw)
}
