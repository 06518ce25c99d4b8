package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogConfig(t *testing.T) string {
	t.Helper()
	prevCfg, prevLogger, prevLevel := config.Cfg, log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		Shutdown()
		config.Cfg = prevCfg
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "logs", "shellbridge.log")
	config.Cfg.LogPath = path
	config.Cfg.LogLevel = "debug"
	config.Cfg.LogJSON = true
	return path
}

func TestInit_WritesToFile(t *testing.T) {
	path := setupLogConfig(t)
	Init()

	log.Info().Str("component", "test").Msg("hello file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello file"`) {
		t.Errorf("log file missing message: %s", data)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", zerolog.GlobalLevel())
	}
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	setupLogConfig(t)
	config.Cfg.LogLevel = "chatty"
	Init()
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("global level = %v, want info", zerolog.GlobalLevel())
	}
}

func TestReadTailAndClear(t *testing.T) {
	setupLogConfig(t)
	Init()
	for _, msg := range []string{"one", "two", "three"} {
		log.Info().Msg(msg)
	}

	tail, err := ReadTail(2)
	if err != nil {
		t.Fatalf("ReadTail() error: %v", err)
	}
	lines := strings.Split(tail, "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "two") || !strings.Contains(lines[1], "three") {
		t.Errorf("ReadTail(2) = %q", tail)
	}

	if err := Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	tail, err = ReadTail(10)
	if err != nil || tail != "" {
		t.Errorf("after Clear: %q, %v", tail, err)
	}
}

func TestReadTail_MissingFile(t *testing.T) {
	setupLogConfig(t)
	tail, err := ReadTail(5)
	if err != nil || tail != "" {
		t.Errorf("ReadTail on missing file = %q, %v", tail, err)
	}
}
