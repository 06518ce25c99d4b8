package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	logFile *os.File
	mu      sync.Mutex
)

// Console receives human-readable log output. CLI commands that print
// results on stdout point it at stderr before calling Init.
var Console io.Writer = os.Stdout

// Init sets the global level and sets up dual logging to Console and the log
// file. Must be called after config.Load(). A log file that cannot be opened
// leaves logging on Console only.
func Init() {
	level, err := zerolog.ParseLevel(config.Cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = zerolog.ConsoleWriter{Out: Console, TimeFormat: time.RFC3339}
	if config.Cfg.LogJSON {
		console = Console
	}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()

	path := config.Cfg.LogPath
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create log directory")
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot open log file")
		return
	}

	mu.Lock()
	logFile = f
	mu.Unlock()

	// The file always gets JSON lines so it can be tailed and parsed.
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Logger()
	log.Info().Str("path", path).Msg("logging to file")
}

// Shutdown closes the log file opened by Init.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ReadTail returns the last n lines from the log file.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(config.Cfg.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	// Increase buffer for potentially long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n"), nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}

	// Fallback: truncate by path
	if err := os.Truncate(config.Cfg.LogPath, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
