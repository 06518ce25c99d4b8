package sshshell

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// CommandPlaceholder is substituted with the command text when a
// ShellTemplate is configured.
const CommandPlaceholder = "{command}"

// Defaults applied by Config.withDefaults for zero-valued fields.
const (
	DefaultPort              = 22
	DefaultConnectTimeout    = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultRequestEndTimeout = 500 * time.Millisecond
	DefaultWaitCycle         = 50 * time.Millisecond
	DefaultReadBufferSize    = 4096
	DefaultCommandSuffix     = "\n"
	DefaultEndOfLine         = "\r\n"
)

// Config holds the connection and behavior parameters of a Session. It is
// copied into the Session on creation and never mutated afterwards.
type Config struct {
	Host string
	Port int
	User string

	// Credentials. Password and PrivateKeyPath may both be set; key auth is
	// offered first. Passphrase decrypts an encrypted private key.
	Password       string
	Passphrase     string
	PrivateKeyPath string
	KnownHostsPath string

	// ConnectTimeout bounds dial, SSH handshake and shell channel setup.
	ConnectTimeout time.Duration
	// RequestTimeout bounds one transaction and the wait for the banner.
	RequestTimeout time.Duration
	// RequestEndTimeout is the quiet period used while draining the banner.
	RequestEndTimeout time.Duration
	// WaitCycle is the sleep between availability polls.
	WaitCycle time.Duration

	ReadBufferSize int
	CommandSuffix  string
	EndOfLine      string

	// ShellTemplate, when set, must contain CommandPlaceholder exactly once.
	ShellTemplate    string
	FailOnIncomplete bool

	// Label tags log lines and audit records for this session.
	Label string
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestEndTimeout <= 0 {
		c.RequestEndTimeout = DefaultRequestEndTimeout
	}
	if c.WaitCycle <= 0 {
		c.WaitCycle = DefaultWaitCycle
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.CommandSuffix == "" {
		c.CommandSuffix = DefaultCommandSuffix
	}
	if c.EndOfLine == "" {
		c.EndOfLine = DefaultEndOfLine
	}
	return c
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		return fmt.Errorf("password or private key path is required")
	}
	if c.ShellTemplate != "" && strings.Count(c.ShellTemplate, CommandPlaceholder) != 1 {
		return fmt.Errorf("shell template must contain %s exactly once", CommandPlaceholder)
	}
	return nil
}

// wireCommand returns the text actually sent for a command.
func (c *Config) wireCommand(text string) string {
	if c.ShellTemplate == "" {
		return text
	}
	return strings.Replace(c.ShellTemplate, CommandPlaceholder, text, 1)
}
