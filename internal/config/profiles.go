package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"gopkg.in/yaml.v3"
)

// Profile is one named host entry of the profiles file. Field names follow
// the session option names; timeouts are in milliseconds. Zero values fall
// back to the file's defaults and then to the sshshell defaults.
type Profile struct {
	Host                string `yaml:"host" json:"host"`
	Port                int    `yaml:"port,omitempty" json:"port,omitempty"`
	UserName            string `yaml:"userName" json:"user_name"`
	Password            string `yaml:"password,omitempty" json:"-"`
	PassPhrase          string `yaml:"passPhrase,omitempty" json:"-"`
	PrivateKeyPath      string `yaml:"privateKeyPath,omitempty" json:"private_key_path,omitempty"`
	KnownHostsPath      string `yaml:"knownHostsPath,omitempty" json:"known_hosts_path,omitempty"`
	ConnectTimeoutMs    int    `yaml:"connectTimeoutMs,omitempty" json:"connect_timeout_ms,omitempty"`
	RequestTimeoutMs    int    `yaml:"requestTimeoutMs,omitempty" json:"request_timeout_ms,omitempty"`
	RequestEndTimeoutMs int    `yaml:"requestEndTimeoutMs,omitempty" json:"request_end_timeout_ms,omitempty"`
	WaitCycleMs         int    `yaml:"waitCycleMs,omitempty" json:"wait_cycle_ms,omitempty"`
	ReadBufferSize      int    `yaml:"readBufferSize,omitempty" json:"read_buffer_size,omitempty"`
	CommandSuffix       string `yaml:"commandSuffix,omitempty" json:"command_suffix,omitempty"`
	EndOfLine           string `yaml:"endOfLine,omitempty" json:"end_of_line,omitempty"`
	CustomShellTemplate string `yaml:"customShellTemplate,omitempty" json:"custom_shell_template,omitempty"`
	FailOnIncomplete    *bool  `yaml:"failOnIncomplete,omitempty" json:"fail_on_incomplete,omitempty"`
	ThreadGroup         string `yaml:"threadGroup,omitempty" json:"thread_group,omitempty"`
}

// Job runs Command on Profile on a cron Schedule.
type Job struct {
	Name     string `yaml:"name" json:"name"`
	Profile  string `yaml:"profile" json:"profile"`
	Schedule string `yaml:"schedule" json:"schedule"`
	Command  string `yaml:"command" json:"command"`
}

// ProfileFile is the parsed profiles file.
type ProfileFile struct {
	Defaults Profile            `yaml:"defaults"`
	Profiles map[string]Profile `yaml:"profiles"`
	Jobs     []Job              `yaml:"jobs"`
}

// SecretDecrypter turns a stored secret into its plaintext. Values without
// an encryption marker must be returned unchanged.
type SecretDecrypter func(value string) (string, error)

// LoadProfiles reads and validates the profiles file at path. Every profile
// has the defaults merged in and its secrets decrypted with decrypt, which
// may be nil when no secrets are encrypted.
func LoadProfiles(path string, decrypt SecretDecrypter) (*ProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data, decrypt)
}

// ParseProfiles is LoadProfiles on in-memory YAML.
func ParseProfiles(data []byte, decrypt SecretDecrypter) (*ProfileFile, error) {
	var f ProfileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("parse profiles: no profiles defined")
	}

	for name, p := range f.Profiles {
		var err error
		p = p.withDefaults(f.Defaults)
		if decrypt != nil {
			if p.Password, err = decrypt(p.Password); err != nil {
				return nil, fmt.Errorf("profile %q: password: %w", name, err)
			}
			if p.PassPhrase, err = decrypt(p.PassPhrase); err != nil {
				return nil, fmt.Errorf("profile %q: passPhrase: %w", name, err)
			}
		}
		p.PrivateKeyPath = expandHome(p.PrivateKeyPath)
		p.KnownHostsPath = expandHome(p.KnownHostsPath)
		cfg := p.SessionConfig(name)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		f.Profiles[name] = p
	}

	seen := make(map[string]bool, len(f.Jobs))
	for i, j := range f.Jobs {
		switch {
		case j.Name == "":
			return nil, fmt.Errorf("job %d: name is required", i)
		case seen[j.Name]:
			return nil, fmt.Errorf("job %q: duplicate name", j.Name)
		case j.Command == "":
			return nil, fmt.Errorf("job %q: command is required", j.Name)
		case j.Schedule == "":
			return nil, fmt.Errorf("job %q: schedule is required", j.Name)
		}
		if _, ok := f.Profiles[j.Profile]; !ok {
			return nil, fmt.Errorf("job %q: unknown profile %q", j.Name, j.Profile)
		}
		seen[j.Name] = true
	}
	return &f, nil
}

// Names returns the profile names in sorted order.
func (f *ProfileFile) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named profile.
func (f *ProfileFile) Lookup(name string) (Profile, bool) {
	p, ok := f.Profiles[name]
	return p, ok
}

// SessionConfigs converts every profile, keyed by profile name.
func (f *ProfileFile) SessionConfigs() map[string]sshshell.Config {
	out := make(map[string]sshshell.Config, len(f.Profiles))
	for name, p := range f.Profiles {
		out[name] = p.SessionConfig(name)
	}
	return out
}

// SessionConfig converts the profile into a session configuration. The
// session label is the thread group when set, the profile name otherwise.
func (p Profile) SessionConfig(name string) sshshell.Config {
	label := p.ThreadGroup
	if label == "" {
		label = name
	}
	cfg := sshshell.Config{
		Host:              p.Host,
		Port:              p.Port,
		User:              p.UserName,
		Password:          p.Password,
		Passphrase:        p.PassPhrase,
		PrivateKeyPath:    p.PrivateKeyPath,
		KnownHostsPath:    p.KnownHostsPath,
		ConnectTimeout:    millis(p.ConnectTimeoutMs),
		RequestTimeout:    millis(p.RequestTimeoutMs),
		RequestEndTimeout: millis(p.RequestEndTimeoutMs),
		WaitCycle:         millis(p.WaitCycleMs),
		ReadBufferSize:    p.ReadBufferSize,
		CommandSuffix:     p.CommandSuffix,
		EndOfLine:         p.EndOfLine,
		ShellTemplate:     p.CustomShellTemplate,
		Label:             label,
	}
	if p.FailOnIncomplete != nil {
		cfg.FailOnIncomplete = *p.FailOnIncomplete
	}
	return cfg
}

// withDefaults fills zero fields of p from d. Host and credentials are
// inherited too so a fleet sharing one key needs it listed once.
func (p Profile) withDefaults(d Profile) Profile {
	str := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	num := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	str(&p.Host, d.Host)
	num(&p.Port, d.Port)
	str(&p.UserName, d.UserName)
	str(&p.Password, d.Password)
	str(&p.PassPhrase, d.PassPhrase)
	str(&p.PrivateKeyPath, d.PrivateKeyPath)
	str(&p.KnownHostsPath, d.KnownHostsPath)
	num(&p.ConnectTimeoutMs, d.ConnectTimeoutMs)
	num(&p.RequestTimeoutMs, d.RequestTimeoutMs)
	num(&p.RequestEndTimeoutMs, d.RequestEndTimeoutMs)
	num(&p.WaitCycleMs, d.WaitCycleMs)
	num(&p.ReadBufferSize, d.ReadBufferSize)
	str(&p.CommandSuffix, d.CommandSuffix)
	str(&p.EndOfLine, d.EndOfLine)
	str(&p.CustomShellTemplate, d.CustomShellTemplate)
	str(&p.ThreadGroup, d.ThreadGroup)
	if p.FailOnIncomplete == nil {
		p.FailOnIncomplete = d.FailOnIncomplete
	}
	return p
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
