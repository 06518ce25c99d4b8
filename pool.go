package main

import (
	"fmt"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
	"github.com/gluk-w/claworc/shellbridge/internal/sshpool"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
)

// newPool builds a pool over the named profiles, or all of them when names
// is empty. A non-nil auditor records every transaction and state change.
func newPool(f *config.ProfileFile, names []string, auditor *sshaudit.Auditor, opts ...sshpool.Option) (*sshpool.Pool, error) {
	configs := f.SessionConfigs()
	if len(names) > 0 {
		selected := make(map[string]sshshell.Config, len(names))
		for _, name := range names {
			cfg, ok := configs[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", sshpool.ErrUnknownSession, name)
			}
			selected[name] = cfg
		}
		configs = selected
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no profiles configured")
	}
	if auditor != nil {
		opts = append(opts, sshpool.WithObserver(auditor), sshpool.WithStateObserver(auditor.StateObserver))
	}
	return sshpool.New(configs, opts...)
}
