package sshaudit

import (
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/database"
	"github.com/gluk-w/claworc/shellbridge/internal/logutil"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// maxStoredOutput caps the command output kept per audit row.
const maxStoredOutput = 64 * 1024

// Auditor records shell transactions and connection events to the database
// and also emits log lines for observability. It implements
// sshshell.TransactionObserver.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

var _ sshshell.TransactionObserver = (*Auditor)(nil)

// NewAuditor creates a new Auditor that writes to the given database.
// If retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// ObserveTransaction stores tx. Write failures are logged, never returned,
// so auditing cannot fail a command.
func (a *Auditor) ObserveTransaction(tx sshshell.Transaction) {
	output := tx.Output
	if len(output) > maxStoredOutput {
		output = output[:maxStoredOutput]
	}
	record := database.TransactionLog{
		SessionID:    tx.SessionID,
		Label:        tx.Label,
		Host:         tx.Addr,
		Command:      tx.Command,
		Output:       output,
		Outcome:      string(tx.Outcome),
		BytesWritten: tx.BytesWritten,
		BytesRead:    tx.BytesRead,
		DurationMs:   tx.Elapsed.Milliseconds(),
		StartedAt:    tx.Started,
	}
	if tx.Err != nil {
		record.Error = tx.Err.Error()
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Error().Err(err).Str("component", "sshaudit").Msg("failed to write transaction audit log")
		return
	}
	log.Debug().
		Str("component", "sshaudit").
		Str("session", tx.SessionID).
		Str("label", tx.Label).
		Str("command", logutil.SanitizeForLog(tx.Command)).
		Str("outcome", record.Outcome).
		Msg("transaction audited")
}

// StateObserver returns a callback that records every state change of a
// session labelled label on host.
func (a *Auditor) StateObserver(label, host string) sshshell.StateChangeCallback {
	return func(sessionID string, from, to sshshell.ConnectionState, reason string) {
		a.LogConnectionEvent(database.ConnectionEvent{
			SessionID: sessionID,
			Label:     label,
			Host:      host,
			FromState: from.String(),
			ToState:   to.String(),
			Reason:    reason,
		})
	}
}

// LogConnectionEvent stores ev.
func (a *Auditor) LogConnectionEvent(ev database.ConnectionEvent) error {
	if err := a.db.Create(&ev).Error; err != nil {
		log.Error().Err(err).Str("component", "sshaudit").Msg("failed to write connection audit log")
		return err
	}
	log.Info().
		Str("component", "sshaudit").
		Str("session", ev.SessionID).
		Str("label", ev.Label).
		Str("host", ev.Host).
		Str("from", ev.FromState).
		Str("to", ev.ToState).
		Str("reason", logutil.SanitizeForLog(ev.Reason)).
		Msg("connection state changed")
	return nil
}

// QueryOptions specifies filters for retrieving audit logs. Outcome applies
// to transactions only.
type QueryOptions struct {
	SessionID string
	Label     string
	Outcome   string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult[T any] struct {
	Entries []T   `json:"entries"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
}

// Query retrieves transaction records matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult[database.TransactionLog], error) {
	tx := a.db.Model(&database.TransactionLog{})
	if opts.Outcome != "" {
		tx = tx.Where("outcome = ?", opts.Outcome)
	}
	return query[database.TransactionLog](a, tx, opts)
}

// QueryEvents retrieves connection events matching opts, newest first.
func (a *Auditor) QueryEvents(opts QueryOptions) (*QueryResult[database.ConnectionEvent], error) {
	return query[database.ConnectionEvent](a, a.db.Model(&database.ConnectionEvent{}), opts)
}

func query[T any](a *Auditor, tx *gorm.DB, opts QueryOptions) (*QueryResult[T], error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.Label != "" {
		tx = tx.Where("label = ?", opts.Label)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []T
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult[T]{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes transaction and connection records older than days,
// or than the configured retention period when days is 0. Returns the
// number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)

	var deleted int64
	for _, model := range []any{&database.TransactionLog{}, &database.ConnectionEvent{}} {
		result := a.db.Where("created_at < ?", cutoff).Delete(model)
		if result.Error != nil {
			log.Error().Err(result.Error).Str("component", "sshaudit").Msg("purge failed")
			return deleted, result.Error
		}
		deleted += result.RowsAffected
	}
	if deleted > 0 {
		log.Info().
			Str("component", "sshaudit").
			Int64("deleted", deleted).
			Int("days", days).
			Msg("purged audit log entries")
	}
	return deleted, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
