package database

import "time"

// TransactionLog is one command issued on a shell session.
type TransactionLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"index;size:36;not null" json:"session_id"`
	Label        string    `gorm:"index" json:"label"`
	Host         string    `json:"host"`
	Command      string    `gorm:"not null" json:"command"`
	Output       string    `gorm:"type:text" json:"output"`
	Outcome      string    `gorm:"index;not null" json:"outcome"`
	Error        string    `json:"error,omitempty"`
	BytesWritten int       `json:"bytes_written"`
	BytesRead    int       `json:"bytes_read"`
	DurationMs   int64     `json:"duration_ms"`
	StartedAt    time.Time `json:"started_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// ConnectionEvent is one connection state change of a shell session.
type ConnectionEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"index;size:36;not null" json:"session_id"`
	Label     string    `gorm:"index" json:"label"`
	Host      string    `json:"host"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
