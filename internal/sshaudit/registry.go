package sshaudit

import (
	"sync/atomic"

	"gorm.io/gorm"
)

// global is the process-wide Auditor used by the HTTP handlers.
var global atomic.Pointer[Auditor]

// InitGlobal creates the process-wide Auditor on db and returns it. serve
// calls it once after the database is opened.
func InitGlobal(db *gorm.DB, retentionDays int) *Auditor {
	a := NewAuditor(db, retentionDays)
	global.Store(a)
	return a
}

// GetAuditor returns the process-wide Auditor, nil until InitGlobal.
func GetAuditor() *Auditor { return global.Load() }

// SetGlobalForTest installs a as the process-wide Auditor.
func SetGlobalForTest(a *Auditor) { global.Store(a) }

// ResetGlobalForTest removes the process-wide Auditor.
func ResetGlobalForTest() { global.Store(nil) }
