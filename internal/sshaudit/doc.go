// Package sshaudit records shell activity to the database.
//
// [Auditor] implements sshshell.TransactionObserver: registered on a session
// (directly or through the pool) it stores one database.TransactionLog row
// per command with the cleaned output, outcome, byte counts and duration.
// [Auditor.StateObserver] returns a sshshell.StateChangeCallback storing a
// database.ConnectionEvent row per connection state change.
//
// Audit write failures are logged and swallowed; auditing never fails a
// command.
//
// # Retention and Purging
//
// Records are retained for [DefaultRetentionDays] (90 days) by default.
// [Auditor.PurgeOlderThan] removes older entries from both tables; the
// collector schedules it daily.
//
// # Querying
//
// [Auditor.Query] and [Auditor.QueryEvents] filter by session, label and
// time range and return pagination metadata.
//
// The package keeps one global Auditor: [InitGlobal] creates it during
// startup and [GetAuditor] returns it for the HTTP handlers.
package sshaudit
