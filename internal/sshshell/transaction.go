package sshshell

import (
	"sync"
	"time"
)

// Outcome tags how a transaction ended.
type Outcome string

const (
	OutcomeComplete   Outcome = "complete"
	OutcomeIncomplete Outcome = "incomplete"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeErrored    Outcome = "errored"
)

// Transaction is one command submission and the response captured for it.
// Raw is the response exactly as read from the shell; Output has the echo
// and trailing prompt removed.
type Transaction struct {
	SessionID    string        `json:"session_id"`
	Label        string        `json:"label,omitempty"`
	Addr         string        `json:"addr"`
	Command      string        `json:"command"`
	Wire         string        `json:"wire"`
	Raw          string        `json:"-"`
	Output       string        `json:"output"`
	Started      time.Time     `json:"started"`
	Elapsed      time.Duration `json:"elapsed"`
	Outcome      Outcome       `json:"outcome"`
	BytesWritten int           `json:"bytes_written"`
	BytesRead    int           `json:"bytes_read"`
	Err          error         `json:"-"`
}

// TransactionObserver is notified after every transaction, successful or
// not. It runs on the caller's goroutine before IssueCommand returns.
type TransactionObserver interface {
	ObserveTransaction(tx Transaction)
}

// TransactionObserverFunc adapts a function to TransactionObserver.
type TransactionObserverFunc func(tx Transaction)

func (f TransactionObserverFunc) ObserveTransaction(tx Transaction) { f(tx) }

// transactionBufferSize is the number of recent transactions kept per
// session.
const transactionBufferSize = 100

// transactionLog is a fixed-size ring buffer of recent transactions.
type transactionLog struct {
	mu    sync.RWMutex
	txs   [transactionBufferSize]Transaction
	head  int
	count int
}

func (l *transactionLog) record(tx Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[l.head] = tx
	l.head = (l.head + 1) % transactionBufferSize
	if l.count < transactionBufferSize {
		l.count++
	}
}

// history returns transactions oldest first.
func (l *transactionLog) history() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.count == 0 {
		return nil
	}

	result := make([]Transaction, l.count)
	if l.count < transactionBufferSize {
		copy(result, l.txs[:l.count])
	} else {
		n := copy(result, l.txs[l.head:])
		copy(result[n:], l.txs[:l.head])
	}
	return result
}
