// Package otp implements an in-memory one-time passcode ledger with a fixed
// time-to-live and strict single-use semantics.
package otp

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Result classifies a verification attempt.
type Result int

const (
	// Verified means the code matched and has now been consumed.
	Verified Result = iota
	// Expired means the code matched no longer, or at all, because its
	// time-to-live elapsed; the record has been removed.
	Expired
	// Invalid means a code exists for the key but the submitted one does
	// not match. The record stays so the right code can still be used.
	Invalid
	// NotFound means no code was ever issued for the key.
	NotFound
)

func (r Result) String() string {
	switch r {
	case Verified:
		return "verified"
	case Expired:
		return "expired"
	case Invalid:
		return "invalid"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Record is a pending code with whatever context the caller attached.
type Record struct {
	Code     string
	IssuedAt time.Time
	Payload  any
}

// Ledger issues and verifies one code per key. Keys are case insensitive;
// issuing a new code for a key replaces any pending one.
type Ledger struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]Record
	now     func() time.Time
}

// NewLedger returns a ledger whose codes expire after ttl.
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{
		ttl:     ttl,
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Issue creates a fresh four-digit code for key. When a pending record is
// replaced it is returned so the caller can clean up its payload.
func (l *Ledger) Issue(key string, payload any) (string, *Record) {
	code := fmt.Sprintf("%04d", 1000+rand.Intn(9000))

	l.mu.Lock()
	defer l.mu.Unlock()

	k := strings.ToLower(key)
	var replaced *Record
	if old, ok := l.records[k]; ok {
		replaced = &old
	}
	l.records[k] = Record{Code: code, IssuedAt: l.now(), Payload: payload}
	return code, replaced
}

// Verify checks code against the pending record for key. On Verified the
// record is consumed and its payload returned; on Expired the record is
// removed but the payload is still returned so the caller can discard
// associated state. Invalid leaves the record in place.
func (l *Ledger) Verify(key, code string) (Result, any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := strings.ToLower(key)
	rec, ok := l.records[k]
	if !ok {
		return NotFound, nil
	}

	if l.now().Sub(rec.IssuedAt) > l.ttl {
		delete(l.records, k)
		return Expired, rec.Payload
	}

	if rec.Code != code {
		return Invalid, nil
	}

	delete(l.records, k)
	return Verified, rec.Payload
}

// Pending reports whether a code is outstanding for key, expired or not.
func (l *Ledger) Pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.records[strings.ToLower(key)]
	return ok
}
