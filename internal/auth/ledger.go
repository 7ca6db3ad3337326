package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worldland/miner-fleet/internal/clock"
	"github.com/worldland/miner-fleet/internal/domain"
)

// ttlLayouts are the expiry formats accepted from the control API.
// The API emits HTTP-dates ("Mon, 02 Jan 2006 15:04:05 GMT").
var ttlLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339,
}

// Authenticator is the part of the control API the ledger needs
type Authenticator interface {
	Login(ctx context.Context, address string) (domain.LoginResult, error)
	Logout(ctx context.Context, address string) error
}

// Ledger owns the session token of every miner.
//
// The records map is guarded by mu and never held across network calls.
// Login and logout for one address are serialized by a per-address lock so
// concurrent callers that find the same expired token log in only once.
type Ledger struct {
	client Authenticator
	clock  clock.Clock
	loc    *time.Location

	mu      sync.Mutex
	records map[string]domain.TokenRecord
	locks   map[string]*addressLock
}

type addressLock struct {
	mu   sync.Mutex
	refs int // holders and waiters, guarded by Ledger.mu
}

// NewLedger creates a ledger. Expiry instants are converted into loc.
func NewLedger(client Authenticator, clk clock.Clock, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		client:  client,
		clock:   clk,
		loc:     loc,
		records: make(map[string]domain.TokenRecord),
		locks:   make(map[string]*addressLock),
	}
}

// Login opens a session and stores its token, replacing any prior record.
// On failure the prior record is left untouched.
func (l *Ledger) Login(ctx context.Context, address string) (domain.TokenRecord, error) {
	unlock := l.lockAddress(address)
	defer unlock()

	return l.login(ctx, address)
}

// login must be called with the address lock held
func (l *Ledger) login(ctx context.Context, address string) (domain.TokenRecord, error) {
	res, err := l.client.Login(ctx, address)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("login %s: %w: %w", address, domain.ErrAuth, err)
	}
	if res.Token == "" || res.TTL == "" {
		return domain.TokenRecord{}, fmt.Errorf("login %s: %w: response missing token or ttl", address, domain.ErrAuth)
	}

	expiresAt, err := ParseTTL(res.TTL, l.loc)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("login %s: %w: %w", address, domain.ErrAuth, err)
	}

	rec := domain.TokenRecord{Token: res.Token, ExpiresAt: expiresAt}
	l.mu.Lock()
	l.records[address] = rec
	l.mu.Unlock()
	return rec, nil
}

// Logout closes the session. The record is removed only if the API accepts.
func (l *Ledger) Logout(ctx context.Context, address string) error {
	unlock := l.lockAddress(address)
	defer unlock()

	if err := l.client.Logout(ctx, address); err != nil {
		return fmt.Errorf("logout %s: %w: %w", address, domain.ErrAuth, err)
	}

	l.mu.Lock()
	delete(l.records, address)
	l.mu.Unlock()
	return nil
}

// EnsureFresh returns a token that is valid now, logging in first when the
// miner has no record or its record has expired. Every authenticated call
// must obtain its token here.
func (l *Ledger) EnsureFresh(ctx context.Context, address string) (domain.TokenRecord, error) {
	unlock := l.lockAddress(address)
	defer unlock()

	if rec, ok := l.Record(address); ok && !rec.Expired(l.clock.Now()) {
		return rec, nil
	}
	return l.login(ctx, address)
}

// Record returns the stored token for address
func (l *Ledger) Record(address string) (domain.TokenRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[address]
	return rec, ok
}

// Forget drops the stored token without contacting the miner
func (l *Ledger) Forget(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, address)
}

// Len returns the number of stored tokens
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// lockAddress serializes login and logout for address. Lock entries live
// only while some caller holds or waits for them.
func (l *Ledger) lockAddress(address string) func() {
	l.mu.Lock()
	lock, ok := l.locks[address]
	if !ok {
		lock = &addressLock{}
		l.locks[address] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, address)
		}
		l.mu.Unlock()
	}
}

// ParseTTL parses a token expiry returned by the control API into loc
func ParseTTL(ttl string, loc *time.Location) (time.Time, error) {
	for _, layout := range ttlLayouts {
		if t, err := time.Parse(layout, ttl); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised ttl %q", ttl)
}
