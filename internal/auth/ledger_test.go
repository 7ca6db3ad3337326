package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/miner-fleet/internal/clock"
	"github.com/worldland/miner-fleet/internal/domain"
)

// MockAuthenticator implements Authenticator for testing
type MockAuthenticator struct {
	loginFunc  func(ctx context.Context, address string) (domain.LoginResult, error)
	logoutFunc func(ctx context.Context, address string) error

	loginCalls  atomic.Int32
	logoutCalls atomic.Int32
}

func (m *MockAuthenticator) Login(ctx context.Context, address string) (domain.LoginResult, error) {
	m.loginCalls.Add(1)
	if m.loginFunc != nil {
		return m.loginFunc(ctx, address)
	}
	return domain.LoginResult{Token: "tok-" + address, TTL: "Sun, 01 Mar 2026 12:00:00 GMT"}, nil
}

func (m *MockAuthenticator) Logout(ctx context.Context, address string) error {
	m.logoutCalls.Add(1)
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, address)
	}
	return nil
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestLedger(m *MockAuthenticator) (*Ledger, *clock.FakeClock) {
	c := clock.Fake(testNow)
	return NewLedger(m, c, time.UTC), c
}

func TestLogin_StoresRecord(t *testing.T) {
	ledger, _ := newTestLedger(&MockAuthenticator{})

	rec, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, "tok-10.0.0.5", rec.Token)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), rec.ExpiresAt.UTC())

	stored, ok := ledger.Record("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, rec, stored)
}

func TestLogin_FailureKeepsPriorRecord(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, _ := newTestLedger(m)
	prior, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	m.loginFunc = func(ctx context.Context, address string) (domain.LoginResult, error) {
		return domain.LoginResult{}, errors.New("connection refused")
	}
	_, err = ledger.Login(context.Background(), "10.0.0.5")

	assert.ErrorIs(t, err, domain.ErrAuth)
	stored, ok := ledger.Record("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, prior, stored)
}

func TestLogin_IncompleteResponseIsAuthError(t *testing.T) {
	cases := map[string]domain.LoginResult{
		"missing token": {TTL: "Sun, 01 Mar 2026 12:00:00 GMT"},
		"missing ttl":   {Token: "abc"},
		"bad ttl":       {Token: "abc", TTL: "tomorrow"},
	}
	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			res := res
			ledger, _ := newTestLedger(&MockAuthenticator{
				loginFunc: func(ctx context.Context, address string) (domain.LoginResult, error) {
					return res, nil
				},
			})

			_, err := ledger.Login(context.Background(), "10.0.0.5")
			assert.ErrorIs(t, err, domain.ErrAuth)
			_, ok := ledger.Record("10.0.0.5")
			assert.False(t, ok)
		})
	}
}

func TestLogout_RemovesRecordOnSuccess(t *testing.T) {
	ledger, _ := newTestLedger(&MockAuthenticator{})
	_, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	require.NoError(t, ledger.Logout(context.Background(), "10.0.0.5"))

	_, ok := ledger.Record("10.0.0.5")
	assert.False(t, ok)
}

func TestLogout_FailureKeepsRecord(t *testing.T) {
	m := &MockAuthenticator{
		logoutFunc: func(ctx context.Context, address string) error {
			return errors.New("503 service unavailable")
		},
	}
	ledger, _ := newTestLedger(m)
	_, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	err = ledger.Logout(context.Background(), "10.0.0.5")

	assert.ErrorIs(t, err, domain.ErrAuth)
	_, ok := ledger.Record("10.0.0.5")
	assert.True(t, ok)
}

func TestEnsureFresh_ReusesValidToken(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, _ := newTestLedger(m)
	first, err := ledger.EnsureFresh(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	second, err := ledger.EnsureFresh(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, m.loginCalls.Load())
}

func TestEnsureFresh_LogsInWithoutRecord(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, _ := newTestLedger(m)

	rec, err := ledger.EnsureFresh(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, "tok-10.0.0.5", rec.Token)
	assert.EqualValues(t, 1, m.loginCalls.Load())
}

func TestEnsureFresh_ExpiryBoundaryTriggersLogin(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, c := newTestLedger(m)
	_, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	// Exactly at expiresAt the token counts as expired
	c.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m.loginFunc = func(ctx context.Context, address string) (domain.LoginResult, error) {
		return domain.LoginResult{Token: "renewed", TTL: "Sun, 01 Mar 2026 14:00:00 GMT"}, nil
	}

	rec, err := ledger.EnsureFresh(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, "renewed", rec.Token)
	assert.EqualValues(t, 2, m.loginCalls.Load())
}

func TestEnsureFresh_JustBeforeExpiryReuses(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, c := newTestLedger(m)
	_, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	c.Set(time.Date(2026, 3, 1, 11, 59, 59, 0, time.UTC))
	rec, err := ledger.EnsureFresh(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, "tok-10.0.0.5", rec.Token)
	assert.EqualValues(t, 1, m.loginCalls.Load())
}

func TestEnsureFresh_RefreshFailurePropagates(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, c := newTestLedger(m)
	_, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	c.Advance(3 * time.Hour)
	m.loginFunc = func(ctx context.Context, address string) (domain.LoginResult, error) {
		return domain.LoginResult{}, errors.New("timeout")
	}

	_, err = ledger.EnsureFresh(context.Background(), "10.0.0.5")
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestEnsureFresh_ConcurrentCallersLoginOnce(t *testing.T) {
	m := &MockAuthenticator{}
	ledger, _ := newTestLedger(m)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.EnsureFresh(context.Background(), "10.0.0.5")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, m.loginCalls.Load())
}

func TestAddressLocks_ReleasedAfterUse(t *testing.T) {
	release := make(chan struct{})
	mock := &MockAuthenticator{
		loginFunc: func(ctx context.Context, address string) (domain.LoginResult, error) {
			<-release
			return domain.LoginResult{Token: "tok", TTL: "Sun, 01 Mar 2026 12:00:00 GMT"}, nil
		},
	}
	ledger, _ := newTestLedger(mock)

	var wg sync.WaitGroup
	for _, address := range []string{"10.0.0.5", "10.0.0.5", "10.0.0.6"} {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			_, _ = ledger.EnsureFresh(context.Background(), address)
		}(address)
	}

	require.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.locks) == 2 && ledger.locks["10.0.0.5"].refs == 2
	}, 2*time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	require.NoError(t, ledger.Logout(context.Background(), "10.0.0.5"))

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Empty(t, ledger.locks)
}

func TestForget_DropsRecord(t *testing.T) {
	ledger, _ := newTestLedger(&MockAuthenticator{})
	_, err := ledger.Login(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	ledger.Forget("10.0.0.5")

	assert.Equal(t, 0, ledger.Len())
}

func TestParseTTL_Formats(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"Sun, 01 Mar 2026 12:00:00 GMT",
		"Sun, 01 Mar 2026 13:00:00 +0100",
		"2026-03-01T12:00:00Z",
	} {
		got, err := ParseTTL(in, time.UTC)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}

	_, err := ParseTTL("3600", time.UTC)
	assert.Error(t, err)
}

func TestParseTTL_ConvertsToLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)

	got, err := ParseTTL("Sun, 01 Mar 2026 12:00:00 GMT", loc)
	require.NoError(t, err)

	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 14, got.Hour())
}
