package hpoints

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/store"
	"github.com/cs15tutor/engine/internal/store/memory"
)

func newFixture(t *testing.T, opts Options) (*Service, store.Store, *model.AnonymousUser) {
	t.Helper()
	st := memory.New()
	user, _, err := st.Users().GetOrCreate(context.Background(), identity.Hash("jdoe01"))
	require.NoError(t, err)
	return NewService(st, opts, zerolog.Nop()), st, user
}

func TestAdmitChargesOnePoint(t *testing.T) {
	svc, _, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180})

	allowed, remaining, err := svc.Admit(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 11, remaining)
}

func TestAdmitDeniedWhenEmpty(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180, Now: func() time.Time { return now }})
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 0, Max: 12, LastRegenAt: now})

	allowed, remaining, err := svc.Admit(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestRegenerationAccruesWholePoints(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180, Now: func() time.Time { return now }})

	// 360 elapsed seconds from empty earns exactly two points.
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 0, Max: 12, LastRegenAt: now.Add(-360 * time.Second)})

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Current)
	assert.True(t, status.CanQuery)
}

func TestRegenerationKeepsFractionalProgress(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180, Now: func() time.Time { return now }})

	// 270s earns one point; the leftover 90s still counts toward the next.
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 0, Max: 12, LastRegenAt: now.Add(-270 * time.Second)})

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, 90, status.SecondsUntilNextPoint)
}

func TestRegenerationCapsAtMax(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180, Now: func() time.Time { return now }})
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 10, Max: 12, LastRegenAt: now.Add(-24 * time.Hour)})

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 12, status.Current)
	assert.Equal(t, 0, status.SecondsUntilNextPoint)
}

func TestFullPoolBanksTimeTowardNextSpend(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180, Now: func() time.Time { return now }})

	// An hour idle at full leaves LastRegenAt untouched, so the point
	// spent next is regained immediately from that accrued time.
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 12, Max: 12, LastRegenAt: now.Add(-time.Hour)})

	allowed, remaining, err := svc.Admit(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 11, remaining)

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 12, status.Current)

	// Refilling stamps the timestamp, so the hour of credit is spent:
	// the next point after another admit takes a full period.
	allowed, remaining, err = svc.Admit(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 11, remaining)

	status, err = svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 11, status.Current)
	assert.Equal(t, 180, status.SecondsUntilNextPoint)
}

func TestLedgerBoundsUnderAnySequence(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 3, RegenSeconds: 180, Now: func() time.Time { return now }})
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 3, Max: 3, LastRegenAt: now})

	for i := 0; i < 10; i++ {
		_, remaining, err := svc.Admit(context.Background(), user)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, remaining, 0)
		assert.LessOrEqual(t, remaining, 3)
	}

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Current)
	assert.False(t, status.CanQuery)
}

func TestConcurrentAdmitsNeverOverspend(t *testing.T) {
	now := time.Now().UTC()
	svc, st, user := newFixture(t, Options{MaxPoints: 12, RegenSeconds: 180, Now: func() time.Time { return now }})
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 5, Max: 12, LastRegenAt: now})

	const n = 50
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := svc.Admit(context.Background(), user)
			assert.NoError(t, err)
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestDevelopmentBypass(t *testing.T) {
	st := memory.New()
	user, _, err := st.Users().GetOrCreate(context.Background(), identity.Hash("testuser"))
	require.NoError(t, err)

	svc := NewService(st, Options{
		MaxPoints:       12,
		RegenSeconds:    180,
		DevelopmentMode: true,
		DevUser:         "testuser",
	}, zerolog.Nop())

	// Bypass holds no matter how many queries land.
	for i := 0; i < 20; i++ {
		allowed, remaining, err := svc.Admit(context.Background(), user)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 12, remaining)
	}

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, status.CanQuery)
	assert.Equal(t, 12, status.Current)
	assert.Equal(t, 0, status.SecondsUntilNextPoint)
}

func TestDevelopmentBypassRequiresDevMode(t *testing.T) {
	now := time.Now().UTC()
	st := memory.New()
	user, _, err := st.Users().GetOrCreate(context.Background(), identity.Hash("testuser"))
	require.NoError(t, err)
	memory.Seed(st, model.HealthPoints{UserID: user.ID, Current: 0, Max: 12, LastRegenAt: now})

	svc := NewService(st, Options{
		MaxPoints:    12,
		RegenSeconds: 180,
		DevUser:      "testuser",
		Now:          func() time.Time { return now },
	}, zerolog.Nop())

	allowed, _, err := svc.Admit(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, allowed)
}
