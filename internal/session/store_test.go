package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rama-kairi/termcore/internal/config"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupStore(t *testing.T, opts Options) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts.Clock = clock.Now
	return NewStore(opts), clock
}

func TestCreateSessionDefaults(t *testing.T) {
	store, clock := setupStore(t, Options{WorkingDir: "/tmp"})

	id := store.CreateSession("")
	sess, ok := store.GetSession(id)
	require.True(t, ok)

	assert.Equal(t, id, sess.ID)
	assert.Equal(t, "Terminal 1", sess.Name)
	assert.Equal(t, "Terminal 1", sess.Title)
	assert.Equal(t, clock.Now(), sess.CreatedAt)
	assert.Equal(t, "/tmp", sess.CurrentDirectory)
	assert.False(t, sess.IsActive)
	assert.Empty(t, sess.CommandHistory)
	assert.Empty(t, sess.OutputBuffer)

	other := store.CreateSession("build")
	sess, _ = store.GetSession(other)
	assert.Equal(t, "Terminal 2", sess.Name)
	assert.Equal(t, "build", sess.Title)
	assert.NotEqual(t, id, other)
}

func TestCapacityEvictsOldestByCreation(t *testing.T) {
	store, clock := setupStore(t, Options{MaxSessions: 3})

	var removed []string
	store.OnRemove(func(id string, reason RemoveReason) {
		assert.Equal(t, ReasonEvicted, reason)
		removed = append(removed, id)
	})

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, store.CreateSession(""))
		clock.Advance(time.Second)
	}

	// Activity on the oldest does not protect it from capacity eviction
	store.AddOutput(ids[0], "still here")
	store.SetActiveSession(ids[0])

	for i := 0; i < 5; i++ {
		store.CreateSession("")
		clock.Advance(time.Second)
		assert.LessOrEqual(t, store.Count(), 3)
	}

	require.Len(t, removed, 5)
	assert.Equal(t, ids, removed[:3])
	assert.Equal(t, 3, store.Count())

	_, ok := store.ActiveSessionID()
	assert.False(t, ok, "evicting the active session clears focus")

	stats := store.Stats()
	assert.Equal(t, uint64(8), stats.Created)
	assert.Equal(t, uint64(5), stats.Evicted)
}

func TestEvictionTieBreaksOnCreationOrder(t *testing.T) {
	store, _ := setupStore(t, Options{MaxSessions: 2})

	first := store.CreateSession("")
	second := store.CreateSession("")
	store.CreateSession("")

	assert.False(t, store.Exists(first))
	assert.True(t, store.Exists(second))
}

func TestOutputBound(t *testing.T) {
	store, _ := setupStore(t, Options{MaxOutputLines: 5})
	id := store.CreateSession("")

	var added []string
	for i := 0; i < 23; i++ {
		line := fmt.Sprintf("line %d", i)
		added = append(added, line)
		store.AddOutput(id, line)

		sess, _ := store.GetSession(id)
		require.LessOrEqual(t, len(sess.OutputBuffer), 5)

		want := added
		if len(want) > 5 {
			want = want[len(want)-5:]
		}
		assert.Equal(t, want, sess.OutputBuffer)
	}
}

func TestAddOutputSplitsLines(t *testing.T) {
	store, _ := setupStore(t, Options{MaxOutputLines: 3})
	id := store.CreateSession("")

	store.AddOutput(id, "a\r\nb\n")
	out, ok := store.Output(id, 0)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, out)

	store.AddOutput(id, "c\nd\ne")
	out, _ = store.Output(id, 0)
	assert.Equal(t, []string{"c", "d", "e"}, out)

	store.AddOutput(id, "")
	out, _ = store.Output(id, 2)
	assert.Equal(t, []string{"e", ""}, out)
}

func TestHistoryBound(t *testing.T) {
	store, _ := setupStore(t, Options{MaxHistoryEntries: 4})
	id := store.CreateSession("")

	for i := 0; i < 10; i++ {
		store.AddToHistory(id, fmt.Sprintf("cmd %d", i))
		hist, _ := store.History(id, 0)
		require.LessOrEqual(t, len(hist), 4)
	}

	hist, _ := store.History(id, 0)
	assert.Equal(t, []string{"cmd 6", "cmd 7", "cmd 8", "cmd 9"}, hist)

	hist, _ = store.History(id, 2)
	assert.Equal(t, []string{"cmd 8", "cmd 9"}, hist)
}

func TestSetActiveSession(t *testing.T) {
	store, _ := setupStore(t, Options{})
	x := store.CreateSession("x")
	y := store.CreateSession("y")
	z := store.CreateSession("z")

	store.SetActiveSession(x)
	store.SetActiveSession(y)

	active := 0
	for _, sess := range store.ListSessions() {
		if sess.IsActive {
			active++
			assert.Equal(t, y, sess.ID)
		}
	}
	assert.Equal(t, 1, active)

	store.SetActiveSession("missing")
	id, ok := store.ActiveSessionID()
	assert.True(t, ok)
	assert.Equal(t, y, id)

	store.RemoveSession(y)
	_, ok = store.ActiveSessionID()
	assert.False(t, ok, "removing the active session leaves none active")

	sess, _ := store.GetSession(z)
	assert.False(t, sess.IsActive)
}

func TestCleanupRemovesExactlyIdleSubset(t *testing.T) {
	store, clock := setupStore(t, Options{IdleTimeout: 2 * time.Hour})

	stale1 := store.CreateSession("")
	stale2 := store.CreateSession("")
	clock.Advance(90 * time.Minute)
	fresh := store.CreateSession("")
	busy := store.CreateSession("")

	clock.Advance(45 * time.Minute)
	store.AddToHistory(busy, "ls")
	// An old session with recent activity survives
	store.AddOutput(stale2, "ping")

	var reasons []RemoveReason
	store.OnRemove(func(_ string, reason RemoveReason) {
		reasons = append(reasons, reason)
	})

	removed := store.CleanupSessions()
	assert.Equal(t, 1, removed)
	assert.False(t, store.Exists(stale1))
	assert.True(t, store.Exists(stale2))
	assert.True(t, store.Exists(fresh))
	assert.True(t, store.Exists(busy))
	assert.Equal(t, []RemoveReason{ReasonIdle}, reasons)

	assert.Equal(t, 0, store.CleanupSessions(), "cleanup is idempotent")

	clock.Advance(2*time.Hour + time.Second)
	assert.Equal(t, 3, store.CleanupSessions())
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, uint64(4), store.Stats().Expired)
}

func TestCleanupIgnoresMaxSessions(t *testing.T) {
	store, clock := setupStore(t, Options{MaxSessions: 2, IdleTimeout: time.Minute})
	store.CreateSession("")
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.CleanupSessions())
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	store, _ := setupStore(t, Options{})
	title := "x"

	assert.NotPanics(t, func() {
		store.RemoveSession("nope")
		store.SetActiveSession("nope")
		store.UpdateSession("nope", Update{Title: &title})
		store.AddOutput("nope", "x")
		store.AddToHistory("nope", "x")
		store.ClearOutput("nope")
	})

	_, ok := store.GetSession("nope")
	assert.False(t, ok)
	_, ok = store.Output("nope", 1)
	assert.False(t, ok)
	_, ok = store.Directory("nope")
	assert.False(t, ok)
}

func TestUpdateSession(t *testing.T) {
	store, clock := setupStore(t, Options{})
	id := store.CreateSession("old")

	clock.Advance(time.Minute)
	dir := "/var/log"
	store.UpdateSession(id, Update{CurrentDirectory: &dir})

	sess, _ := store.GetSession(id)
	assert.Equal(t, "old", sess.Title)
	assert.Equal(t, "/var/log", sess.CurrentDirectory)
	assert.Equal(t, clock.Now(), sess.LastActivityAt)
	assert.True(t, sess.LastActivityAt.After(sess.CreatedAt))

	title := "new"
	store.UpdateSession(id, Update{Title: &title})
	sess, _ = store.GetSession(id)
	assert.Equal(t, "new", sess.Title)
	assert.Equal(t, "/var/log", sess.CurrentDirectory)
}

func TestGetSessionReturnsCopy(t *testing.T) {
	store, _ := setupStore(t, Options{})
	id := store.CreateSession("")
	store.AddOutput(id, "original")

	sess, _ := store.GetSession(id)
	sess.OutputBuffer[0] = "mutated"
	sess.Title = "mutated"

	again, _ := store.GetSession(id)
	assert.Equal(t, []string{"original"}, again.OutputBuffer)
	assert.NotEqual(t, "mutated", again.Title)
}

func TestClearOutput(t *testing.T) {
	store, _ := setupStore(t, Options{})
	id := store.CreateSession("")
	store.AddOutput(id, "a\nb")
	store.ClearOutput(id)

	out, _ := store.Output(id, 0)
	assert.Empty(t, out)
}

func TestRemoveHookCanReenterStore(t *testing.T) {
	store, _ := setupStore(t, Options{MaxSessions: 1})
	store.OnRemove(func(id string, _ RemoveReason) {
		assert.False(t, store.Exists(id))
		_ = store.Count()
	})

	store.CreateSession("")
	store.CreateSession("")
	assert.Equal(t, 1, store.Count())
}

func TestListSessionsOrder(t *testing.T) {
	store, _ := setupStore(t, Options{})
	a := store.CreateSession("a")
	b := store.CreateSession("b")
	c := store.CreateSession("c")

	var got []string
	for _, s := range store.ListSessions() {
		got = append(got, s.ID)
	}
	assert.Equal(t, []string{a, b, c}, got)
}

func TestStats(t *testing.T) {
	store, _ := setupStore(t, Options{})
	a := store.CreateSession("")
	b := store.CreateSession("")
	store.AddOutput(a, "1\n2\n3")
	store.AddToHistory(b, "ls")
	store.SetActiveSession(b)

	stats := store.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 3, stats.OutputLines)
	assert.Equal(t, 1, stats.HistoryEntries)
	assert.Equal(t, b, stats.ActiveSession)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Session
	opts := OptionsFromConfig(cfg)

	assert.Equal(t, 10, opts.MaxSessions)
	assert.Equal(t, 5000, opts.MaxOutputLines)
	assert.Equal(t, 1000, opts.MaxHistoryEntries)
	assert.Equal(t, 2*time.Hour, opts.IdleTimeout)

	store := NewStore(Options{})
	assert.Equal(t, DefaultOptions().MaxSessions, store.Options().MaxSessions)
}

func TestConcurrentAccess(t *testing.T) {
	store := NewStore(Options{MaxSessions: 4, MaxOutputLines: 50})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := store.CreateSession("")
				store.AddOutput(id, fmt.Sprintf("%d-%d", w, i))
				store.AddToHistory(id, "echo")
				store.SetActiveSession(id)
				store.ListSessions()
				store.CleanupSessions()
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Count(), 4)
	active := 0
	for _, s := range store.ListSessions() {
		if s.IsActive {
			active++
		}
	}
	assert.LessOrEqual(t, active, 1)
}

func TestJanitor(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(Options{
		IdleTimeout:     time.Minute,
		CleanupInterval: 10 * time.Millisecond,
		Clock:           clock.Now,
	})

	id := store.CreateSession("")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartJanitor(ctx)
	store.StartJanitor(ctx)

	assert.Eventually(t, func() bool {
		return !store.Exists(id)
	}, time.Second, 5*time.Millisecond)

	store.StopJanitor()
	store.StopJanitor()
}

func TestJanitorRestartsAfterCancel(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(Options{
		IdleTimeout:     time.Minute,
		CleanupInterval: 5 * time.Millisecond,
		Clock:           clock.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	store.StartJanitor(ctx)
	cancel()

	// wait for the first loop to exit
	store.janitorMu.Lock()
	done := store.janitorDone
	store.janitorMu.Unlock()
	<-done

	store.StartJanitor(context.Background())
	defer store.StopJanitor()

	id := store.CreateSession("")
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return !store.Exists(id) }, time.Second, 5*time.Millisecond)
}

func TestJanitorSurvivesPanickingHook(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(Options{
		IdleTimeout:     time.Minute,
		CleanupInterval: 5 * time.Millisecond,
		Clock:           clock.Now,
	})

	var mu sync.Mutex
	calls := 0
	store.OnRemove(func(string, RemoveReason) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("hook failure")
	})

	store.CreateSession("")
	clock.Advance(2 * time.Minute)
	store.StartJanitor(context.Background())
	defer store.StopJanitor()

	assert.Eventually(t, func() bool { return store.Count() == 0 }, time.Second, 5*time.Millisecond)

	second := store.CreateSession("")
	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return !store.Exists(second) }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}
