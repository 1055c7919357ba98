package playback

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/couchcast/internal/models"
	"go.uber.org/goleak"
)

func TestSelectAndStart_StartsHighestScoredItem(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	low := env.addReadyItem(t, 3, true)
	high := env.addReadyItem(t, 8, true)

	env.orch.SelectAndStart(ctx)

	require.Equal(t, 1, env.engine.playCount())
	assert.Equal(t, *high.FilePath, env.engine.lastPlayed())
	assert.Equal(t, models.StatusPlaying, env.item(t, high.ID).Status)
	assert.Equal(t, models.StatusReady, env.item(t, low.ID).Status)

	state, err := env.repos.QueueState.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPlaying, state.Status)
	require.NotNil(t, state.CurrentItemID)
	assert.Equal(t, high.ID, *state.CurrentItemID)

	require.NotNil(t, env.orch.CurrentItemID())
	assert.Equal(t, high.ID, *env.orch.CurrentItemID())
	assert.True(t, env.notifier.has("queue"))
	env.requireSingleSession(t)
}

func TestSelectAndStart_NothingReady(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())

	env.orch.SelectAndStart(context.Background())

	assert.Equal(t, 0, env.engine.playCount())
	assert.Nil(t, env.orch.CurrentItemID())
	env.requireSingleSession(t)
}

func TestSelectAndStart_AlreadyPlaying(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	env.addReadyItem(t, 5, true)
	env.addReadyItem(t, 5, true)

	env.orch.SelectAndStart(ctx)
	env.orch.SelectAndStart(ctx)

	assert.Equal(t, 1, env.engine.playCount())
	env.requireSingleSession(t)
}

func TestSelectAndStart_ConcurrentCallsStartOneSession(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.addReadyItem(t, 5, true)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			env.orch.SelectAndStart(ctx)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, env.engine.playCount())
	env.requireSingleSession(t)
}

func TestSelectAndStart_MissingAssetMarksError(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	require.NoError(t, os.Remove(*item.FilePath))

	env.orch.SelectAndStart(ctx)

	assert.Equal(t, 0, env.engine.playCount())
	got := env.item(t, item.ID)
	assert.Equal(t, models.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "does not exist")
	assert.True(t, env.notifier.has("failed:"+item.ID.String()))
	env.requireSingleSession(t)
}

func TestSelectAndStart_EngineFailureRevertsItem(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.engine.setPlayErr(errEngineBroken)

	env.orch.SelectAndStart(ctx)

	assert.Equal(t, 1, env.engine.playCount())
	assert.Equal(t, models.StatusReady, env.item(t, item.ID).Status)
	assert.Nil(t, env.orch.CurrentItemID())
	assert.Empty(t, env.history(t, item.ID))
	env.requireSingleSession(t)
}

func TestSelectAndStart_BreakerStopsRetryingBrokenEngine(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	env := setupTestOrchestrator(t, cfg)
	ctx := context.Background()

	env.addReadyItem(t, 5, true)
	env.engine.setPlayErr(errEngineBroken)

	for i := 0; i < 5; i++ {
		env.orch.SelectAndStart(ctx)
	}

	assert.Equal(t, 2, env.engine.playCount())
	assert.Equal(t, breakerOpen, env.orch.breaker.current())
}

func TestComplete_PlayedWhenPlaylistRemovesItems(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	env.orch.Complete(ctx, Outcome{ItemID: item.ID, Success: true, Reason: ReasonEnded})

	got := env.item(t, item.ID)
	assert.Equal(t, models.StatusPlayed, got.Status)

	entries := env.history(t, item.ID)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, got.Playlist.UserID, entries[0].UserID)

	user, err := env.repos.Users.GetByID(ctx, got.Playlist.UserID)
	require.NoError(t, err)
	assert.NotNil(t, user.LastPlayedAt)

	assert.True(t, env.notifier.has("ended:"+item.ID.String()))
	assert.Nil(t, env.orch.CurrentItemID())
	env.requireSingleSession(t)
}

func TestComplete_KeptPlaylistReturnsItemToReady(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, false)
	env.orch.SelectAndStart(ctx)

	env.orch.Complete(ctx, Outcome{ItemID: item.ID, Success: true, Reason: ReasonEnded})

	entries := env.history(t, item.ID)
	require.Len(t, entries, 1)

	// The only ready item is played again right away
	assert.Equal(t, 2, env.engine.playCount())
	assert.Equal(t, models.StatusPlaying, env.item(t, item.ID).Status)
	env.requireSingleSession(t)
}

func TestComplete_ErrorOutcomeMarksError(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, false)
	env.orch.SelectAndStart(ctx)

	env.orch.Complete(ctx, Outcome{ItemID: item.ID, Success: false, Reason: ReasonError, Message: "decoder crashed"})

	got := env.item(t, item.ID)
	assert.Equal(t, models.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "decoder crashed", *got.ErrorMessage)

	entries := env.history(t, item.ID)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	require.NotNil(t, entries[0].ErrorMessage)
	assert.Equal(t, "decoder crashed", *entries[0].ErrorMessage)

	assert.Equal(t, 1, env.engine.playCount())
	env.requireSingleSession(t)
}

func TestComplete_DuplicateOutcomeRecordedOnce(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	out := Outcome{ItemID: item.ID, Success: true, Reason: ReasonEnded}
	env.orch.Complete(ctx, out)
	env.orch.Complete(ctx, out)

	assert.Len(t, env.history(t, item.ID), 1)
	assert.Equal(t, models.StatusPlayed, env.item(t, item.ID).Status)
}

func TestComplete_DuplicateAfterChainIsStale(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	first := env.addReadyItem(t, 9, true)
	second := env.addReadyItem(t, 1, true)
	env.orch.SelectAndStart(ctx)
	require.Equal(t, *first.FilePath, env.engine.lastPlayed())

	out := Outcome{ItemID: first.ID, Success: true, Reason: ReasonEnded}
	env.orch.Complete(ctx, out)
	require.Equal(t, *second.FilePath, env.engine.lastPlayed())

	// A late duplicate for the first item must not end the second
	env.orch.Complete(ctx, out)

	assert.Len(t, env.history(t, first.ID), 1)
	assert.Empty(t, env.history(t, second.ID))
	assert.Equal(t, models.StatusPlaying, env.item(t, second.ID).Status)
	env.requireSingleSession(t)
}

func TestComplete_ConcurrentOutcomesRecordedOnce(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	var wg sync.WaitGroup
	start := make(chan struct{})
	outcomes := []Outcome{
		{ItemID: item.ID, Success: true, Reason: ReasonEnded},
		{ItemID: item.ID, Success: false, Reason: ReasonError, Message: "boom"},
	}
	for _, out := range outcomes {
		wg.Add(1)
		go func(out Outcome) {
			defer wg.Done()
			<-start
			env.orch.Complete(ctx, out)
		}(out)
	}
	close(start)
	wg.Wait()

	assert.Len(t, env.history(t, item.ID), 1)
	status := env.item(t, item.ID).Status
	assert.Contains(t, []models.ItemStatus{models.StatusPlayed, models.StatusError}, status)
	env.requireSingleSession(t)
}

func TestComplete_OutcomeWhileIdleIgnored(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.Complete(ctx, Outcome{ItemID: item.ID, Success: true, Reason: ReasonEnded})

	assert.Equal(t, models.StatusReady, env.item(t, item.ID).Status)
	assert.Empty(t, env.history(t, item.ID))
	assert.Equal(t, 0, env.engine.playCount())
}

func TestComplete_StaleOutcomeIgnored(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	env.orch.Complete(ctx, Outcome{ItemID: uuid.New(), Success: true, Reason: ReasonEnded})

	assert.Equal(t, models.StatusPlaying, env.item(t, item.ID).Status)
	assert.Empty(t, env.history(t, item.ID))
}

func TestComplete_ChainsIntoNextItem(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	first := env.addReadyItem(t, 9, true)
	second := env.addReadyItem(t, 2, true)

	env.orch.SelectAndStart(ctx)
	env.orch.Complete(ctx, Outcome{ItemID: first.ID, Success: true, Reason: ReasonEnded})

	assert.Equal(t, 2, env.engine.playCount())
	assert.Equal(t, *second.FilePath, env.engine.lastPlayed())
	assert.Equal(t, models.StatusPlaying, env.item(t, second.ID).Status)
	env.requireSingleSession(t)
}

func TestComplete_StoreFailureSettlesBeforeNextStart(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	first := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)
	require.Equal(t, models.StatusPlaying, env.item(t, first.ID).Status)

	env.renameTable(t, "playback_history", "playback_history_offline")
	env.orch.Complete(ctx, Outcome{ItemID: first.ID, Success: true, Reason: ReasonEnded})

	// The write rolled back but the lock is free and the session is gone
	require.True(t, env.orch.guard.TryLock())
	env.orch.guard.Unlock()
	assert.Nil(t, env.orch.CurrentItemID())
	assert.Equal(t, models.StatusPlaying, env.item(t, first.ID).Status)

	second := env.addReadyItem(t, 5, true)

	// Nothing new starts while the failed write is outstanding
	env.orch.SelectAndStart(ctx)
	assert.Equal(t, 1, env.engine.playCount())

	env.renameTable(t, "playback_history_offline", "playback_history")
	env.orch.SelectAndStart(ctx)

	assert.Equal(t, models.StatusPlayed, env.item(t, first.ID).Status)
	require.Len(t, env.history(t, first.ID), 1)
	assert.Equal(t, models.StatusPlaying, env.item(t, second.ID).Status)
	assert.Equal(t, 2, env.engine.playCount())
	env.requireSingleSession(t)
}

func TestComplete_StoreFailureResetsWhenItemMovedOn(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	first := env.addReadyItem(t, 1, true)
	env.orch.SelectAndStart(ctx)

	env.renameTable(t, "playback_history", "playback_history_offline")
	env.orch.Complete(ctx, Outcome{ItemID: first.ID, Success: true, Reason: ReasonEnded})
	env.renameTable(t, "playback_history_offline", "playback_history")

	// Another writer moved the item out of Playing in the meantime
	moved, err := env.repos.Items.Transition(ctx, first.ID, models.StatusPlaying, models.StatusReady)
	require.NoError(t, err)
	require.True(t, moved)

	second := env.addReadyItem(t, 10, true)
	env.orch.SelectAndStart(ctx)

	assert.Empty(t, env.history(t, first.ID))
	assert.Equal(t, models.StatusReady, env.item(t, first.ID).Status)
	assert.Equal(t, models.StatusPlaying, env.item(t, second.ID).Status)
	env.requireSingleSession(t)
}

func TestSelectAndStart_FailedRevertIsRetried(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.engine.setPlayErr(errEngineBroken)
	env.engine.onPlay = func() { env.renameTable(t, "queue_state", "queue_state_offline") }

	env.orch.SelectAndStart(ctx)
	assert.Equal(t, models.StatusPlaying, env.item(t, item.ID).Status)
	assert.Nil(t, env.orch.CurrentItemID())

	env.engine.onPlay = nil
	env.engine.setPlayErr(nil)
	env.renameTable(t, "queue_state_offline", "queue_state")

	env.orch.SelectAndStart(ctx)

	assert.Equal(t, 2, env.engine.playCount())
	assert.Equal(t, models.StatusPlaying, env.item(t, item.ID).Status)
	require.NotNil(t, env.orch.CurrentItemID())
	assert.Equal(t, item.ID, *env.orch.CurrentItemID())
	env.requireSingleSession(t)
}

func TestRecover_DropsUnsettledWrite(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, false)
	env.orch.SelectAndStart(ctx)

	env.renameTable(t, "playback_history", "playback_history_offline")
	env.orch.Complete(ctx, Outcome{ItemID: item.ID, Success: true, Reason: ReasonEnded})
	env.renameTable(t, "playback_history_offline", "playback_history")
	require.NotNil(t, env.orch.pending)

	require.NoError(t, env.orch.Recover(ctx))
	assert.Nil(t, env.orch.pending)
	assert.Equal(t, models.StatusReady, env.item(t, item.ID).Status)
	assert.Empty(t, env.history(t, item.ID))
}

func TestRecover_ResetsItemLeftPlaying(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	require.NoError(t, env.repos.Playback.Begin(ctx, item.ID, time.Now()))

	require.NoError(t, env.orch.Recover(ctx))

	assert.Equal(t, models.StatusReady, env.item(t, item.ID).Status)
	state, err := env.repos.QueueState.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackIdle, state.Status)
	assert.Nil(t, state.CurrentItemID)

	env.orch.SelectAndStart(ctx)
	assert.Equal(t, *item.FilePath, env.engine.lastPlayed())
	env.requireSingleSession(t)
}

func TestSkip_NothingPlaying(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())

	err := env.orch.Skip(context.Background())
	assert.True(t, IsNothingPlaying(err))
}

func TestSkip_QueuesSkippedOutcome(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	require.NoError(t, env.orch.Skip(ctx))

	require.Len(t, env.orch.events, 1)
	out := <-env.orch.events
	assert.Equal(t, item.ID, out.ItemID)
	assert.Equal(t, ReasonSkipped, out.Reason)
	assert.True(t, out.Success)
}

func TestSkip_EngineFailureStillCompletes(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)
	env.engine.mu.Lock()
	env.engine.skipErr = errors.New("ipc closed")
	env.engine.mu.Unlock()

	require.NoError(t, env.orch.Skip(ctx))

	require.Len(t, env.orch.events, 1)
	env.orch.Complete(ctx, <-env.orch.events)
	assert.Equal(t, models.StatusPlayed, env.item(t, item.ID).Status)
}

func TestEnqueue_DropsWhenIdleOrFull(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 1
	env := setupTestOrchestrator(t, cfg)
	ctx := context.Background()

	env.engine.finish()
	assert.Empty(t, env.orch.events)

	env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	env.engine.finish()
	env.engine.fail("late")
	assert.Len(t, env.orch.events, 1)
	out := <-env.orch.events
	assert.Equal(t, ReasonEnded, out.Reason)
}

func TestStatus(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	ctx := context.Background()

	now, err := env.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackIdle, now.State.Status)
	assert.Nil(t, now.Item)

	item := env.addReadyItem(t, 5, true)
	env.orch.SelectAndStart(ctx)

	now, err = env.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPlaying, now.State.Status)
	require.NotNil(t, now.Item)
	assert.Equal(t, item.ID, now.Item.ID)
}

func TestFinalStatus(t *testing.T) {
	item := models.NewQueueItem(uuid.New(), "https://example.com/v", 5)
	assert.Equal(t, models.StatusPlayed, finalStatus(item, Outcome{Success: true}))
	assert.Equal(t, models.StatusError, finalStatus(item, Outcome{Success: false}))

	item.Playlist = models.NewPlaylist(uuid.New(), "keep", false)
	assert.Equal(t, models.StatusReady, finalStatus(item, Outcome{Success: true}))
	assert.Equal(t, models.StatusError, finalStatus(item, Outcome{Success: false}))
}

func TestRun_PlaysThroughQueue(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())

	first := env.addReadyItem(t, 9, true)
	second := env.addReadyItem(t, 1, true)

	// Crash leftover that Run must recover before choosing
	require.NoError(t, env.repos.Playback.Begin(context.Background(), second.ID, time.Now()))

	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionCleaner"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return env.engine.lastPlayed() == *first.FilePath
	}, 2*time.Second, 10*time.Millisecond)

	env.engine.finish()
	require.Eventually(t, func() bool {
		return env.engine.lastPlayed() == *second.FilePath
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.orch.Skip(ctx))
	require.Eventually(t, func() bool {
		return len(env.history(t, second.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	assert.Equal(t, models.StatusPlayed, env.item(t, first.ID).Status)
	assert.Equal(t, models.StatusPlayed, env.item(t, second.ID).Status)
	env.engine.mu.Lock()
	assert.Equal(t, 1, env.engine.stops)
	env.engine.mu.Unlock()
	env.requireSingleSession(t)
}

func TestRun_DetectsStalledEngine(t *testing.T) {
	cfg := testConfig()
	cfg.StallTicks = 2
	env := setupTestOrchestrator(t, cfg)

	item := env.addReadyItem(t, 5, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return env.engine.playCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.engine.vanish()

	require.Eventually(t, func() bool {
		return env.item(t, item.ID).Status == models.StatusError
	}, 2*time.Second, 10*time.Millisecond)

	entries := env.history(t, item.ID)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)

	cancel()
	<-done
}

// panickingPicker panics on its first call, then delegates
type panickingPicker struct {
	once  sync.Once
	inner Picker
}

func (p *panickingPicker) Next(ctx context.Context) (*models.QueueItem, error) {
	p.once.Do(func() { panic("scoring exploded") })
	return p.inner.Next(ctx)
}

func TestRun_RestartsAfterPanic(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())
	item := env.addReadyItem(t, 5, true)

	env.orch.picker = &panickingPicker{inner: env.orch.picker}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return env.engine.lastPlayed() == *item.FilePath
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_RecoverFailureStops(t *testing.T) {
	env := setupTestOrchestrator(t, testConfig())

	sqlDB, err := env.database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = env.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, env.engine.playCount())
}
