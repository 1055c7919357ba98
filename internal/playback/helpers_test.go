package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/models"
	"github.com/stwalsh4118/couchcast/internal/scheduler"
)

// fakeEngine records calls and lets tests fire engine signals
type fakeEngine struct {
	mu        sync.Mutex
	listeners []Listener
	playing   bool
	played    []string
	playErr   error
	skipErr   error
	stops     int
	onPlay    func()
}

func (e *fakeEngine) Initialize(context.Context) error { return nil }

func (e *fakeEngine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *fakeEngine) Play(_ context.Context, path string) error {
	e.mu.Lock()
	hook := e.onPlay
	e.mu.Unlock()
	if hook != nil {
		hook()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.played = append(e.played, path)
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	e.playing = false
	return nil
}

func (e *fakeEngine) Skip() error {
	e.mu.Lock()
	if e.skipErr != nil {
		e.mu.Unlock()
		return e.skipErr
	}
	e.playing = false
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, l := range listeners {
		l.OnSkipped()
	}
	return nil
}

func (e *fakeEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// finish simulates the player reaching the end of the asset
func (e *fakeEngine) finish() {
	e.mu.Lock()
	e.playing = false
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, l := range listeners {
		l.OnEnded()
	}
}

// fail simulates the player crashing
func (e *fakeEngine) fail(msg string) {
	e.mu.Lock()
	e.playing = false
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, l := range listeners {
		l.OnError(msg)
	}
}

// vanish simulates the player dying without any signal
func (e *fakeEngine) vanish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

func (e *fakeEngine) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.played)
}

func (e *fakeEngine) lastPlayed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.played) == 0 {
		return ""
	}
	return e.played[len(e.played)-1]
}

func (e *fakeEngine) setPlayErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playErr = err
}

// recordingNotifier captures notifications as strings
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(format string, args ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf(format, args...))
}

func (n *recordingNotifier) PlaybackStarted(id uuid.UUID, title, user string) {
	n.add("started:%s:%s", id, user)
}
func (n *recordingNotifier) PlaybackEnded(id uuid.UUID) { n.add("ended:%s", id) }
func (n *recordingNotifier) PlaybackFailed(id uuid.UUID, msg string) { n.add("failed:%s", id) }
func (n *recordingNotifier) QueueChanged() { n.add("queue") }
func (n *recordingNotifier) DownloadStarted(id uuid.UUID) { n.add("download_started:%s", id) }
func (n *recordingNotifier) DownloadCompleted(id uuid.UUID) { n.add("download_completed:%s", id) }
func (n *recordingNotifier) DownloadFailed(id uuid.UUID, msg string) { n.add("download_failed:%s", id) }

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	database *db.DB
	repos    *db.Repositories
	engine   *fakeEngine
	notifier *recordingNotifier
	orch     *Orchestrator
	dir      string
}

func testConfig() Config {
	return Config{
		PollInterval:     20 * time.Millisecond,
		ReleaseDelay:     0,
		StallTicks:       0,
		BreakerThreshold: 3,
		BreakerReset:     time.Minute,
		PanicBackoff:     10 * time.Millisecond,
		EventBuffer:      16,
	}
}

// setupTestOrchestrator creates an orchestrator over a migrated temp database
func setupTestOrchestrator(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(sqlDB, "file://../../migrations"))

	repos := db.NewRepositories(database)
	engine := &fakeEngine{}
	notifier := &recordingNotifier{}
	sched := scheduler.New(repos.Items, scheduler.DefaultWeights())

	return &testEnv{
		database: database,
		repos:    repos,
		engine:   engine,
		notifier: notifier,
		orch:     NewOrchestrator(repos, sched, engine, notifier, cfg),
		dir:      dir,
	}
}

// addReadyItem creates a user, playlist and a Ready item backed by a real file
func (e *testEnv) addReadyItem(t *testing.T, priority int, removeAfterPlaying bool) *models.QueueItem {
	t.Helper()
	ctx := context.Background()

	user := models.NewUser("user-" + uuid.NewString()[:8])
	require.NoError(t, e.repos.Users.Create(ctx, user))
	playlist := models.NewPlaylist(user.ID, "favs", removeAfterPlaying)
	require.NoError(t, e.repos.Playlists.Create(ctx, playlist))

	item := models.NewQueueItem(playlist.ID, "https://example.com/watch?v="+uuid.NewString(), priority)
	path := filepath.Join(e.dir, item.ID.String()+".mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0644))
	item.Status = models.StatusReady
	item.FilePath = &path
	require.NoError(t, e.repos.Items.Create(ctx, item))
	return item
}

// renameTable breaks or restores the store underneath the orchestrator
func (e *testEnv) renameTable(t *testing.T, from, to string) {
	t.Helper()
	require.NoError(t, e.database.Exec("ALTER TABLE "+from+" RENAME TO "+to).Error)
}

func (e *testEnv) item(t *testing.T, id uuid.UUID) *models.QueueItem {
	t.Helper()
	item, err := e.repos.Items.GetByID(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (e *testEnv) history(t *testing.T, id uuid.UUID) []*models.PlaybackHistory {
	t.Helper()
	entries, err := e.repos.History.ListByItem(context.Background(), id)
	require.NoError(t, err)
	return entries
}

// requireSingleSession checks that at most one item plays and the queue state agrees
func (e *testEnv) requireSingleSession(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	playing, err := e.repos.Items.ListByStatus(ctx, models.StatusPlaying, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(playing), 1)

	state, err := e.repos.QueueState.Get(ctx)
	require.NoError(t, err)
	if len(playing) == 1 {
		require.NotNil(t, state.CurrentItemID)
		require.Equal(t, playing[0].ID, *state.CurrentItemID)
	} else {
		require.Nil(t, state.CurrentItemID)
	}
}

var errEngineBroken = errors.New("no output device")
