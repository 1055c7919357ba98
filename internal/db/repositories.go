package db

// Repositories provides access to all database repositories
type Repositories struct {
	Items      *ItemRepository
	Playlists  *PlaylistRepository
	Users      *UserRepository
	QueueState *QueueStateRepository
	History    *HistoryRepository
	Playback   *PlaybackRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Items:      NewItemRepository(db),
		Playlists:  NewPlaylistRepository(db),
		Users:      NewUserRepository(db),
		QueueState: NewQueueStateRepository(db),
		History:    NewHistoryRepository(db),
		Playback:   NewPlaybackRepository(db),
	}
}
