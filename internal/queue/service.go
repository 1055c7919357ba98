// Package queue holds the submission and admin operations on the video queue.
package queue

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/media"
	"github.com/stwalsh4118/couchcast/internal/models"
	"github.com/stwalsh4118/couchcast/internal/notify"
)

// Service handles business logic for queue operations
type Service struct {
	repos    *db.Repositories
	notifier notify.Notifier
	validate func(path string) media.ValidationResult
}

// NewService creates a new queue service instance
func NewService(repos *db.Repositories, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repos:    repos,
		notifier: notifier,
		validate: media.ValidateFile,
	}
}

// Submit adds a URL to a playlist as a pending item
func (s *Service) Submit(ctx context.Context, playlistID uuid.UUID, rawURL string, priority int) (*models.QueueItem, error) {
	if priority < models.MinPriority || priority > models.MaxPriority {
		return nil, fmt.Errorf("failed to submit item: %w", ErrInvalidPriority)
	}

	source, err := validateURL(rawURL)
	if err != nil {
		logger.Log.Warn().
			Str("url", rawURL).
			Msg("Submission rejected: invalid URL")
		return nil, fmt.Errorf("failed to submit item: %w", err)
	}

	if _, err := s.repos.Playlists.GetByID(ctx, playlistID); err != nil {
		if db.IsNotFound(err) {
			return nil, ErrPlaylistNotFound
		}
		return nil, fmt.Errorf("failed to load playlist: %w", err)
	}

	item := models.NewQueueItem(playlistID, source, priority)
	if err := s.repos.Items.Create(ctx, item); err != nil {
		if db.IsForeignKey(err) {
			return nil, ErrPlaylistNotFound
		}
		logger.Log.Error().
			Err(err).
			Str("playlist_id", playlistID.String()).
			Msg("Failed to create queue item in database")
		return nil, fmt.Errorf("failed to submit item: %w", err)
	}

	logger.Log.Info().
		Str("item_id", item.ID.String()).
		Str("playlist_id", playlistID.String()).
		Str("url", item.URL).
		Int("priority", item.Priority).
		Msg("Item submitted")

	s.notifier.QueueChanged()
	return item, nil
}

// GetItem retrieves a queue item by its ID
func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	item, err := s.repos.Items.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// Requeue moves an errored item back to Ready when its asset is still playable
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if item.Status != models.StatusError {
		return nil, fmt.Errorf("%w: item is %s", ErrNotRequeueable, item.Status)
	}

	path := ""
	if item.FilePath != nil {
		path = *item.FilePath
	}
	if check := s.validate(path); !check.Readable {
		logger.Log.Warn().
			Str("item_id", id.String()).
			Str("reason", check.Summary()).
			Msg("Requeue rejected: asset is not playable")
		return nil, fmt.Errorf("%w: %s", ErrNotRequeueable, check.Summary())
	}

	moved, err := s.repos.Items.Requeue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue item: %w", err)
	}
	if !moved {
		return nil, fmt.Errorf("%w: item changed concurrently", ErrNotRequeueable)
	}

	logger.Log.Info().Str("item_id", id.String()).Msg("Item requeued")
	s.notifier.QueueChanged()

	return s.GetItem(ctx, id)
}

// CreatePlaylist creates a playlist for userName, creating the user on first use
func (s *Service) CreatePlaylist(ctx context.Context, userName, playlistName string, removeAfterPlaying bool) (*models.Playlist, error) {
	userName = strings.TrimSpace(userName)
	playlistName = strings.TrimSpace(playlistName)
	if userName == "" || playlistName == "" {
		return nil, fmt.Errorf("failed to create playlist: %w", ErrInvalidName)
	}

	user, err := s.ensureUser(ctx, userName)
	if err != nil {
		return nil, err
	}

	playlist := models.NewPlaylist(user.ID, playlistName, removeAfterPlaying)
	if err := s.repos.Playlists.Create(ctx, playlist); err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	playlist.User = user

	logger.Log.Info().
		Str("playlist_id", playlist.ID.String()).
		Str("user", user.DisplayName).
		Str("name", playlist.Name).
		Bool("remove_after_playing", removeAfterPlaying).
		Msg("Playlist created")

	return playlist, nil
}

func (s *Service) ensureUser(ctx context.Context, name string) (*models.User, error) {
	user, err := s.repos.Users.GetByDisplayName(ctx, name)
	if err == nil {
		return user, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = models.NewUser(name)
	if err := s.repos.Users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent create
		if db.IsDuplicate(err) {
			return s.repos.Users.GetByDisplayName(ctx, name)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// validateURL returns the trimmed URL if it is an absolute http(s) URL
func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	return raw, nil
}
