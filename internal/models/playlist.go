package models

import (
	"time"

	"github.com/google/uuid"
)

// Playlist groups the queue items submitted by one user
type Playlist struct {
	ID                 uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	UserID             uuid.UUID `json:"user_id" gorm:"type:text;not null;column:user_id" validate:"required"`
	Name               string    `json:"name" gorm:"type:text;not null;column:name" validate:"required,min=1,max=255"`
	RemoveAfterPlaying bool      `json:"remove_after_playing" gorm:"type:integer;not null;default:1;column:remove_after_playing"`
	CreatedAt          time.Time `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

// TableName pins the table name used by the migrations
func (Playlist) TableName() string {
	return "playlists"
}

// NewPlaylist creates a new Playlist with generated UUID and timestamp
func NewPlaylist(userID uuid.UUID, name string, removeAfterPlaying bool) *Playlist {
	return &Playlist{
		ID:                 uuid.New(),
		UserID:             userID,
		Name:               name,
		RemoveAfterPlaying: removeAfterPlaying,
		CreatedAt:          time.Now().UTC(),
	}
}

// User is the fairness subject the scheduler balances between
type User struct {
	ID           uuid.UUID  `json:"id" gorm:"type:text;primaryKey;column:id"`
	DisplayName  string     `json:"display_name" gorm:"type:text;not null;uniqueIndex;column:display_name" validate:"required"`
	LastPlayedAt *time.Time `json:"last_played_at,omitempty" gorm:"type:datetime;column:last_played_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
}

// TableName pins the table name used by the migrations
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User with generated UUID and timestamp
func NewUser(displayName string) *User {
	return &User{
		ID:          uuid.New(),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
}
