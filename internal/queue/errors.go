package queue

import "errors"

// Custom queue service errors
var (
	// ErrInvalidURL indicates the submitted URL is not an absolute http(s) URL
	ErrInvalidURL = errors.New("url must be an absolute http or https URL")

	// ErrInvalidPriority indicates the priority is outside 1..10
	ErrInvalidPriority = errors.New("priority must be between 1 and 10")

	// ErrInvalidName indicates an empty user or playlist name
	ErrInvalidName = errors.New("name must not be empty")

	// ErrPlaylistNotFound indicates the requested playlist does not exist
	ErrPlaylistNotFound = errors.New("playlist not found")

	// ErrItemNotFound indicates the requested queue item does not exist
	ErrItemNotFound = errors.New("queue item not found")

	// ErrNotRequeueable indicates the item is not in Error or its asset is unusable
	ErrNotRequeueable = errors.New("item cannot be requeued")
)

// IsInvalidURL checks if the error is an invalid URL error
func IsInvalidURL(err error) bool {
	return errors.Is(err, ErrInvalidURL)
}

// IsInvalidPriority checks if the error is an invalid priority error
func IsInvalidPriority(err error) bool {
	return errors.Is(err, ErrInvalidPriority)
}

// IsInvalidName checks if the error is an invalid name error
func IsInvalidName(err error) bool {
	return errors.Is(err, ErrInvalidName)
}

// IsPlaylistNotFound checks if the error is a playlist not found error
func IsPlaylistNotFound(err error) bool {
	return errors.Is(err, ErrPlaylistNotFound)
}

// IsItemNotFound checks if the error is an item not found error
func IsItemNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

// IsNotRequeueable checks if the error is a not requeueable error
func IsNotRequeueable(err error) bool {
	return errors.Is(err, ErrNotRequeueable)
}
