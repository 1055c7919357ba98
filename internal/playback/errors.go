package playback

import "errors"

// Playback errors
var (
	ErrNothingPlaying = errors.New("nothing is playing")
)

// IsNothingPlaying checks if error is a nothing playing error
func IsNothingPlaying(err error) bool {
	return errors.Is(err, ErrNothingPlaying)
}
