package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMode indicates a morph mode other than direct or derived
	ErrUnknownMode = errors.New("mode must be direct or derived")
	// ErrStepsOutOfRange indicates a step count outside 2..256
	ErrStepsOutOfRange = errors.New("steps must be between 2 and 256")
)

// UserSettings represents per-user morph defaults
type UserSettings struct {
	UserID int64
	Mode   string
	Steps  int
	Video  bool
}

// Validate ensures settings are valid
func (s *UserSettings) Validate() error {
	if s.Mode != "direct" && s.Mode != "derived" {
		return fmt.Errorf("%w: %q", ErrUnknownMode, s.Mode)
	}
	if s.Steps < 2 || s.Steps > 256 {
		return ErrStepsOutOfRange
	}
	return nil
}

// Store defines the interface for settings persistence
type Store interface {
	// Get retrieves user settings, returning defaults if none exist
	Get(userID int64) (*UserSettings, error)
	// Save persists user settings
	Save(settings *UserSettings) error
	// Close releases resources
	Close() error
}

// DefaultSettings holds the global defaults from config
type DefaultSettings struct {
	Mode  string
	Steps int
	Video bool
}
