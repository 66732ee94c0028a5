package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration matches every plan document error.
	ErrInvalidConfiguration = errors.New("invalid plan configuration")

	// ErrAlreadySubmitted is returned by Submit on a plan that has a uid.
	ErrAlreadySubmitted = errors.New("plan already submitted")

	// ErrNotSubmitted is returned when polling a plan without a uid.
	ErrNotSubmitted = errors.New("plan not submitted")

	// ErrWatchDone is returned by Watcher.Next once every build and test
	// has reached a terminal state.
	ErrWatchDone = errors.New("watch done")
)

// InvalidConfigurationError describes why a plan document was rejected.
type InvalidConfigurationError struct {
	Source string
	Err    error
}

func (e *InvalidConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("invalid plan configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid plan configuration %s: %v", e.Source, e.Err)
}

func (e *InvalidConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes every InvalidConfigurationError match ErrInvalidConfiguration.
func (e *InvalidConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

func invalidConfig(source string, format string, args ...interface{}) error {
	return &InvalidConfigurationError{Source: source, Err: fmt.Errorf(format, args...)}
}
