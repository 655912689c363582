package pulse

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid hardware setup or an invalid
// combination of channel references, detected before any waveform is rendered.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// TimingError reports a pulse that cannot be realised at the requested sample
// rate or position, e.g. a frequency above Nyquist or an acquisition window
// that does not fit into the sequence.
type TimingError struct {
	Reason string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("timing error: %s", e.Reason)
}

// UnsupportedElementError reports an element placed on a channel kind that
// cannot carry it, e.g. a phase shift on a plain voltage channel.
type UnsupportedElementError struct {
	Element string
	Channel string
}

func (e *UnsupportedElementError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("unsupported element %s", e.Element)
	}
	return fmt.Sprintf("unsupported element %s on channel %s", e.Element, e.Channel)
}

func newConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func newTimingError(format string, args ...interface{}) error {
	return &TimingError{Reason: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError. Exposed so that the config
// and sequence packages share a single error taxonomy.
func ErrConfiguration(format string, args ...interface{}) error {
	return newConfigurationError(format, args...)
}

// ErrTiming creates a TimingError.
func ErrTiming(format string, args ...interface{}) error {
	return newTimingError(format, args...)
}

// ErrUnsupported creates an UnsupportedElementError.
func ErrUnsupported(element, channel string) error {
	return &UnsupportedElementError{Element: element, Channel: channel}
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsTiming reports whether err wraps a TimingError.
func IsTiming(err error) bool {
	var target *TimingError
	return errors.As(err, &target)
}

// IsUnsupported reports whether err wraps an UnsupportedElementError.
func IsUnsupported(err error) bool {
	var target *UnsupportedElementError
	return errors.As(err, &target)
}
