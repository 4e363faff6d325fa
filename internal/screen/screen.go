// Package screen defines the boundary to the desktop: pixel sampling,
// pointer position and key injection.
package screen

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/verte-zerg/skillcast/internal/model"
)

// ErrCapture marks a failed pixel or pointer read.
var ErrCapture = errors.New("screen capture failed")

// Sampler reads the color of a single screen pixel.
type Sampler interface {
	Sample(x, y int) (model.RGB, error)
}

// Pointer reports the current mouse position.
type Pointer interface {
	Position() (image.Point, error)
}

// Keyboard injects key presses.
type Keyboard interface {
	Tap(key string) error
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(x, y int) (model.RGB, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(x, y int) (model.RGB, error) {
	return f(x, y)
}

// ParseHex parses a "rrggbb" color, with or without a leading '#'.
func ParseHex(hex string) (model.RGB, error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return model.RGB{}, fmt.Errorf("%w: invalid color %q", ErrCapture, hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return model.RGB{}, fmt.Errorf("%w: invalid color %q", ErrCapture, hex)
	}
	return model.RGB{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// KeyName converts a slot key to the lower-case name used for injection.
func KeyName(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
