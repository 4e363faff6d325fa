// Package robot implements the screen boundary on robotgo and listens for
// global hotkeys with gohook.
package robot

import (
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"

	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/screen"
)

// Robot samples pixels, reads the pointer and taps keys on the live desktop.
type Robot struct {
	display int
}

// New returns a Robot bound to the given display index.
func New(display int) *Robot {
	return &Robot{display: display}
}

// Sample implements screen.Sampler.
func (r *Robot) Sample(x, y int) (rgb model.RGB, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", screen.ErrCapture, rec)
		}
	}()
	return screen.ParseHex(robotgo.GetPixelColor(x, y, r.display))
}

// Position implements screen.Pointer.
func (r *Robot) Position() (pt image.Point, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", screen.ErrCapture, rec)
		}
	}()
	x, y := robotgo.Location()
	return image.Pt(x, y), nil
}

// Tap implements screen.Keyboard.
func (r *Robot) Tap(key string) error {
	if err := robotgo.KeyTap(screen.KeyName(key)); err != nil {
		return fmt.Errorf("failed to tap %q: %w", key, err)
	}
	return nil
}
