// Package calibrate runs the six-step wizard that turns anchor captures into
// slot geometry.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/skillcast/internal/event"
	"github.com/verte-zerg/skillcast/internal/logging"
	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/screen"
)

// ErrAbort marks a wizard that ended before all anchors were captured.
var ErrAbort = errors.New("calibration aborted")

// Corner names which extent of a slot row an anchor marks.
type Corner int

const (
	TopLeft Corner = iota
	BottomRight
)

func (c Corner) String() string {
	if c == TopLeft {
		return "Top-Left"
	}
	return "Bottom-Right"
}

// Step is one anchor capture.
type Step struct {
	Slot   string
	Corner Corner
}

// Steps lists the anchors in capture order.
var Steps = []Step{
	{Slot: "1", Corner: TopLeft},
	{Slot: "5", Corner: BottomRight},
	{Slot: "6", Corner: TopLeft},
	{Slot: "0", Corner: BottomRight},
	{Slot: "F1", Corner: TopLeft},
	{Slot: "F3", Corner: BottomRight},
}

// Prompt renders the instruction for step i.
func Prompt(i int, trigger string) string {
	s := Steps[i]
	return fmt.Sprintf("Step %d/%d: Point [%s] %s -> Press %s", i+1, len(Steps), s.Slot, s.Corner, strings.ToUpper(trigger))
}

// Notifier receives wizard progress.
type Notifier interface {
	Log(msg string)
	Overlay(text, color string)
}

// Config tunes the wizard.
type Config struct {
	Geometry   Geometry
	Settle     time.Duration
	TriggerKey string
}

// Calibrator captures anchors on each trigger and computes slot geometry.
type Calibrator struct {
	pointer screen.Pointer
	trigger <-chan struct{}
	notify  Notifier
	cfg     Config
	logger  *zap.Logger
	step    atomic.Int32
}

// New returns a Calibrator. trigger yields one value per confirmation press.
func New(pointer screen.Pointer, trigger <-chan struct{}, notify Notifier, cfg Config, logger *zap.Logger) *Calibrator {
	logger = logging.OrNop(logger)
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = DefaultGeometry()
	}
	c := &Calibrator{pointer: pointer, trigger: trigger, notify: notify, cfg: cfg, logger: logger}
	c.step.Store(-1)
	return c
}

// Step returns the index of the step being waited on, or -1 when idle.
func (c *Calibrator) Step() int {
	return int(c.step.Load())
}

// Run walks through every step and returns the computed coordinates. It
// returns an ErrAbort error, and no coordinates, if any capture fails.
func (c *Calibrator) Run(ctx context.Context) (coords model.GlobalCoordinates, err error) {
	defer c.step.Store(-1)
	defer func() {
		if rec := recover(); rec != nil {
			coords = nil
			err = fmt.Errorf("%w: %v", ErrAbort, rec)
		}
	}()

	c.notify.Log(">>> Calibration started")
	points := make([]image.Point, 0, len(Steps))
	for i := range Steps {
		c.step.Store(int32(i))
		prompt := Prompt(i, c.cfg.TriggerKey)
		c.notify.Log(prompt)
		c.notify.Overlay(prompt, event.ColorPrompt)

		pt, err := c.capture(ctx)
		if err != nil {
			return nil, err
		}
		points = append(points, pt)
		c.logger.Debug("anchor captured", zap.Int("step", i+1), zap.Int("x", pt.X), zap.Int("y", pt.Y))
		c.notify.Overlay(fmt.Sprintf("Captured [%s] (%d, %d)", Steps[i].Slot, pt.X, pt.Y), event.ColorComplete)

		if err := sleep(ctx, c.cfg.Settle); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAbort, err)
		}
	}

	coords, err = Compute(points, c.cfg.Geometry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbort, err)
	}
	c.notify.Log(">>> Calibration computed")
	return coords, nil
}

func (c *Calibrator) capture(ctx context.Context) (image.Point, error) {
	select {
	case <-ctx.Done():
		return image.Point{}, fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
	case _, ok := <-c.trigger:
		if !ok {
			return image.Point{}, fmt.Errorf("%w: trigger closed", ErrAbort)
		}
	}
	pt, err := c.pointer.Position()
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %v", ErrAbort, err)
	}
	return pt, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
