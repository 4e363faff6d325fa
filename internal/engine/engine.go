// Package engine runs the automation loop and owns the control surface the
// dashboard and CLI call into.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/skillcast/internal/calibrate"
	"github.com/verte-zerg/skillcast/internal/event"
	"github.com/verte-zerg/skillcast/internal/logging"
	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/profile"
	"github.com/verte-zerg/skillcast/internal/readiness"
	"github.com/verte-zerg/skillcast/internal/screen"
)

// Journal records runs and casts. It may be nil.
type Journal interface {
	OpenRun(ctx context.Context, profile string) (string, error)
	CloseRun(ctx context.Context, id string) error
	RecordCast(ctx context.Context, rec model.CastRecord) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store    *profile.Store
	Sampler  screen.Sampler
	Pointer  screen.Pointer
	Keyboard screen.Keyboard
	// Trigger yields one value per calibration confirmation press.
	Trigger <-chan struct{}
	Bus     *event.Bus
	Journal Journal
	Logger  *zap.Logger
}

// Engine drives the tick loop and the calibration wizard.
type Engine struct {
	settings  model.Settings
	store     *profile.Store
	sampler   screen.Sampler
	pointer   screen.Pointer
	keyboard  screen.Keyboard
	trigger   <-chan struct{}
	bus       *event.Bus
	journal   Journal
	logger    *zap.Logger
	evaluator *readiness.Evaluator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	calibrating bool
	closed      bool
	snapshot    []model.SkillStatus
}

// New returns a stopped Engine.
func New(settings model.Settings, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine: profile store is required")
	}
	if deps.Bus == nil {
		deps.Bus = event.NewBus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		settings:  settings,
		store:     deps.Store,
		sampler:   deps.Sampler,
		pointer:   deps.Pointer,
		keyboard:  deps.Keyboard,
		trigger:   deps.Trigger,
		bus:       deps.Bus,
		journal:   deps.Journal,
		logger:    logging.OrNop(deps.Logger),
		evaluator: readiness.New(deps.Sampler, settings.Tolerance),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Bus returns the notification bus.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Running reports whether the loop is running.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start launches the tick loop. It does nothing when already running.
func (e *Engine) Start() {
	e.mu.Lock()
	stop := e.startLocked()
	e.mu.Unlock()
	if stop != nil {
		e.announceStart(stop)
	}
}

// Stop asks the loop to exit at its next boundary. It does nothing when
// already stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	ok := e.stopLocked()
	e.mu.Unlock()
	if ok {
		e.announceStop()
	}
}

// Toggle flips between running and stopped. The check and the flip happen
// under one lock, so concurrent toggles each flip once.
func (e *Engine) Toggle() {
	e.mu.Lock()
	if e.running {
		e.stopLocked()
		e.mu.Unlock()
		e.announceStop()
		return
	}
	stop := e.startLocked()
	e.mu.Unlock()
	if stop != nil {
		e.announceStart(stop)
	}
}

// startLocked marks the engine running and returns the new stop channel, or
// nil when it is already running or closed.
func (e *Engine) startLocked() chan struct{} {
	if e.running || e.closed {
		return nil
	}
	e.running = true
	e.stop = make(chan struct{})
	e.wg.Add(1)
	return e.stop
}

func (e *Engine) stopLocked() bool {
	if !e.running {
		return false
	}
	e.running = false
	close(e.stop)
	e.stop = nil
	return true
}

func (e *Engine) announceStart(stop chan struct{}) {
	e.bus.Status(true)
	e.log("Automation started")
	go e.loop(stop)
}

func (e *Engine) announceStop() {
	e.bus.Status(false)
	e.bus.Overlay("READY", event.ColorReady)
	e.log("Automation stopped")
}

// Snapshot returns the verdicts of the latest tick.
func (e *Engine) Snapshot() []model.SkillStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.SkillStatus, len(e.snapshot))
	copy(out, e.snapshot)
	return out
}

// castBacklog bounds the journal writes queued behind the loop.
const castBacklog = 256

func (e *Engine) loop(stop <-chan struct{}) {
	defer e.wg.Done()
	runID := e.openRun()
	records, drained := e.startRecorder(runID)
	defer func() {
		if records != nil {
			close(records)
			<-drained
		}
		e.closeRun(runID)
	}()

	for {
		if stopped(stop) {
			return
		}
		pause := e.tick(stop, records, runID)
		if !wait(stop, pause) {
			return
		}
	}
}

// startRecorder starts the goroutine that writes casts to the journal, so a
// slow database never holds up a tick. It returns nil channels when there is
// nothing to journal.
func (e *Engine) startRecorder(runID string) (chan<- model.CastRecord, <-chan struct{}) {
	if e.journal == nil || runID == "" {
		return nil, nil
	}
	records := make(chan model.CastRecord, castBacklog)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for rec := range records {
			// Writes outlive the engine context so a closing run keeps its casts.
			if err := e.journal.RecordCast(context.Background(), rec); err != nil {
				e.logger.Warn("record cast", zap.Error(err))
			}
		}
	}()
	return records, drained
}

// tick runs one pass over the current profile and returns the pause before
// the next one.
func (e *Engine) tick(stop <-chan struct{}, records chan<- model.CastRecord, runID string) (pause time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tick panicked", zap.Any("panic", rec))
			e.bus.Log(fmt.Sprintf("Loop error: %v", rec))
			pause = e.settings.Tick
		}
	}()

	profileName := e.store.CurrentProfile()
	skills := e.store.CurrentSkills()
	if len(skills) == 0 {
		return e.settings.Idle
	}

	statuses := e.evaluator.EvaluateAll(skills)
	e.mu.Lock()
	e.snapshot = statuses
	e.mu.Unlock()
	e.bus.Snapshot(statuses)

	for i, skill := range skills {
		if stopped(stop) {
			return 0
		}
		if statuses[i].State != model.StateReady {
			continue
		}
		e.cast(skill)
		e.journalCast(records, model.CastRecord{
			RunID:   runID,
			Profile: profileName,
			Skill:   skill.Name,
			Key:     skill.Key,
			CastAt:  time.Now(),
		})
		if !wait(stop, skill.EffectiveDelay(e.settings.MinDelay)) {
			return 0
		}
	}
	return e.settings.Tick
}

func (e *Engine) cast(skill model.SkillAction) {
	e.bus.Overlay("CAST: "+skill.Name, event.ColorCast)
	if e.keyboard != nil {
		if err := e.keyboard.Tap(skill.Key); err != nil {
			e.logger.Warn("key tap failed", zap.String("key", skill.Key), zap.Error(err))
		}
	}
	e.logger.Debug("cast", zap.String("skill", skill.Name), zap.String("key", skill.Key))
}

// journalCast queues rec without blocking. A full backlog drops it.
func (e *Engine) journalCast(records chan<- model.CastRecord, rec model.CastRecord) {
	if records == nil {
		return
	}
	select {
	case records <- rec:
	default:
		e.logger.Warn("cast journal backlog full, dropping cast", zap.String("skill", rec.Skill))
	}
}

func (e *Engine) openRun() string {
	if e.journal == nil {
		return ""
	}
	id, err := e.journal.OpenRun(e.ctx, e.store.CurrentProfile())
	if err != nil {
		e.logger.Warn("open run", zap.Error(err))
		return ""
	}
	return id
}

func (e *Engine) closeRun(id string) {
	if e.journal == nil || id == "" {
		return
	}
	// Close runs even when the engine context is already cancelled.
	if err := e.journal.CloseRun(context.Background(), id); err != nil {
		e.logger.Warn("close run", zap.String("run", id), zap.Error(err))
	}
}

// StartCalibration launches the wizard in the background. It reports false
// when a wizard is already running or the engine is closed.
func (e *Engine) StartCalibration() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log("Calibration unavailable: engine closed")
		return false
	}
	if e.calibrating {
		e.mu.Unlock()
		e.log("Calibration already in progress")
		return false
	}
	e.calibrating = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.calibrate()
	return true
}

// Calibrating reports whether the wizard is running.
func (e *Engine) Calibrating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calibrating
}

func (e *Engine) calibrate() {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		e.calibrating = false
		e.mu.Unlock()
	}()

	coords, err := e.newCalibrator().Run(e.ctx)
	if err != nil {
		e.log(fmt.Sprintf("Calibration failed: %v", err))
		return
	}
	if err := e.store.MergeCoords(coords); err != nil {
		e.log(fmt.Sprintf("Save failed: %v", err))
	}
	e.bus.Coords(e.store.Coords())
	e.bus.Overlay("Calibration complete", event.ColorComplete)
	e.log("Calibration complete")
}

func (e *Engine) newCalibrator() *calibrate.Calibrator {
	cfg := calibrate.Config{
		Geometry:   calibrate.Geometry{BearingDeg: e.settings.BearingDeg, RadiusRatio: e.settings.RadiusRatio},
		Settle:     e.settings.Settle,
		TriggerKey: e.settings.TriggerKey,
	}
	return calibrate.New(e.pointer, e.trigger, notifier{e}, cfg, e.logger)
}

// RunCalibration runs the wizard in the caller's goroutine and commits the
// result. It is the headless counterpart of StartCalibration.
func (e *Engine) RunCalibration(ctx context.Context) error {
	e.mu.Lock()
	if e.calibrating {
		e.mu.Unlock()
		return errors.New("calibration already in progress")
	}
	e.calibrating = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.calibrating = false
		e.mu.Unlock()
	}()

	coords, err := e.newCalibrator().Run(ctx)
	if err != nil {
		return err
	}
	if err := e.store.MergeCoords(coords); err != nil {
		return err
	}
	e.bus.Coords(e.store.Coords())
	return nil
}

// SetProfile switches the active profile, creating it when new.
func (e *Engine) SetProfile(name string) error {
	changed, err := e.store.SetCurrentProfile(name)
	if changed {
		e.log("Switched profile -> " + name)
	}
	if err != nil {
		e.saveFailed(err)
	}
	return err
}

// Profiles lists profile names.
func (e *Engine) Profiles() []string {
	return e.store.Profiles()
}

// CurrentProfile returns the active profile name.
func (e *Engine) CurrentProfile() string {
	return e.store.CurrentProfile()
}

// CurrentSkills returns the active profile's skills.
func (e *Engine) CurrentSkills() []model.SkillAction {
	return e.store.CurrentSkills()
}

// AddSkill appends a skill to the active profile, sampling its reference
// colors when the slot is calibrated.
func (e *Engine) AddSkill(name, key string, delay int) (model.SkillAction, error) {
	skill, err := e.store.AddSkill(e.store.CurrentProfile(), name, key, delay, e.sampler)
	if errors.Is(err, profile.ErrSave) {
		e.saveFailed(err)
		return skill, err
	}
	if err != nil {
		return skill, err
	}
	if skill.Calibrated() {
		e.log(fmt.Sprintf("[%s] reference colors captured", skill.Key))
	}
	e.log("Added skill " + skill.Name)
	return skill, nil
}

// DeleteSkillByIndex removes a skill of the active profile. Out-of-range
// indexes are ignored.
func (e *Engine) DeleteSkillByIndex(index int) error {
	removed, err := e.store.DeleteSkill(e.store.CurrentProfile(), index)
	if err != nil {
		e.saveFailed(err)
		return err
	}
	if removed {
		e.log(fmt.Sprintf("Deleted skill #%d", index+1))
	}
	return nil
}

// Save writes the document.
func (e *Engine) Save() error {
	if err := e.store.Save(); err != nil {
		e.saveFailed(err)
		return err
	}
	e.log("Configuration saved")
	return nil
}

// Close stops the loop, cancels a running wizard and waits for both to exit.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) saveFailed(err error) {
	e.log(fmt.Sprintf("Save failed: %v", err))
}

func (e *Engine) log(msg string) {
	e.logger.Info(msg)
	e.bus.Log(msg)
}

type notifier struct {
	e *Engine
}

func (n notifier) Log(msg string) {
	n.e.log(msg)
}

func (n notifier) Overlay(text, color string) {
	n.e.bus.Overlay(text, color)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// wait pauses for d and reports false if stop closed first.
func wait(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopped(stop)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
