package engine

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/verte-zerg/skillcast/internal/event"
	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/profile"
)

var (
	ready    = model.RGB{200, 50, 50}
	dimmed   = model.RGB{40, 10, 10}
	readyRef = &model.ReferenceColors{Center: ready, Offset: ready}
)

type fakeSampler struct{}

// Sample returns the ready color everywhere except x >= 1000.
func (fakeSampler) Sample(x, y int) (model.RGB, error) {
	if x >= 1000 {
		return dimmed, nil
	}
	return ready, nil
}

type tap struct {
	key string
	at  time.Time
}

type fakeKeyboard struct {
	mu    sync.Mutex
	taps  []tap
	panic bool
}

func (k *fakeKeyboard) Tap(key string) error {
	k.mu.Lock()
	k.taps = append(k.taps, tap{key: key, at: time.Now()})
	shouldPanic := k.panic
	k.mu.Unlock()
	if shouldPanic {
		panic("injector crashed")
	}
	return nil
}

func (k *fakeKeyboard) snapshot() []tap {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]tap, len(k.taps))
	copy(out, k.taps)
	return out
}

type fakePointer struct {
	mu     sync.Mutex
	points []image.Point
}

func (p *fakePointer) Position() (image.Point, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.points) == 0 {
		return image.Point{}, errors.New("no more points")
	}
	pt := p.points[0]
	p.points = p.points[1:]
	return pt, nil
}

type fakeJournal struct {
	mu     sync.Mutex
	opened []string
	closed []string
	casts  []model.CastRecord
}

func (j *fakeJournal) OpenRun(_ context.Context, profile string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.opened = append(j.opened, profile)
	return "run-1", nil
}

func (j *fakeJournal) CloseRun(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = append(j.closed, id)
	return nil
}

func (j *fakeJournal) RecordCast(_ context.Context, rec model.CastRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.casts = append(j.casts, rec)
	return nil
}

func testSettings() model.Settings {
	return model.Settings{
		Tolerance:   30,
		BearingDeg:  30,
		RadiusRatio: 0.85,
		TriggerKey:  "p",
		Tick:        10 * time.Millisecond,
		Idle:        20 * time.Millisecond,
		MinDelay:    50 * time.Millisecond,
	}
}

func newStore(t *testing.T, skills ...model.SkillAction) *profile.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	doc := model.NewDocument()
	doc.Profiles["Test"] = append([]model.SkillAction{}, skills...)
	data, err := profile.Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	st, err := profile.Load(path, "Test", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return st
}

func newEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	if deps.Sampler == nil {
		deps.Sampler = fakeSampler{}
	}
	e, err := New(testSettings(), deps)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func drain(ch <-chan event.Event) []event.Event {
	var out []event.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(testSettings(), Deps{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestToggleFlipsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, err := New(testSettings(), Deps{Store: newStore(t)})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if e.Running() {
		t.Fatalf("expected initial state stopped")
	}
	e.Toggle()
	if !e.Running() {
		t.Fatalf("expected running after toggle")
	}
	e.Toggle()
	if e.Running() {
		t.Fatalf("expected stopped after second toggle")
	}
	e.Close()
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, err := New(testSettings(), Deps{Store: newStore(t)})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ch, unsubscribe := e.Bus().Subscribe(64)
	defer unsubscribe()

	e.Stop()
	if evs := drain(ch); len(evs) != 0 {
		t.Fatalf("stop on stopped engine published %v", evs)
	}

	e.Start()
	e.Start()
	statusOn := 0
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindStatus && ev.Running {
			statusOn++
		}
	}
	if statusOn != 1 {
		t.Fatalf("expected one running status, got %d", statusOn)
	}

	e.Stop()
	var sawStopped, sawReady bool
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindStatus && !ev.Running {
			sawStopped = true
		}
		if ev.Kind == event.KindOverlay && ev.Text == "READY" && ev.Color == event.ColorReady {
			sawReady = true
		}
	}
	if !sawStopped || !sawReady {
		t.Fatalf("expected stopped status and READY overlay")
	}
	e.Close()
}

func TestCastsReadySkillsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newStore(t,
		model.SkillAction{Name: "Judgment", Key: "1", CX: 10, CY: 10, P11X: 5, P11Y: 5, Refs: readyRef},
		model.SkillAction{Name: "Cooling", Key: "2", CX: 1000, CY: 10, P11X: 1000, P11Y: 5, Refs: readyRef},
		model.SkillAction{Name: "Bare", Key: "3"},
		model.SkillAction{Name: "Shelter", Key: "F1", Delay: 80, CX: 20, CY: 10, P11X: 15, P11Y: 5, Refs: readyRef},
	)
	kb := &fakeKeyboard{}
	journal := &fakeJournal{}
	e := newEngine(t, Deps{Store: st, Keyboard: kb, Journal: journal})

	e.Start()
	waitFor(t, 3*time.Second, func() bool { return len(kb.snapshot()) >= 4 })
	e.Stop()
	e.Close()

	taps := kb.snapshot()
	for i, tp := range taps {
		want := "1"
		if i%2 == 1 {
			want = "F1"
		}
		if tp.key != want {
			t.Fatalf("tap %d: expected %s, got %s", i, want, tp.key)
		}
	}
	for i := 1; i < len(taps); i++ {
		gap := taps[i].at.Sub(taps[i-1].at)
		minGap := 50 * time.Millisecond
		if taps[i-1].key == "F1" {
			minGap = 80 * time.Millisecond
		}
		if gap < minGap {
			t.Fatalf("taps %d and %d only %s apart", i-1, i, gap)
		}
	}

	snap := e.Snapshot()
	states := []model.RuntimeState{model.StateReady, model.StateCooldown, model.StateFail, model.StateReady}
	if len(snap) != len(states) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	for i, want := range states {
		if snap[i].State != want {
			t.Fatalf("skill %s: expected %s, got %s", snap[i].Name, want, snap[i].State)
		}
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.opened) != 1 || journal.opened[0] != "Test" {
		t.Fatalf("unexpected opened runs: %v", journal.opened)
	}
	if len(journal.closed) != 1 || journal.closed[0] != "run-1" {
		t.Fatalf("unexpected closed runs: %v", journal.closed)
	}
	if len(journal.casts) != len(taps) {
		t.Fatalf("expected %d journaled casts, got %d", len(taps), len(journal.casts))
	}
	if journal.casts[0].Skill != "Judgment" || journal.casts[0].RunID != "run-1" {
		t.Fatalf("unexpected cast record: %+v", journal.casts[0])
	}
}

func TestStopInterruptsIteration(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newStore(t,
		model.SkillAction{Name: "Long", Key: "1", Delay: 10000, CX: 10, CY: 10, Refs: readyRef},
		model.SkillAction{Name: "Never", Key: "2", CX: 20, CY: 10, Refs: readyRef},
	)
	kb := &fakeKeyboard{}
	e := newEngine(t, Deps{Store: st, Keyboard: kb})

	e.Start()
	waitFor(t, 2*time.Second, func() bool { return len(kb.snapshot()) == 1 })
	started := time.Now()
	e.Close()
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("close waited %s for the cast delay", elapsed)
	}
	for _, tp := range kb.snapshot() {
		if tp.key == "2" {
			t.Fatalf("skill after stop was cast")
		}
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newStore(t, model.SkillAction{Name: "Judgment", Key: "1", CX: 10, CY: 10, Refs: readyRef})
	kb := &fakeKeyboard{panic: true}
	e := newEngine(t, Deps{Store: st, Keyboard: kb})
	ch, unsubscribe := e.Bus().Subscribe(256)
	defer unsubscribe()

	e.Start()
	waitFor(t, 2*time.Second, func() bool { return len(kb.snapshot()) >= 3 })
	if !e.Running() {
		t.Fatalf("expected loop to keep running")
	}
	e.Close()

	var sawError bool
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindLog && ev.Message == "Loop error: injector crashed" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected loop error log")
	}
}

func TestEmptyProfileIdles(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEngine(t, Deps{Store: newStore(t)})
	ch, unsubscribe := e.Bus().Subscribe(64)
	defer unsubscribe()

	e.Start()
	time.Sleep(60 * time.Millisecond)
	e.Close()
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindSnapshot {
			t.Fatalf("empty profile produced a snapshot")
		}
	}
}

func calibrationPoints() []image.Point {
	return []image.Point{
		{X: 100, Y: 100}, {X: 600, Y: 100},
		{X: 700, Y: 100}, {X: 1200, Y: 100},
		{X: 100, Y: 300}, {X: 400, Y: 300},
	}
}

func TestStartCalibrationCommitsCoords(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newStore(t)
	trigger := make(chan struct{})
	pointer := &fakePointer{points: calibrationPoints()}
	e := newEngine(t, Deps{Store: st, Pointer: pointer, Trigger: trigger})
	ch, unsubscribe := e.Bus().Subscribe(256)
	defer unsubscribe()

	if !e.StartCalibration() {
		t.Fatalf("expected calibration to start")
	}
	if e.StartCalibration() {
		t.Fatalf("expected second calibration to be rejected")
	}
	for range calibrationPoints() {
		trigger <- struct{}{}
	}
	waitFor(t, 2*time.Second, func() bool { return !e.Calibrating() })

	coords := st.Coords()
	if len(coords) != len(model.SlotKeys) {
		t.Fatalf("expected %d slots, got %d", len(model.SlotKeys), len(coords))
	}
	if coords["1"].CX != 150 || coords["1"].CY != 100 {
		t.Fatalf("unexpected slot 1 geometry: %+v", coords["1"])
	}

	reloaded, err := profile.Load(st.Path(), "Test", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Coords()) != len(model.SlotKeys) {
		t.Fatalf("coords not persisted")
	}

	var sawCoords, sawComplete bool
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindCoords && len(ev.Coords) == len(model.SlotKeys) {
			sawCoords = true
		}
		if ev.Kind == event.KindOverlay && ev.Text == "Calibration complete" {
			sawComplete = true
		}
	}
	if !sawCoords || !sawComplete {
		t.Fatalf("expected coords event and completion overlay")
	}
	e.Close()
}

func TestCalibrationAbortKeepsGeometry(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newStore(t)
	before := model.GlobalCoordinates{"1": {CX: 1, CY: 2, P11X: 3, P11Y: 4}}
	if err := st.MergeCoords(before); err != nil {
		t.Fatalf("merge: %v", err)
	}
	trigger := make(chan struct{})
	pointer := &fakePointer{points: calibrationPoints()}
	e := newEngine(t, Deps{Store: st, Pointer: pointer, Trigger: trigger})

	e.StartCalibration()
	trigger <- struct{}{}
	close(trigger)
	waitFor(t, 2*time.Second, func() bool { return !e.Calibrating() })

	coords := st.Coords()
	if len(coords) != 1 || coords["1"] != before["1"] {
		t.Fatalf("geometry changed after abort: %+v", coords)
	}
	e.Close()
}

func TestCloseCancelsCalibration(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEngine(t, Deps{Store: newStore(t), Pointer: &fakePointer{}, Trigger: make(chan struct{})})
	e.StartCalibration()
	e.Close()
	if e.Calibrating() {
		t.Fatalf("expected wizard to exit on close")
	}
}

func TestRunCalibration(t *testing.T) {
	st := newStore(t)
	trigger := make(chan struct{}, len(calibrationPoints()))
	for range calibrationPoints() {
		trigger <- struct{}{}
	}
	e := newEngine(t, Deps{Store: st, Pointer: &fakePointer{points: calibrationPoints()}, Trigger: trigger})
	if err := e.RunCalibration(context.Background()); err != nil {
		t.Fatalf("run calibration: %v", err)
	}
	if got := st.Coords()["F3"]; got.CX != 350 || got.CY != 300 {
		t.Fatalf("unexpected F3 geometry: %+v", got)
	}
}

func TestProfileAndSkillControls(t *testing.T) {
	st := newStore(t)
	if err := st.MergeCoords(model.GlobalCoordinates{"1": {CX: 10, CY: 10, P11X: 5, P11Y: 5}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	e := newEngine(t, Deps{Store: st})
	ch, unsubscribe := e.Bus().Subscribe(64)
	defer unsubscribe()

	if err := e.SetProfile("Warrior"); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if e.CurrentProfile() != "Warrior" {
		t.Fatalf("expected Warrior, got %s", e.CurrentProfile())
	}
	skill, err := e.AddSkill("Bladetrail", "1", 0)
	if err != nil {
		t.Fatalf("add skill: %v", err)
	}
	if !skill.Calibrated() || skill.Refs.Center != ready {
		t.Fatalf("expected sampled reference colors, got %+v", skill)
	}
	if _, err := e.AddSkill("Unbound", "7", 100); err != nil {
		t.Fatalf("add skill: %v", err)
	}
	if got := len(e.CurrentSkills()); got != 2 {
		t.Fatalf("expected 2 skills, got %d", got)
	}
	if err := e.DeleteSkillByIndex(5); err != nil {
		t.Fatalf("delete out of range: %v", err)
	}
	if err := e.DeleteSkillByIndex(0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	skills := e.CurrentSkills()
	if len(skills) != 1 || skills[0].Name != "Unbound" || skills[0].Calibrated() {
		t.Fatalf("unexpected skills: %+v", skills)
	}
	if err := e.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := e.Profiles(); len(got) != 2 {
		t.Fatalf("expected 2 profiles, got %v", got)
	}

	var messages []string
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindLog {
			messages = append(messages, ev.Message)
		}
	}
	want := []string{
		"Switched profile -> Warrior",
		"[1] reference colors captured",
		"Added skill Bladetrail",
		"Added skill Unbound",
		"Deleted skill #1",
		"Configuration saved",
	}
	if len(messages) != len(want) {
		t.Fatalf("unexpected log messages: %v", messages)
	}
	for i := range want {
		if messages[i] != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], messages[i])
		}
	}
}

func TestCastSpacingKeepsFloor(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := testSettings()
	settings.MinDelay = 5 * time.Millisecond
	st := newStore(t, model.SkillAction{Name: "Spam", Key: "1", CX: 10, CY: 10, Refs: readyRef})
	kb := &fakeKeyboard{}
	e, err := New(settings, Deps{Store: st, Sampler: fakeSampler{}, Keyboard: kb})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	e.Start()
	waitFor(t, 3*time.Second, func() bool { return len(kb.snapshot()) >= 4 })
	e.Close()

	taps := kb.snapshot()
	for i := 1; i < len(taps); i++ {
		if gap := taps[i].at.Sub(taps[i-1].at); gap < model.MinCastDelay {
			t.Fatalf("taps %d and %d only %s apart", i-1, i, gap)
		}
	}
}

func TestConcurrentTogglesEachFlip(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, err := New(testSettings(), Deps{Store: newStore(t)})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for round := 0; round < 50; round++ {
		before := e.Running()
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				e.Toggle()
			}()
		}
		close(start)
		wg.Wait()
		if e.Running() != before {
			t.Fatalf("round %d: two toggles changed state from %v", round, before)
		}
	}
	e.Close()
}

// slowJournal blocks every cast write until release is closed.
type slowJournal struct {
	fakeJournal
	release chan struct{}
}

func (j *slowJournal) RecordCast(ctx context.Context, rec model.CastRecord) error {
	<-j.release
	return j.fakeJournal.RecordCast(ctx, rec)
}

func TestSlowJournalDoesNotDelayCasts(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newStore(t, model.SkillAction{Name: "Judgment", Key: "1", CX: 10, CY: 10, Refs: readyRef})
	kb := &fakeKeyboard{}
	journal := &slowJournal{release: make(chan struct{})}
	e := newEngine(t, Deps{Store: st, Keyboard: kb, Journal: journal})

	e.Start()
	waitFor(t, 3*time.Second, func() bool { return len(kb.snapshot()) >= 3 })
	close(journal.release)
	e.Close()

	taps := kb.snapshot()
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.casts) != len(taps) {
		t.Fatalf("expected %d journaled casts, got %d", len(taps), len(journal.casts))
	}
	if len(journal.closed) != 1 {
		t.Fatalf("expected run closed once, got %v", journal.closed)
	}
	for i, rec := range journal.casts {
		if rec.CastAt.IsZero() {
			t.Fatalf("cast %d has no timestamp", i)
		}
	}
}

func TestStartCalibrationAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEngine(t, Deps{Store: newStore(t), Pointer: &fakePointer{}, Trigger: make(chan struct{})})
	ch, unsubscribe := e.Bus().Subscribe(16)
	defer unsubscribe()
	e.Close()

	if e.StartCalibration() {
		t.Fatalf("expected closed engine to refuse calibration")
	}
	var msgs []string
	for _, ev := range drain(ch) {
		if ev.Kind == event.KindLog {
			msgs = append(msgs, ev.Message)
		}
	}
	if len(msgs) != 1 || msgs[0] != "Calibration unavailable: engine closed" {
		t.Fatalf("unexpected log: %v", msgs)
	}
}
