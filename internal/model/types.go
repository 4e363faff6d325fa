// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"time"
)

// SlotKeys lists the skill bar slots in calibration order.
var SlotKeys = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "0", "F1", "F2", "F3"}

// IsSlotKey reports whether key names one of the fixed skill bar slots.
func IsSlotKey(key string) bool {
	for _, k := range SlotKeys {
		if k == key {
			return true
		}
	}
	return false
}

// RGB is a sampled screen color.
type RGB [3]uint8

// SlotGeometry holds the two sample points of a calibrated slot.
type SlotGeometry struct {
	CX   int `json:"cx"`
	CY   int `json:"cy"`
	P11X int `json:"p11x"`
	P11Y int `json:"p11y"`
}

// GlobalCoordinates maps slot keys to calibrated geometry.
type GlobalCoordinates map[string]SlotGeometry

// Clone returns a copy of the coordinates.
func (g GlobalCoordinates) Clone() GlobalCoordinates {
	out := make(GlobalCoordinates, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

// ReferenceColors are the "ready" colors captured when a skill is bound.
// A skill without them is uncalibrated.
type ReferenceColors struct {
	Center RGB
	Offset RGB
}

// SkillAction is one entry of a rotation profile.
type SkillAction struct {
	Name  string
	Key   string
	Delay int
	CX    int
	CY    int
	P11X  int
	P11Y  int
	Refs  *ReferenceColors
}

// Calibrated reports whether the skill carries reference colors.
func (s SkillAction) Calibrated() bool {
	return s.Refs != nil
}

// MinCastDelay is the hard floor on the pause after any cast.
const MinCastDelay = 50 * time.Millisecond

// EffectiveDelay returns the pause after a cast, never below minDelay nor
// MinCastDelay.
func (s SkillAction) EffectiveDelay(minDelay time.Duration) time.Duration {
	if minDelay < MinCastDelay {
		minDelay = MinCastDelay
	}
	d := time.Duration(s.Delay) * time.Millisecond
	if d < minDelay {
		return minDelay
	}
	return d
}

type skillActionJSON struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Delay int    `json:"delay"`
	CX    int    `json:"cx"`
	CY    int    `json:"cy"`
	CR    *RGB   `json:"cr"`
	P11X  int    `json:"p11x"`
	P11Y  int    `json:"p11y"`
	P11R  *RGB   `json:"p11r"`
}

// MarshalJSON writes the flat document form with cr/p11r as arrays or null.
func (s SkillAction) MarshalJSON() ([]byte, error) {
	out := skillActionJSON{
		Name:  s.Name,
		Key:   s.Key,
		Delay: s.Delay,
		CX:    s.CX,
		CY:    s.CY,
		P11X:  s.P11X,
		P11Y:  s.P11Y,
	}
	if s.Refs != nil {
		cr, p11r := s.Refs.Center, s.Refs.Offset
		out.CR = &cr
		out.P11R = &p11r
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat document form. A record carrying only one of
// cr/p11r is loaded as uncalibrated.
func (s *SkillAction) UnmarshalJSON(data []byte) error {
	var in skillActionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = SkillAction{
		Name:  in.Name,
		Key:   in.Key,
		Delay: in.Delay,
		CX:    in.CX,
		CY:    in.CY,
		P11X:  in.P11X,
		P11Y:  in.P11Y,
	}
	if in.CR != nil && in.P11R != nil {
		s.Refs = &ReferenceColors{Center: *in.CR, Offset: *in.P11R}
	}
	return nil
}

// Document is the persisted aggregate.
type Document struct {
	GlobalCoords GlobalCoordinates        `json:"global_coords"`
	Profiles     map[string][]SkillAction `json:"profiles"`
}

// NewDocument returns an empty document.
func NewDocument() Document {
	return Document{
		GlobalCoords: GlobalCoordinates{},
		Profiles:     map[string][]SkillAction{},
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := Document{
		GlobalCoords: d.GlobalCoords.Clone(),
		Profiles:     make(map[string][]SkillAction, len(d.Profiles)),
	}
	for name, skills := range d.Profiles {
		out.Profiles[name] = CloneSkills(skills)
	}
	return out
}

// CloneSkills copies a skill sequence, including reference colors.
func CloneSkills(skills []SkillAction) []SkillAction {
	out := make([]SkillAction, len(skills))
	for i, s := range skills {
		if s.Refs != nil {
			refs := *s.Refs
			s.Refs = &refs
		}
		out[i] = s
	}
	return out
}

// RuntimeState is the per-tick readiness verdict of a skill.
type RuntimeState int

const (
	StateFail RuntimeState = iota
	StateCooldown
	StateReady
)

func (s RuntimeState) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return "FAIL"
	}
}

// SkillStatus is a skill's verdict from the latest tick.
type SkillStatus struct {
	Name  string
	Key   string
	State RuntimeState
}

// Settings are the resolved runtime settings.
type Settings struct {
	Tolerance      int
	BearingDeg     float64
	RadiusRatio    float64
	Settle         time.Duration
	TriggerKey     string
	ToggleKey      string
	Tick           time.Duration
	Idle           time.Duration
	MinDelay       time.Duration
	DefaultProfile string
	DocumentPath   string
}

// CastRecord is one journaled cast.
type CastRecord struct {
	RunID   string
	Profile string
	Skill   string
	Key     string
	CastAt  time.Time
}

// RunFilter selects journal runs for reporting.
type RunFilter struct {
	Profile string
	Since   *time.Time
	Last    int
}

// RunAggregate summarizes a journaled run.
type RunAggregate struct {
	RunID     string
	Profile   string
	StartedAt time.Time
	EndedAt   time.Time
	Casts     int
}

// SkillAggregate counts casts of one skill across runs.
type SkillAggregate struct {
	Profile string
	Skill   string
	Key     string
	Casts   int
	First   time.Time
	Last    time.Time
}
