// Package readiness classifies a skill slot as ready, cooling down or
// undeterminable from two sampled pixels.
package readiness

import (
	"fmt"

	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/screen"
)

// DefaultTolerance is the per-channel distance below which a sample matches
// its reference.
const DefaultTolerance = 30

// Match reports whether every channel of sample is within tolerance of ref.
func Match(ref, sample model.RGB, tolerance int) bool {
	for i := 0; i < 3; i++ {
		d := int(ref[i]) - int(sample[i])
		if d < 0 {
			d = -d
		}
		if d >= tolerance {
			return false
		}
	}
	return true
}

// Evaluate samples both points of the skill's slot. Both must match their
// reference for READY. An uncalibrated skill or a failed sample is FAIL.
func Evaluate(skill model.SkillAction, sampler screen.Sampler, tolerance int) (state model.RuntimeState) {
	if skill.Refs == nil || sampler == nil {
		return model.StateFail
	}
	defer func() {
		if rec := recover(); rec != nil {
			state = model.StateFail
		}
	}()
	center, err := sampler.Sample(skill.CX, skill.CY)
	if err != nil {
		return model.StateFail
	}
	offset, err := sampler.Sample(skill.P11X, skill.P11Y)
	if err != nil {
		return model.StateFail
	}
	if Match(skill.Refs.Center, center, tolerance) && Match(skill.Refs.Offset, offset, tolerance) {
		return model.StateReady
	}
	return model.StateCooldown
}

// Evaluator binds a sampler and tolerance.
type Evaluator struct {
	sampler   screen.Sampler
	tolerance int
}

// New returns an Evaluator. A non-positive tolerance selects DefaultTolerance.
func New(sampler screen.Sampler, tolerance int) *Evaluator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Evaluator{sampler: sampler, tolerance: tolerance}
}

// Evaluate classifies one skill.
func (e *Evaluator) Evaluate(skill model.SkillAction) model.RuntimeState {
	return Evaluate(skill, e.sampler, e.tolerance)
}

// EvaluateAll classifies skills in order.
func (e *Evaluator) EvaluateAll(skills []model.SkillAction) []model.SkillStatus {
	out := make([]model.SkillStatus, len(skills))
	for i, s := range skills {
		out[i] = model.SkillStatus{Name: s.Name, Key: s.Key, State: e.Evaluate(s)}
	}
	return out
}

// Describe renders a skill's reference colors for display.
func Describe(skill model.SkillAction) string {
	if skill.Refs == nil {
		return "uncalibrated"
	}
	c, o := skill.Refs.Center, skill.Refs.Offset
	return fmt.Sprintf("#%02x%02x%02x/#%02x%02x%02x", c[0], c[1], c[2], o[0], o[1], o[2])
}
