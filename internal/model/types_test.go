package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSkillActionJSONCalibrated(t *testing.T) {
	skill := SkillAction{
		Name:  "Judgment",
		Key:   "1",
		Delay: 100,
		CX:    150,
		CY:    100,
		P11X:  129,
		P11Y:  64,
		Refs:  &ReferenceColors{Center: RGB{200, 50, 50}, Offset: RGB{10, 10, 10}},
	}
	data, err := json.Marshal(skill)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"name":"Judgment","key":"1","delay":100,"cx":150,"cy":100,"cr":[200,50,50],"p11x":129,"p11y":64,"p11r":[10,10,10]}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestSkillActionJSONUncalibrated(t *testing.T) {
	data, err := json.Marshal(SkillAction{Name: "Shelter", Key: "F1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"name":"Shelter","key":"F1","delay":0,"cx":0,"cy":0,"cr":null,"p11x":0,"p11y":0,"p11r":null}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestSkillActionPartialRefsLoadUncalibrated(t *testing.T) {
	var skill SkillAction
	if err := json.Unmarshal([]byte(`{"name":"A","key":"2","cr":[1,2,3],"p11r":null}`), &skill); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if skill.Calibrated() {
		t.Fatalf("expected partial refs to load uncalibrated")
	}
}

func TestSkillActionRejectsOutOfRangeChannel(t *testing.T) {
	var skill SkillAction
	if err := json.Unmarshal([]byte(`{"name":"A","key":"2","cr":[300,2,3],"p11r":[1,2,3]}`), &skill); err == nil {
		t.Fatalf("expected error for channel above 255")
	}
}

func TestEffectiveDelay(t *testing.T) {
	cases := []struct {
		delay int
		want  time.Duration
	}{
		{delay: 0, want: 50 * time.Millisecond},
		{delay: 49, want: 50 * time.Millisecond},
		{delay: 50, want: 50 * time.Millisecond},
		{delay: 800, want: 800 * time.Millisecond},
	}
	for _, tc := range cases {
		got := SkillAction{Delay: tc.delay}.EffectiveDelay(50 * time.Millisecond)
		if got != tc.want {
			t.Fatalf("delay %d: expected %s, got %s", tc.delay, tc.want, got)
		}
	}
}

func TestEffectiveDelayKeepsFloor(t *testing.T) {
	cases := []struct {
		delay    int
		minDelay time.Duration
		want     time.Duration
	}{
		{delay: 0, minDelay: 0, want: MinCastDelay},
		{delay: 10, minDelay: 5 * time.Millisecond, want: MinCastDelay},
		{delay: 0, minDelay: 120 * time.Millisecond, want: 120 * time.Millisecond},
		{delay: 300, minDelay: 0, want: 300 * time.Millisecond},
	}
	for _, tc := range cases {
		got := SkillAction{Delay: tc.delay}.EffectiveDelay(tc.minDelay)
		if got != tc.want {
			t.Fatalf("delay %d min %s: expected %s, got %s", tc.delay, tc.minDelay, tc.want, got)
		}
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := NewDocument()
	doc.GlobalCoords["1"] = SlotGeometry{CX: 1}
	doc.Profiles["P"] = []SkillAction{{Name: "A", Refs: &ReferenceColors{Center: RGB{1, 1, 1}}}}

	clone := doc.Clone()
	clone.GlobalCoords["1"] = SlotGeometry{CX: 2}
	clone.Profiles["P"][0].Refs.Center = RGB{9, 9, 9}
	clone.Profiles["P"][0].Name = "B"

	if doc.GlobalCoords["1"].CX != 1 {
		t.Fatalf("coords shared with clone")
	}
	if doc.Profiles["P"][0].Name != "A" || doc.Profiles["P"][0].Refs.Center != (RGB{1, 1, 1}) {
		t.Fatalf("skills shared with clone: %+v", doc.Profiles["P"][0])
	}
}

func TestIsSlotKey(t *testing.T) {
	for _, key := range []string{"1", "0", "F1", "F3"} {
		if !IsSlotKey(key) {
			t.Fatalf("expected %s to be a slot", key)
		}
	}
	for _, key := range []string{"F4", "f1", "", "Q"} {
		if IsSlotKey(key) {
			t.Fatalf("expected %s not to be a slot", key)
		}
	}
}

func TestRuntimeStateString(t *testing.T) {
	if StateReady.String() != "READY" || StateCooldown.String() != "COOLDOWN" || StateFail.String() != "FAIL" {
		t.Fatalf("unexpected state names")
	}
}
