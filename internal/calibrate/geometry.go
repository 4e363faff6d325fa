package calibrate

import (
	"fmt"
	"image"
	"math"

	"github.com/verte-zerg/skillcast/internal/model"
)

// Geometry places the secondary sample point relative to a slot center.
type Geometry struct {
	// BearingDeg is measured from straight up, toward the left.
	BearingDeg float64
	// RadiusRatio scales half of the slot width.
	RadiusRatio float64
}

// DefaultGeometry puts the secondary point on the icon border, up and left of
// the center.
func DefaultGeometry() Geometry {
	return Geometry{BearingDeg: 30, RadiusRatio: 0.85}
}

// Region is a row of slots spanned by two anchor steps.
type Region struct {
	From int
	To   int
	Keys []string
}

// Regions lists the skill bar rows in calibration order.
var Regions = []Region{
	{From: 0, To: 1, Keys: []string{"1", "2", "3", "4", "5"}},
	{From: 2, To: 3, Keys: []string{"6", "7", "8", "9", "0"}},
	{From: 4, To: 5, Keys: []string{"F1", "F2", "F3"}},
}

// ComputeRegion spreads keys evenly between the top-left anchor p1 and the
// bottom-right anchor p2.
func ComputeRegion(p1, p2 image.Point, keys []string, g Geometry) model.GlobalCoordinates {
	out := model.GlobalCoordinates{}
	if len(keys) == 0 {
		return out
	}
	width := float64(p2.X-p1.X) / float64(len(keys))
	radius := (width / 2) * g.RadiusRatio
	centerY := int(math.Floor(float64(p1.Y+p2.Y) / 2))
	bearing := g.BearingDeg * math.Pi / 180
	offX := int(math.Floor(radius * math.Sin(bearing)))
	offY := int(math.Floor(radius * math.Cos(bearing)))
	for i, key := range keys {
		cx := int(math.Floor(float64(p1.X) + float64(i)*width + width/2))
		out[key] = model.SlotGeometry{
			CX:   cx,
			CY:   centerY,
			P11X: cx - offX,
			P11Y: centerY - offY,
		}
	}
	return out
}

// Compute builds the coordinates of every region from the six anchors.
func Compute(points []image.Point, g Geometry) (model.GlobalCoordinates, error) {
	if len(points) != len(Steps) {
		return nil, fmt.Errorf("expected %d anchor points, got %d", len(Steps), len(points))
	}
	out := model.GlobalCoordinates{}
	for _, r := range Regions {
		for k, v := range ComputeRegion(points[r.From], points[r.To], r.Keys, g) {
			out[k] = v
		}
	}
	return out, nil
}
