package presence

import (
	"math"

	"workplace-monitor/internal/models"
)

const epsilon = 1e-9

// Polygon a closed zone outline; the last vertex connects back to the first.
type Polygon []models.Point

// Contains reports whether pt lies inside p or on its boundary.
func (p Polygon) Contains(pt models.Point) bool {
	n := len(p)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[i], p[j]
		if onSegment(a, b, pt) {
			return true
		}
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			x := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
			if pt.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p models.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > epsilon {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-epsilon && p.X <= math.Max(a.X, b.X)+epsilon &&
		p.Y >= math.Min(a.Y, b.Y)-epsilon && p.Y <= math.Max(a.Y, b.Y)+epsilon
}

// ZonePresence maps every zone to whether a person is inside it in frame.
// A nil frame yields all false.
func ZonePresence(zones []models.Zone, frame *Frame) map[int64]bool {
	out := make(map[int64]bool, len(zones))
	for _, z := range zones {
		if frame == nil {
			out[z.ID] = false
			continue
		}
		if v, ok := frame.Zones[z.ID]; ok {
			out[z.ID] = v
			continue
		}
		poly := Polygon(z.Polygon)
		present := false
		for _, person := range frame.People {
			if poly.Contains(person.Point()) {
				present = true
				break
			}
		}
		out[z.ID] = present
	}
	return out
}
