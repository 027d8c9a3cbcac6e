// Package geom holds the pure angle and vector math for unit movement.
package geom

import "math"

// Bearing returns the facing angle in degrees [0,360) from (sx,sy) toward
// (ex,ey). Vector is its inverse: Vector(Bearing(a,b), d) steps from a
// toward b.
func Bearing(sx, sy, ex, ey float64) float64 {
	return Norm(-math.Atan2(ex-sx, ey-sy) * 180 / math.Pi)
}

// Vector converts an angle and length into a displacement.
func Vector(angle, length float64) (dx, dy float64) {
	rad := -angle * math.Pi / 180
	return math.Sin(rad) * length, math.Cos(rad) * length
}

func Dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// Norm wraps an angle into [0,360).
func Norm(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// Diff returns the shortest signed rotation from one angle to another,
// in (-180,180].
func Diff(from, to float64) float64 {
	return math.Mod(to-from+540, 360) - 180
}

// Step rotates from toward to by at most step degrees, snapping exactly
// onto to on the final step. All angles in degrees.
func Step(from, to, step float64) float64 {
	d := Diff(from, to)
	if math.Abs(d) <= step {
		return Norm(to)
	}
	if d > 0 {
		return Norm(from + step)
	}
	return Norm(from - step)
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
