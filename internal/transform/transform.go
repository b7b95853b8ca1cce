// Package transform converts points between the three coordinate frames the
// map view works in: world (physical meters, Y up), map pixel (raster space,
// row 0 at the top), and canvas (screen space after pan/zoom/rotation).
package transform

import (
	"errors"
	"math"
)

var (
	ErrInvalidResolution = errors.New("transform: resolution must be > 0")
	ErrDegenerateScale   = errors.New("transform: canvas scale must be non-zero")
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose is a position plus heading. Yaw is radians, counter-clockwise.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Meta is the geometric slice of a map's metadata: raster dimensions in
// pixels, meters per pixel, and the origin pose placing the raster's lower
// left corner in the world frame.
type Meta struct {
	Width      int
	Height     int
	Resolution float64
	Origin     Pose
}

// CanvasTransform describes how map pixels land on screen. Scale may be
// non-uniform; Rotation is radians.
type CanvasTransform struct {
	ScaleX     float64 `json:"scale_x"`
	ScaleY     float64 `json:"scale_y"`
	Rotation   float64 `json:"rotation"`
	TranslateX float64 `json:"translate_x"`
	TranslateY float64 `json:"translate_y"`
}

// WorldToMapPixel maps a world-frame point into raster coordinates. Row 0 is
// the top of the raster, so Y is flipped after scaling.
func WorldToMapPixel(p Point, m Meta) (Point, error) {
	if m.Resolution <= 0 {
		return Point{}, ErrInvalidResolution
	}
	dx := p.X - m.Origin.X
	dy := p.Y - m.Origin.Y
	cos := math.Cos(-m.Origin.Yaw)
	sin := math.Sin(-m.Origin.Yaw)
	rx := dx*cos - dy*sin
	ry := dx*sin + dy*cos
	return Point{
		X: rx / m.Resolution,
		Y: float64(m.Height) - ry/m.Resolution,
	}, nil
}

// MapPixelToWorld is the exact inverse of WorldToMapPixel.
func MapPixelToWorld(p Point, m Meta) (Point, error) {
	if m.Resolution <= 0 {
		return Point{}, ErrInvalidResolution
	}
	rx := p.X * m.Resolution
	ry := (float64(m.Height) - p.Y) * m.Resolution
	cos := math.Cos(m.Origin.Yaw)
	sin := math.Sin(m.Origin.Yaw)
	return Point{
		X: rx*cos - ry*sin + m.Origin.X,
		Y: rx*sin + ry*cos + m.Origin.Y,
	}, nil
}

// MapPixelToCanvas applies the canvas placement: rotate, scale, translate.
func MapPixelToCanvas(p Point, t CanvasTransform) Point {
	cos := math.Cos(t.Rotation)
	sin := math.Sin(t.Rotation)
	rx := p.X*cos - p.Y*sin
	ry := p.X*sin + p.Y*cos
	return Point{
		X: rx*t.ScaleX + t.TranslateX,
		Y: ry*t.ScaleY + t.TranslateY,
	}
}

// CanvasToMapPixel inverts MapPixelToCanvas. A zero scale component has no
// inverse and is rejected rather than producing infinities.
func CanvasToMapPixel(p Point, t CanvasTransform) (Point, error) {
	if t.ScaleX == 0 || t.ScaleY == 0 {
		return Point{}, ErrDegenerateScale
	}
	rx := (p.X - t.TranslateX) / t.ScaleX
	ry := (p.Y - t.TranslateY) / t.ScaleY
	cos := math.Cos(-t.Rotation)
	sin := math.Sin(-t.Rotation)
	return Point{
		X: rx*cos - ry*sin,
		Y: rx*sin + ry*cos,
	}, nil
}

// WorldToCanvas chains WorldToMapPixel and MapPixelToCanvas.
func WorldToCanvas(p Point, m Meta, t CanvasTransform) (Point, error) {
	px, err := WorldToMapPixel(p, m)
	if err != nil {
		return Point{}, err
	}
	return MapPixelToCanvas(px, t), nil
}

// CanvasToWorld chains CanvasToMapPixel and MapPixelToWorld.
func CanvasToWorld(p Point, m Meta, t CanvasTransform) (Point, error) {
	px, err := CanvasToMapPixel(p, t)
	if err != nil {
		return Point{}, err
	}
	return MapPixelToWorld(px, m)
}

// ClampPixelToBounds clamps a pixel point into [0,W-1]x[0,H-1]. Every other
// function in this package reports out-of-range inputs as-is, never clamping
// silently.
func ClampPixelToBounds(p Point, m Meta) Point {
	maxX := float64(m.Width - 1)
	maxY := float64(m.Height - 1)
	return Point{
		X: math.Min(math.Max(p.X, 0), math.Max(maxX, 0)),
		Y: math.Min(math.Max(p.Y, 0), math.Max(maxY, 0)),
	}
}

// Bounds returns the world-space axis-aligned bounding box of the raster.
// With a rotated origin the box covers all four mapped corners.
func Bounds(m Meta) (min, max Point, err error) {
	if m.Resolution <= 0 {
		return Point{}, Point{}, ErrInvalidResolution
	}
	corners := []Point{
		{X: 0, Y: 0},
		{X: float64(m.Width), Y: 0},
		{X: 0, Y: float64(m.Height)},
		{X: float64(m.Width), Y: float64(m.Height)},
	}
	min = Point{X: math.Inf(1), Y: math.Inf(1)}
	max = Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, c := range corners {
		w, cerr := MapPixelToWorld(c, m)
		if cerr != nil {
			return Point{}, Point{}, cerr
		}
		min.X = math.Min(min.X, w.X)
		min.Y = math.Min(min.Y, w.Y)
		max.X = math.Max(max.X, w.X)
		max.Y = math.Max(max.Y, w.Y)
	}
	return min, max, nil
}
