package transform

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestWorldToMapPixel_SimpleOrigin(t *testing.T) {
	m := Meta{Width: 400, Height: 300, Resolution: 0.05}

	px, err := WorldToMapPixel(Point{X: 1, Y: 1}, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(px.X, 20) || !approx(px.Y, 280) {
		t.Fatalf("expected (20, 280), got (%v, %v)", px.X, px.Y)
	}
}

func TestWorldToMapPixel_RejectsBadResolution(t *testing.T) {
	for _, res := range []float64{0, -0.05} {
		_, err := WorldToMapPixel(Point{}, Meta{Width: 10, Height: 10, Resolution: res})
		if !errors.Is(err, ErrInvalidResolution) {
			t.Fatalf("resolution %v: expected ErrInvalidResolution, got %v", res, err)
		}
	}
}

func TestRoundTrip_WorldPixelWorld(t *testing.T) {
	metas := []Meta{
		{Width: 400, Height: 300, Resolution: 0.05},
		{Width: 128, Height: 64, Resolution: 0.1, Origin: Pose{X: -3.2, Y: 7.5}},
		{Width: 1024, Height: 768, Resolution: 0.02, Origin: Pose{X: 1.5, Y: -2.25, Yaw: math.Pi / 6}},
	}
	points := []Point{
		{X: 0, Y: 0},
		{X: 3.7, Y: -1.2},
		{X: -15.01, Y: 42.42},
	}

	for _, m := range metas {
		for _, p := range points {
			px, err := WorldToMapPixel(p, m)
			if err != nil {
				t.Fatalf("forward: %v", err)
			}
			back, err := MapPixelToWorld(px, m)
			if err != nil {
				t.Fatalf("inverse: %v", err)
			}
			if !approx(back.X, p.X) || !approx(back.Y, p.Y) {
				t.Fatalf("round trip drifted: %+v -> %+v (meta %+v)", p, back, m)
			}
		}
	}
}

func TestRoundTrip_CanvasPixelCanvas(t *testing.T) {
	ts := []CanvasTransform{
		{ScaleX: 1, ScaleY: 1},
		{ScaleX: 2.5, ScaleY: 2.5, TranslateX: 100, TranslateY: -40},
		{ScaleX: 0.75, ScaleY: 1.25, Rotation: math.Pi / 4, TranslateX: 12, TranslateY: 34},
	}
	p := Point{X: 17.5, Y: -8.25}

	for _, ct := range ts {
		c := MapPixelToCanvas(p, ct)
		back, err := CanvasToMapPixel(c, ct)
		if err != nil {
			t.Fatalf("inverse: %v", err)
		}
		if !approx(back.X, p.X) || !approx(back.Y, p.Y) {
			t.Fatalf("round trip drifted: %+v -> %+v (transform %+v)", p, back, ct)
		}
	}
}

func TestCanvasToMapPixel_RejectsZeroScale(t *testing.T) {
	_, err := CanvasToMapPixel(Point{X: 1, Y: 1}, CanvasTransform{ScaleX: 0, ScaleY: 1})
	if !errors.Is(err, ErrDegenerateScale) {
		t.Fatalf("expected ErrDegenerateScale, got %v", err)
	}
}

func TestWorldToCanvas_Composes(t *testing.T) {
	m := Meta{Width: 100, Height: 100, Resolution: 0.1}
	ct := CanvasTransform{ScaleX: 2, ScaleY: 2, TranslateX: 10, TranslateY: 10}

	c, err := WorldToCanvas(Point{X: 1, Y: 1}, m, ct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// world (1,1) -> pixel (10, 90) -> canvas (30, 190)
	if !approx(c.X, 30) || !approx(c.Y, 190) {
		t.Fatalf("expected (30, 190), got (%v, %v)", c.X, c.Y)
	}

	back, err := CanvasToWorld(c, m, ct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(back.X, 1) || !approx(back.Y, 1) {
		t.Fatalf("expected (1, 1), got (%v, %v)", back.X, back.Y)
	}
}

func TestClampPixelToBounds(t *testing.T) {
	m := Meta{Width: 400, Height: 300, Resolution: 0.05}

	cases := []struct {
		in, want Point
	}{
		{Point{X: -5, Y: -5}, Point{X: 0, Y: 0}},
		{Point{X: 500, Y: 400}, Point{X: 399, Y: 299}},
		{Point{X: 42, Y: 17}, Point{X: 42, Y: 17}},
	}
	for _, c := range cases {
		got := ClampPixelToBounds(c.in, m)
		if got != c.want {
			t.Fatalf("clamp %+v: expected %+v, got %+v", c.in, c.want, got)
		}
	}
}

func TestBounds_AxisAligned(t *testing.T) {
	m := Meta{Width: 400, Height: 300, Resolution: 0.05}

	min, max, err := Bounds(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(min.X, 0) || !approx(min.Y, 0) {
		t.Fatalf("expected min (0, 0), got (%v, %v)", min.X, min.Y)
	}
	if !approx(max.X, 20) || !approx(max.Y, 15) {
		t.Fatalf("expected max (20, 15), got (%v, %v)", max.X, max.Y)
	}
}

func TestBounds_RotatedOriginCoversCorners(t *testing.T) {
	m := Meta{Width: 100, Height: 100, Resolution: 0.1, Origin: Pose{Yaw: math.Pi / 2}}

	min, max, err := Bounds(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10x10m square rotated 90deg around the origin lands in x [-10,0], y [0,10].
	if !approx(min.X, -10) || !approx(min.Y, 0) {
		t.Fatalf("expected min (-10, 0), got (%v, %v)", min.X, min.Y)
	}
	if !approx(max.X, 0) || !approx(max.Y, 10) {
		t.Fatalf("expected max (0, 10), got (%v, %v)", max.X, max.Y)
	}
}
