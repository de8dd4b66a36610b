package mesh

import "math"

// Vec3 is a single-precision point or direction.
type Vec3 [3]float32

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min Vec3
	Max Vec3
}

// EmptyBox returns a box that any Extend call will replace.
func EmptyBox() Box {
	return Box{
		Min: Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// Extend grows the box to include p.
func (b *Box) Extend(p Vec3) {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
}

// Empty reports whether no point has been added.
func (b Box) Empty() bool { return b.Min[0] > b.Max[0] }

func (b Box) Size() Vec3   { return b.Max.Sub(b.Min) }
func (b Box) Center() Vec3 { return b.Min.Add(b.Max).Scale(0.5) }
