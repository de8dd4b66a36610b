package mesh

// Cube returns a closed axis-aligned cube centred on c with half-extent h.
// Every face is split into div×div quads, two triangles each, so the result
// holds 12*div*div triangles wound counter-clockwise seen from outside.
func Cube(c Vec3, h float32, div int) []Triangle {
	if div < 1 {
		div = 1
	}
	var tris []Triangle
	step := 2 * h / float32(div)

	// axis is the face normal axis, sign its direction.
	for axis := 0; axis < 3; axis++ {
		u := (axis + 1) % 3
		v := (axis + 2) % 3
		for _, sign := range []float32{-1, 1} {
			for i := 0; i < div; i++ {
				for j := 0; j < div; j++ {
					corner := func(di, dj int) Vec3 {
						var p Vec3
						p[axis] = c[axis] + sign*h
						p[u] = c[u] - h + float32(i+di)*step
						p[v] = c[v] - h + float32(j+dj)*step
						return p
					}
					a, b, cc, d := corner(0, 0), corner(1, 0), corner(1, 1), corner(0, 1)
					if sign > 0 {
						tris = append(tris, Triangle{a, b, cc}, Triangle{a, cc, d})
					} else {
						tris = append(tris, Triangle{a, cc, b}, Triangle{a, d, cc})
					}
				}
			}
		}
	}
	return tris
}
