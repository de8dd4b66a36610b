// Package levelset is the boundary to the level-set generator that turns a
// triangle soup into a dense signed distance grid. The algorithm itself lives
// outside this module.
package levelset

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecf/sdfcache/internal/grid"
	"github.com/alecf/sdfcache/internal/mesh"
)

// Backend selects the hardware the generator should run on.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendGPU:
		return "gpu"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend accepts "cpu" or "gpu" in any case.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return BackendCPU, nil
	case "gpu", "":
		return BackendGPU, nil
	}
	return 0, fmt.Errorf("unknown backend %q (want cpu or gpu)", s)
}

// Request describes one grid to generate. Sample (i,j,k) sits at
// Min + (i,j,k)*DX.
type Request struct {
	Faces     []mesh.Face
	Vertices  []mesh.Vec3
	Min       mesh.Vec3
	DX        float32
	NX        int32
	NY        int32
	NZ        int32
	BandWidth int
	Backend   Backend
}

// Generator produces a signed distance grid, negative inside the solid.
type Generator interface {
	Generate(ctx context.Context, req Request) (*grid.Grid, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*grid.Grid, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*grid.Grid, error) {
	return f(ctx, req)
}
