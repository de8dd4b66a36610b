package levelset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alecf/sdfcache/internal/grid"
	"github.com/alecf/sdfcache/internal/mesh"
)

// ErrNoCommand is returned by Command when no executable is configured.
var ErrNoCommand = errors.New("no level-set generator command configured")

// Command runs an external generator executable. The request mesh is written
// to a temporary binary STL and the executable is invoked as
//
//	<argv...> --input in.stl --output out.sdf --min x,y,z --dx d
//	          --dims nx,ny,nz --band n --backend cpu|gpu
//
// It must write a grid file in the grid package format to --output.
type Command struct {
	Argv []string
}

// NewCommand splits a command line such as "sdfgen --threads 8" on spaces.
func NewCommand(line string) *Command {
	return &Command{Argv: strings.Fields(line)}
}

func (c *Command) Generate(ctx context.Context, req Request) (*grid.Grid, error) {
	if len(c.Argv) == 0 {
		return nil, ErrNoCommand
	}

	work, err := os.MkdirTemp("", "sdfgen-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(work)

	in := filepath.Join(work, "in.stl")
	out := filepath.Join(work, "out.sdf")

	tris := make([]mesh.Triangle, len(req.Faces))
	for i, f := range req.Faces {
		tris[i] = mesh.Triangle{req.Vertices[f[0]], req.Vertices[f[1]], req.Vertices[f[2]]}
	}
	if err := mesh.WriteFile(in, "sdfcache level-set request", tris); err != nil {
		return nil, err
	}

	args := append([]string{}, c.Argv[1:]...)
	args = append(args,
		"--input", in,
		"--output", out,
		"--min", joinFloats(req.Min[:]),
		"--dx", strconv.FormatFloat(float64(req.DX), 'g', -1, 32),
		"--dims", fmt.Sprintf("%d,%d,%d", req.NX, req.NY, req.NZ),
		"--band", strconv.Itoa(req.BandWidth),
		"--backend", req.Backend.String(),
	)

	cmd := exec.CommandContext(ctx, c.Argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("level-set generator failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("level-set generator failed: %w", err)
	}

	g, err := grid.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator output: %w", err)
	}
	if g.NX != req.NX || g.NY != req.NY || g.NZ != req.NZ {
		return nil, fmt.Errorf("generator produced %dx%dx%d grid, requested %dx%dx%d",
			g.NX, g.NY, g.NZ, req.NX, req.NY, req.NZ)
	}
	return g, nil
}

func joinFloats(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}
