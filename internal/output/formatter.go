package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alecf/sdfcache/internal/cache"
	"github.com/alecf/sdfcache/internal/grid"
)

// GetOutput represents the JSON output of a get request
type GetOutput struct {
	Path   string `json:"path"`
	Key    string `json:"key,omitempty"`
	Cached bool   `json:"cached"`
}

// GridOutput describes a grid file header
type GridOutput struct {
	Path        string     `json:"path"`
	Dims        [3]int32   `json:"dims"`
	Min         [3]float32 `json:"min"`
	Max         [3]float32 `json:"max"`
	Spacing     float32    `json:"spacing"`
	SizeBytes   int64      `json:"size_bytes"`
	SolidPct    *float64   `json:"solid_pct,omitempty"` // only when values were read
	Hits        *int       `json:"hits,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// StatsOutput represents cache statistics
type StatsOutput struct {
	Directory string `json:"directory"`
	*cache.Stats
	SizeMB float64 `json:"total_size_mb"`
}

// NewGetOutput converts a store result
func NewGetOutput(r *cache.Result) GetOutput {
	out := GetOutput{Path: r.Path, Cached: r.Hit}
	if r.Key != 0 {
		out.Key = r.Key.String()
	}
	return out
}

// NewGridOutput builds a description from a header, and from values when g is non-nil
func NewGridOutput(path string, h grid.Header, g *grid.Grid) GridOutput {
	out := GridOutput{
		Path:      path,
		Dims:      [3]int32{h.NX, h.NY, h.NZ},
		Min:       h.Min,
		Max:       h.Max,
		Spacing:   h.Spacing(),
		SizeBytes: h.FileSize(),
	}
	if g != nil && g.Cells() > 0 {
		pct := 100 * float64(g.InsideCount()) / float64(g.Cells())
		out.SolidPct = &pct
	}
	return out
}

// FormatJSON formats any output value as indented JSON
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// FormatStats formats cache statistics as plain text
func FormatStats(dir string, stats *cache.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics:\n")
	fmt.Fprintf(&b, "  Total entries:    %d\n", stats.TotalEntries)
	fmt.Fprintf(&b, "  Total size:       %s (%.2f MB)\n", humanize.IBytes(uint64(stats.TotalSizeBytes)), stats.TotalSizeMB())
	fmt.Fprintf(&b, "  Total hits:       %d\n", stats.TotalHits)
	if stats.OldestEntry != nil {
		fmt.Fprintf(&b, "  Oldest entry:     %s (%s)\n", stats.OldestEntry.Format("2006-01-02 15:04:05"), humanize.Time(*stats.OldestEntry))
	}
	if stats.NewestEntry != nil {
		fmt.Fprintf(&b, "  Newest entry:     %s (%s)\n", stats.NewestEntry.Format("2006-01-02 15:04:05"), humanize.Time(*stats.NewestEntry))
	}
	fmt.Fprintf(&b, "  Cache directory:  %s\n", dir)
	return b.String()
}

// FormatGrid formats a grid description as plain text
func FormatGrid(g GridOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", g.Path)
	fmt.Fprintf(&b, "  Dimensions:  %dx%dx%d\n", g.Dims[0], g.Dims[1], g.Dims[2])
	fmt.Fprintf(&b, "  Min:         %v\n", g.Min)
	fmt.Fprintf(&b, "  Max:         %v\n", g.Max)
	fmt.Fprintf(&b, "  Spacing:     %g\n", g.Spacing)
	fmt.Fprintf(&b, "  Size:        %s\n", humanize.IBytes(uint64(g.SizeBytes)))
	if g.SolidPct != nil {
		fmt.Fprintf(&b, "  Solid:       %.1f%%\n", *g.SolidPct)
	}
	if g.Hits != nil {
		fmt.Fprintf(&b, "  Hits:        %s\n", humanize.Comma(int64(*g.Hits)))
	}
	if g.GeneratedAt != nil {
		fmt.Fprintf(&b, "  Generated:   %s\n", humanize.Time(*g.GeneratedAt))
	}
	return b.String()
}
