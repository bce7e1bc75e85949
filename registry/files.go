package registry

import (
	"fmt"
	"strconv"
	"strings"

	"markertracker/detect"
	"markertracker/pose"
)

// Text definition files share one lexical convention: blank lines and lines
// starting with '#' are ignored.

func significantLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseTemplateFile reads a pictorial template definition: a `width height`
// header line followed by height rows of width luminance values in [0,255].
func ParseTemplateFile(name string, data []byte) (*detect.Template, error) {
	lines := significantLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("template %q: empty definition", name)
	}
	dims := strings.Fields(lines[0])
	if len(dims) != 2 {
		return nil, fmt.Errorf("template %q: bad header %q", name, lines[0])
	}
	w, err1 := strconv.Atoi(dims[0])
	h, err2 := strconv.Atoi(dims[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 || w > 64 || h > 64 || w != h {
		return nil, fmt.Errorf("template %q: bad dimensions %q", name, lines[0])
	}
	if len(lines) != 1+h {
		return nil, fmt.Errorf("template %q: have %d rows, want %d", name, len(lines)-1, h)
	}
	grid := make([]uint8, 0, w*h)
	for _, row := range lines[1:] {
		vals := strings.Fields(row)
		if len(vals) != w {
			return nil, fmt.Errorf("template %q: row has %d values, want %d", name, len(vals), w)
		}
		for _, v := range vals {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 255 {
				return nil, fmt.Errorf("template %q: bad luminance value %q", name, v)
			}
			grid = append(grid, uint8(n))
		}
	}
	return detect.NewTemplate(name, grid, w)
}

// FileLoader resolves a member definition filename to its contents. The
// engine supplies one backed by the filesystem; tests supply maps.
type FileLoader func(name string) ([]byte, error)

// ParseMultiConfig reads a composite definition: the member count, then per
// member a name line (template filename, or a bare integer for a barcode id),
// a physical width line, and three rows of the member's 3x4 offset pose.
func ParseMultiConfig(data []byte, load FileLoader) ([]Member, error) {
	lines := significantLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("multi-marker config: empty definition")
	}
	count, err := strconv.Atoi(lines[0])
	if err != nil || count <= 0 {
		return nil, fmt.Errorf("multi-marker config: bad member count %q", lines[0])
	}
	const linesPerMember = 5
	if len(lines) != 1+count*linesPerMember {
		return nil, fmt.Errorf("multi-marker config: have %d lines for %d members, want %d",
			len(lines)-1, count, count*linesPerMember)
	}

	members := make([]Member, 0, count)
	for i := 0; i < count; i++ {
		base := 1 + i*linesPerMember
		var m Member

		name := lines[base]
		if id, err := strconv.ParseUint(name, 10, 64); err == nil {
			m.IsBarcode = true
			m.BarcodeID = id
		} else {
			if load == nil {
				return nil, fmt.Errorf("multi-marker member %d: no loader for template %q", i, name)
			}
			raw, err := load(name)
			if err != nil {
				return nil, fmt.Errorf("multi-marker member %d: %w", i, err)
			}
			tmpl, err := ParseTemplateFile(name, raw)
			if err != nil {
				return nil, fmt.Errorf("multi-marker member %d: %w", i, err)
			}
			m.Template = tmpl
		}

		width, err := strconv.ParseFloat(lines[base+1], 64)
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("multi-marker member %d: bad width %q", i, lines[base+1])
		}
		m.Width = width

		var mat [12]float64
		for row := 0; row < 3; row++ {
			vals := strings.Fields(lines[base+2+row])
			if len(vals) != 4 {
				return nil, fmt.Errorf("multi-marker member %d: pose row %d has %d values, want 4", i, row, len(vals))
			}
			for col, v := range vals {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("multi-marker member %d: bad pose value %q", i, v)
				}
				mat[row*4+col] = f
			}
		}
		m.Offset = pose.FromMatrix34(mat)

		members = append(members, m)
	}
	return members, nil
}
