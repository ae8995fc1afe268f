// Package inject splices generated code and device paths into the monitor
// template source.
//
// Splicing runs in two passes. The first counts every marker and fails
// unless each occurs exactly once; the second replaces them.
package inject

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrTemplate matches every *TemplateError.
var ErrTemplate = errors.New("template integrity")

// TemplateError reports a marker that does not occur exactly once.
type TemplateError struct {
	Marker string
	Count  int
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template marker %q occurs %d times, want exactly 1", e.Marker, e.Count)
}

func (e *TemplateError) Is(err error) bool { return err == ErrTemplate }

// Markers name the three injection points of the template.
type Markers struct {
	Methods      string
	PoliciesPath string
	PortPath     string
}

// DefaultMarkers returns the markers of the bundled monitor template.
func DefaultMarkers() Markers {
	return Markers{
		Methods:      "GENERATED_CODE_INJECTION_POINT:METHOD_REDIR_TARGETS",
		PoliciesPath: "#POLICIES_FILE_PATH",
		PortPath:     "#PORT_FILE_PATH",
	}
}

// Values are the replacements for each marker.
type Values struct {
	Methods      string // Generated redirection methods.
	PoliciesPath string
	PortPath     string
}

// Inject replaces each marker of m in src with its value. The method
// marker is replaced by a newline followed by v.Methods.
func Inject(src string, m Markers, v Values) (string, error) {
	if err := m.validate(); err != nil {
		return "", err
	}
	pairs := []struct{ marker, value string }{
		{m.Methods, "\n" + v.Methods},
		{m.PoliciesPath, v.PoliciesPath},
		{m.PortPath, v.PortPath},
	}

	for _, p := range pairs {
		if n := strings.Count(src, p.marker); n != 1 {
			return "", &TemplateError{Marker: p.marker, Count: n}
		}
	}

	// Replace back to front; values are never rescanned for markers.
	type hit struct {
		at            int
		marker, value string
	}
	hits := make([]hit, len(pairs))
	for i, p := range pairs {
		hits[i] = hit{strings.Index(src, p.marker), p.marker, p.value}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at > hits[j].at })
	for i := 1; i < len(hits); i++ {
		if hits[i].at+len(hits[i].marker) > hits[i-1].at {
			return "", fmt.Errorf("%w: markers %q and %q overlap in source", ErrTemplate, hits[i].marker, hits[i-1].marker)
		}
	}

	out := src
	for _, h := range hits {
		out = out[:h.at] + h.value + out[h.at+len(h.marker):]
	}
	return out, nil
}

func (m Markers) validate() error {
	all := []string{m.Methods, m.PoliciesPath, m.PortPath}
	for i, a := range all {
		if a == "" {
			return fmt.Errorf("%w: empty marker", ErrTemplate)
		}
		for j, b := range all {
			if i != j && strings.Contains(a, b) {
				return fmt.Errorf("%w: marker %q overlaps %q", ErrTemplate, a, b)
			}
		}
	}
	return nil
}
