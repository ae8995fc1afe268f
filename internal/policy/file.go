package policy

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Rule restricts one API, optionally only when all of URIs are accessed.
type Rule struct {
	Signature string
	URIs      []string
	Policy    Policy
}

// Affects reports whether the rule applies to a call of signature
// touching uris. Every rule URI must be a substring of the concatenated
// call URIs.
func (r Rule) Affects(signature string, uris []string) bool {
	if r.Signature != stripSpace(signature) {
		return false
	}
	joined := strings.Join(uris, "")
	for _, u := range r.URIs {
		if !strings.Contains(joined, u) {
			return false
		}
	}
	return true
}

// File is the content of the policies file pushed to the device.
type File struct {
	Rules []Rule
}

// Resolve returns the policy of the first rule affecting the call, or
// Allow when none does.
func (f *File) Resolve(signature string, uris []string) Policy {
	if f == nil {
		return Allow
	}
	for _, r := range f.Rules {
		if r.Affects(signature, uris) {
			return r.Policy
		}
	}
	return Allow
}

// Set replaces the rule for signature and uris, or appends a new one.
func (f *File) Set(signature string, uris []string, p Policy) {
	sig := stripSpace(signature)
	for i, r := range f.Rules {
		if r.Signature == sig && equalStrings(r.URIs, uris) {
			f.Rules[i].Policy = p
			return
		}
	}
	f.Rules = append(f.Rules, Rule{Signature: sig, URIs: append([]string(nil), uris...), Policy: p})
}

// WriteTo writes the file in the monitor's format.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString("# signature\t[uri\t...]policy\n")
	for _, r := range f.Rules {
		b.WriteString(r.Signature)
		for _, u := range r.URIs {
			b.WriteString("\t")
			b.WriteString(u)
		}
		b.WriteString("\t")
		b.WriteString(r.Policy.String())
		b.WriteString("\n")
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Read parses a policies file. Blank lines, comments and lines without a
// tab are skipped, as the monitor does.
func Read(r io.Reader) (*File, error) {
	f := &File{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" || !strings.Contains(text, "\t") || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		// Trailing empty fields are dropped, as the monitor's split does.
		for len(fields) > 0 && fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
		if len(fields) < 2 {
			continue
		}
		p, err := Parse(strings.TrimSpace(fields[len(fields)-1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		f.Rules = append(f.Rules, Rule{
			Signature: stripSpace(fields[0]),
			URIs:      append([]string(nil), fields[1:len(fields)-1]...),
			Policy:    p,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
