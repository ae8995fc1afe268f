// Package codegen renders the Java redirection method for each monitored
// API. Rendering is pure: the same descriptor always yields the same
// fragment.
package codegen

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"monitorgen/internal/apis"
	"monitorgen/internal/env"
	"monitorgen/internal/policy"
)

// TestNamespace prefixes classes that belong to the instrumentation test
// harness. They are never redirected.
const TestNamespace = "android.test."

const logClass = "android.util.Log"

var logVerbs = []string{"v", "d", "i", "w", "e"}

//go:embed method.tmpl
var methodSource string

var methodTemplate = template.Must(template.New("method").Parse(methodSource))

// policyCase is one branch of the generated switch.
type policyCase struct {
	Policy string
	Body   []string
}

// method is the model passed into method.tmpl.
type method struct {
	apis.Descriptor
	GuardArgs string
	TagPrefix string
	TagAPI    string
	LogLevel  string
	Uris      []string
	PolicyKey string
	Cases     []policyCase
}

// Generate returns the redirection method for d, or "" when d belongs to
// the test namespace.
func Generate(d apis.Descriptor, c env.Constants) string {
	if strings.HasPrefix(d.ObjectClass, TestNamespace) {
		return ""
	}

	m := method{
		Descriptor: d,
		TagPrefix:  c.TagPrefix,
		TagAPI:     c.TagAPI,
		LogLevel:   c.LogLevel,
		Uris:       d.UriParams(),
		PolicyKey:  d.ShortSignature(),
	}
	if isOwnLogCall(d) {
		m.GuardArgs = guardArgs(d)
	}
	for _, p := range policy.Values() {
		m.Cases = append(m.Cases, policyCase{Policy: p.String(), Body: caseBody(p, d, c)})
	}

	var out strings.Builder
	if err := methodTemplate.Execute(&out, m); err != nil {
		panic(fmt.Sprintf("codegen: render %s: %v", d.ShortSignature(), err))
	}
	return out.String()
}

// GenerateAll renders every descriptor in order, joined by newlines.
func GenerateAll(ds []apis.Descriptor, c env.Constants) string {
	fragments := make([]string, len(ds))
	for i, d := range ds {
		fragments[i] = Generate(d, c)
	}
	return strings.Join(fragments, "\n")
}

// isOwnLogCall reports whether d is an android.util.Log call that may
// carry a monitor tag. Calls tagged with the monitor prefix are forwarded
// untouched.
func isOwnLogCall(d apis.Descriptor) bool {
	n := len(d.ParamClasses)
	return d.ObjectClass == logClass && slices.Contains(logVerbs, d.MethodName) && (n == 2 || n == 3)
}

func guardArgs(d apis.Descriptor) string {
	switch n := len(d.ParamClasses); n {
	case 2, 3:
		return strings.Join(d.ParamNames(), ", ")
	default:
		panic(fmt.Sprintf("codegen: %s: expected 2 or 3 parameters, got %d", d.ShortSignature(), n))
	}
}

// caseBody returns the statements of the switch branch for p.
func caseBody(p policy.Policy, d apis.Descriptor, c env.Constants) []string {
	switch p {
	case policy.Allow:
		// invokeCode carries its own return.
		return []string{d.InvokeCode}
	case policy.Mock:
		return []string{fmt.Sprintf("return %s;", d.DefaultValue)}
	case policy.Deny:
		return []string{
			fmt.Sprintf(`%s e = new %s("API %s->%s was blocked by DroidMate");`,
				d.ExceptionType, d.ExceptionType, d.ObjectClass, d.MethodName),
			fmt.Sprintf(`Log.e("%s", e.getMessage());`, c.TagAPI),
			"throw e;",
		}
	default:
		panic(fmt.Sprintf("codegen: unhandled policy %d", int(p)))
	}
}
