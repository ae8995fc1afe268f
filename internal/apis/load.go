package apis

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed monitored_apis.json
var defaultDocument []byte

// ErrParse matches every *ParseError.
var ErrParse = errors.New("malformed descriptor document")

// ParseError reports a descriptor document that could not be turned into
// descriptors. Index is -1 when the document as a whole is malformed.
type ParseError struct {
	Source string
	Index  int
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
	case e.Field != "":
		return fmt.Sprintf("parse %s: api #%d: missing required field %q", e.Source, e.Index, e.Field)
	default:
		return fmt.Sprintf("parse %s: api #%d: %v", e.Source, e.Index, e.Err)
	}
}

func (e *ParseError) Is(err error) bool { return err == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// rawDescriptor mirrors one entry of the descriptor document. Pointers
// distinguish an absent field from a zero value.
type rawDescriptor struct {
	ClassName          *string   `yaml:"className"`
	HookedMethod       *string   `yaml:"hookedMethod"`
	Signature          *string   `yaml:"signature"`
	InvokeAPICode      *string   `yaml:"invokeAPICode"`
	DefaultReturnValue *string   `yaml:"defaultReturnValue"`
	ExceptionType      *string   `yaml:"exceptionType"`
	LogID              *string   `yaml:"logID"`
	MethodName         *string   `yaml:"methodName"`
	ParamList          *[]string `yaml:"paramList"`
	ReturnType         *string   `yaml:"returnType"`
	IsStatic           *bool     `yaml:"isStatic"`
}

func (r *rawDescriptor) missing() string {
	switch {
	case r.ClassName == nil:
		return "className"
	case r.HookedMethod == nil:
		return "hookedMethod"
	case r.Signature == nil:
		return "signature"
	case r.InvokeAPICode == nil:
		return "invokeAPICode"
	case r.DefaultReturnValue == nil:
		return "defaultReturnValue"
	case r.ExceptionType == nil:
		return "exceptionType"
	case r.LogID == nil:
		return "logID"
	case r.MethodName == nil:
		return "methodName"
	case r.ParamList == nil:
		return "paramList"
	case r.ReturnType == nil:
		return "returnType"
	case r.IsStatic == nil:
		return "isStatic"
	}
	return ""
}

func (r *rawDescriptor) descriptor() Descriptor {
	return New(*r.ClassName, *r.MethodName, *r.Signature, *r.ReturnType, *r.ParamList, *r.IsStatic,
		*r.HookedMethod, *r.InvokeAPICode, *r.LogID, *r.DefaultReturnValue, *r.ExceptionType)
}

// Default returns the bundled descriptor list.
func Default() ([]Descriptor, error) {
	return parse("monitored_apis.json", defaultDocument)
}

// Load reads a descriptor document from path.
func Load(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parse(path, data)
}

// Read parses a descriptor document from r. The document is either an
// array of API objects or an object holding that array under "apis". JSON
// and YAML are both accepted.
func Read(r io.Reader) ([]Descriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse("<input>", data)
}

func parse(source string, data []byte) ([]Descriptor, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Source: source, Index: -1, Err: err}
	}
	list, err := apiList(&doc)
	if err != nil {
		return nil, &ParseError{Source: source, Index: -1, Err: err}
	}

	out := make([]Descriptor, 0, len(list.Content))
	for i, item := range list.Content {
		var raw rawDescriptor
		if err := item.Decode(&raw); err != nil {
			return nil, &ParseError{Source: source, Index: i, Err: err}
		}
		if field := raw.missing(); field != "" {
			return nil, &ParseError{Source: source, Index: i, Field: field}
		}
		out = append(out, raw.descriptor())
	}
	return out, nil
}

// apiList finds the sequence node holding the API objects.
func apiList(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		return root, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value != "apis" {
				continue
			}
			if v := root.Content[i+1]; v.Kind == yaml.SequenceNode {
				return v, nil
			}
			return nil, errors.New(`"apis" is not an array`)
		}
		return nil, errors.New(`missing "apis" array`)
	}
	return nil, fmt.Errorf("expected an array of apis, found %s", nodeKind(root))
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "node"
}
