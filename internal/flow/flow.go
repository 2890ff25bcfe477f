// internal/flow/flow.go
package flow

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/xeipuuv/gojsonschema"
	yaml "gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

//go:embed schema.json
var schemaJSON string

// ErrInvalidFlow is wrapped by every document or reference problem.
var ErrInvalidFlow = errors.New("invalid flow")

// Format is a flow document encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ValidationError lists every problem found in a flow document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidFlow, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidFlow }

// ActionValidator checks one action's parameters. The action registry
// satisfies it.
type ActionValidator interface {
	Validate(action schemas.Action) []string
}

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatAuto
}

// LoadFile reads and parses a flow document from disk.
func LoadFile(path string) (*schemas.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow file %s: %w", path, err)
	}
	f, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return f, nil
}

// Load parses a flow document read from r.
func Load(r io.Reader, format Format) (*schemas.Flow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading flow document: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes a YAML or JSON flow document, validates it against the
// embedded schema, and checks its subflow references.
func Parse(data []byte, format Format) (*schemas.Flow, error) {
	if format == FormatAuto {
		format = detect(data)
	}
	doc, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, &ValidationError{Problems: problems}
	}

	var f schemas.Flow
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}
	if err := Validate(&f, nil); err != nil {
		return nil, err
	}
	return &f, nil
}

func detect(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// toJSON normalizes a document to JSON bytes for schema validation.
func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidFlow)
		}
		return data, nil
	case FormatYAML:
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal YAML: %w", ErrInvalidFlow, err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to marshal to JSON: %w", ErrInvalidFlow, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported flow format %q", format)
}

// Validate checks what the schema cannot: every foreach and while names an
// existing subflow, and action ids are unique. With a non-nil validator each
// enabled action's parameters are checked as well.
func Validate(f *schemas.Flow, v ActionValidator) error {
	if f == nil {
		return &ValidationError{Problems: []string{"flow is nil"}}
	}
	var problems []string
	seen := make(map[string]string)

	check := func(scope string, actions []schemas.Action) {
		for i, a := range actions {
			path := fmt.Sprintf("%s[%d]", scope, i)
			if a.ID != "" {
				if prev, dup := seen[a.ID]; dup {
					problems = append(problems, fmt.Sprintf("%s: duplicate action id %q (first at %s)", path, a.ID, prev))
				} else {
					seen[a.ID] = path
				}
			}
			if a.Type == schemas.ActionForeach || a.Type == schemas.ActionWhile {
				var p struct {
					SubflowID string `json:"subflowId"`
				}
				if err := a.DecodeParams(&p); err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", path, err))
				} else if _, ok := f.Subflow(p.SubflowID); !ok {
					problems = append(problems, fmt.Sprintf("%s: %s references unknown subflow %q", path, a.Type, p.SubflowID))
				}
			}
			if v != nil && !a.Disabled {
				for _, msg := range v.Validate(a) {
					problems = append(problems, fmt.Sprintf("%s: %s", path, msg))
				}
			}
		}
	}

	check("main", f.Actions)
	names := make([]string, 0, len(f.Subflows))
	for name := range f.Subflows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check(name, f.Subflows[name])
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Encode renders a flow in the given format. YAML output goes through JSON so
// action params keep their JSON shape.
func Encode(f *schemas.Flow, format Format) ([]byte, error) {
	doc, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding flow %s: %w", f.ID, err)
	}
	if format == FormatJSON {
		return doc, nil
	}
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("encoding flow %s: %w", f.ID, err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding flow %s as YAML: %w", f.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
