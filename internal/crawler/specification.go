package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrInvalidSpecification marks a task body that cannot be turned into a runnable crawl.
	ErrInvalidSpecification = errors.New("invalid crawl specification")
	// ErrUnknownComponent marks a parser, pipeline or finalizer key missing from the registry.
	ErrUnknownComponent = errors.New("unknown crawl component")
)

// Specification is the crawl job carried in a task message. The JSON keys are
// the task wire format and must stay stable.
type Specification struct {
	Name       string                    `json:"name"`
	Output     string                    `json:"output"`
	Logs       string                    `json:"logs"`
	URLs       []string                  `json:"urls"`
	Blacklist  []string                  `json:"blacklist"`
	Whitelist  []string                  `json:"whitelist"`
	Parser     string                    `json:"parser"`
	ParserData map[string]any            `json:"parser_data"`
	Pipelines  map[string]int            `json:"pipelines"`
	Finalizers map[string]map[string]any `json:"finalizers"`
}

// Serialize encodes the specification. Map keys are emitted in sorted order.
func (s Specification) Serialize(pretty bool) ([]byte, error) {
	s = s.normalized()
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(s, "", "    ")
	} else {
		out, err = json.Marshal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("serialize specification %s: %w", s.Name, err)
	}
	return out, nil
}

// Deserialize decodes a JSON specification. Absent collections decode as empty.
func Deserialize(data []byte) (Specification, error) {
	var spec Specification
	if err := json.Unmarshal(data, &spec); err != nil {
		return Specification{}, fmt.Errorf("%w: %v", ErrInvalidSpecification, err)
	}
	return spec.normalized(), nil
}

// ResolveSpecification accepts either an inline JSON document or a path to a
// file containing one.
func ResolveSpecification(body []byte) (Specification, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Specification{}, fmt.Errorf("%w: empty task body", ErrInvalidSpecification)
	}
	if !strings.HasPrefix(trimmed, "{") {
		// #nosec G304 -- task bodies may reference a specification file on the worker host.
		data, err := os.ReadFile(filepath.Clean(trimmed))
		if err != nil {
			return Specification{}, fmt.Errorf("%w: read specification file: %v", ErrInvalidSpecification, err)
		}
		return Deserialize(data)
	}
	return Deserialize([]byte(trimmed))
}

// WithDefaults fills empty output and log directories beneath the given roots,
// one directory per crawl name, and picks the paragraph parser and CSV
// pipeline when none are named.
func (s Specification) WithDefaults(outputRoot, logRoot string) Specification {
	s = s.normalized()
	if s.Output == "" && outputRoot != "" && s.Name != "" {
		s.Output = filepath.Join(outputRoot, s.Name)
	}
	if s.Logs == "" && logRoot != "" && s.Name != "" {
		s.Logs = filepath.Join(logRoot, s.Name)
	}
	s.Parser = Canonical(s.Parser)
	if s.Parser == "" {
		s.Parser = ParserParagraph
	}
	s.Pipelines = canonicalKeys(s.Pipelines)
	s.Finalizers = canonicalKeys(s.Finalizers)
	if len(s.Pipelines) == 0 {
		switch s.Parser {
		case ParserRaw:
			s.Pipelines[PipelineRawHTML] = 300
		default:
			s.Pipelines[PipelineParagraphCSV] = 300
		}
	}
	return s
}

// Validate checks the fields a crawl cannot run without and that every
// component key is registered.
func (s Specification) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if s.Output == "" {
		problems = append(problems, "output is required")
	}
	if len(s.URLs) == 0 {
		problems = append(problems, "at least one url is required")
	}
	for _, expr := range append(append([]string{}, s.Blacklist...), s.Whitelist...) {
		if _, err := regexp.Compile(expr); err != nil {
			problems = append(problems, fmt.Sprintf("bad pattern %q: %v", expr, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSpecification, strings.Join(problems, "; "))
	}

	if !IsParser(s.Parser) {
		return fmt.Errorf("%w: parser %q", ErrUnknownComponent, s.Parser)
	}
	for name := range s.Pipelines {
		if !IsPipeline(name) {
			return fmt.Errorf("%w: pipeline %q", ErrUnknownComponent, name)
		}
	}
	for name := range s.Finalizers {
		if !IsFinalizer(name) {
			return fmt.Errorf("%w: finalizer %q", ErrUnknownComponent, name)
		}
	}
	return nil
}

// FinalizerNames returns the finalizer keys in a stable order.
func (s Specification) FinalizerNames() []string {
	return sortedKeys(s.Finalizers)
}

func canonicalKeys[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[Canonical(k)] = v
	}
	return out
}

func (s Specification) normalized() Specification {
	if s.URLs == nil {
		s.URLs = []string{}
	}
	if s.Blacklist == nil {
		s.Blacklist = []string{}
	}
	if s.Whitelist == nil {
		s.Whitelist = []string{}
	}
	if s.ParserData == nil {
		s.ParserData = map[string]any{}
	}
	if s.Pipelines == nil {
		s.Pipelines = map[string]int{}
	}
	if s.Finalizers == nil {
		s.Finalizers = map[string]map[string]any{}
	}
	return s
}
