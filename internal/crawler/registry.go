package crawler

import "sort"

// Parser keys.
const (
	ParserParagraph = "paragraph"
	ParserRaw       = "raw"
)

// Pipeline keys.
const (
	PipelineParagraphCSV = "paragraph_csv"
	PipelineRawHTML      = "raw_html"
)

// Finalizer keys.
const (
	FinalizerRemote    = "remote"
	FinalizerRemoteRaw = "remote_raw"
)

// aliases maps the dotted class paths used by older task producers onto
// registry keys.
var aliases = map[string]string{
	"parsers.ParagraphParser":         ParserParagraph,
	"pipelines.Paragraph2CsvPipeline": PipelineParagraphCSV,
	"pipelines.RemoteCrawlFinalizer":  FinalizerRemote,
}

var (
	parsers    = map[string]struct{}{ParserParagraph: {}, ParserRaw: {}}
	pipelines  = map[string]struct{}{PipelineParagraphCSV: {}, PipelineRawHTML: {}}
	finalizers = map[string]struct{}{FinalizerRemote: {}, FinalizerRemoteRaw: {}}
)

// Canonical returns the registry key for name, resolving legacy aliases.
func Canonical(name string) string {
	if key, ok := aliases[name]; ok {
		return key
	}
	return name
}

// IsParser reports whether name is a registered parser.
func IsParser(name string) bool {
	_, ok := parsers[name]
	return ok
}

// IsPipeline reports whether name is a registered pipeline.
func IsPipeline(name string) bool {
	_, ok := pipelines[name]
	return ok
}

// IsFinalizer reports whether name is a registered finalizer.
func IsFinalizer(name string) bool {
	_, ok := finalizers[name]
	return ok
}

// Components lists every registered key, grouped by kind.
func Components() map[string][]string {
	return map[string][]string{
		"parsers":    sortedKeys(parsers),
		"pipelines":  sortedKeys(pipelines),
		"finalizers": sortedKeys(finalizers),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
