// Package parser extracts code entities, imports, and call sites from
// source files so the store package can build a code graph from them.
package parser

// Entity is one code element discovered in a source file: a module,
// class, function, or method.
type Entity struct {
	Name       string
	Kind       string // "module", "class", "function", "method"
	Code       string
	Intent     string // docstring or leading comment, when present
	ParentName string // containing class, for methods
	StartLine  int
	EndLine    int
}

// Import is one import statement found in a source file.
type Import struct {
	ModuleName string
	IsRelative bool
	LineNumber int
}

// Call is one call site found in a source file, attributed to whichever
// function or method body it appears inside.
type Call struct {
	CallerName string
	CalleeName string
	LineNumber int
}

// Result is everything a Parser extracts from a single file.
type Result struct {
	FilePath string
	Entities []Entity
	Imports  []Import
	Calls    []Call
}

// Parser extracts a Result from one source file's content.
type Parser interface {
	// Parse extracts entities, imports, and calls from source content.
	// path names the file's module entity and gives error context; no
	// import resolution happens here.
	Parse(path string, content []byte) (*Result, error)

	// SupportedExtensions lists the file extensions this parser handles,
	// each including the leading dot (e.g. ".py").
	SupportedExtensions() []string

	// Language returns a short lowercase language identifier (e.g. "py").
	Language() string
}

// Registry dispatches a file path to the Parser registered for its extension.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: map[string]Parser{}}
}

// Register adds p for each of its supported extensions, last registration wins.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		r.byExt[ext] = p
	}
}

// For returns the parser registered for path's extension, if any.
func (r *Registry) For(path string) (Parser, bool) {
	ext := extOf(path)
	p, ok := r.byExt[ext]
	return p, ok
}

// Extensions returns every extension with a registered parser.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

func extOf(path string) string {
	dot := -1
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return ""
	}
	return path[dot:]
}
