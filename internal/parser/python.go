package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"loom/internal/logging"
)

// PythonParser extracts entities, imports, and calls from Python source
// using Tree-sitter, the same technique the reference implementation's
// python_parser.go uses for its own CodeElement extraction.
type PythonParser struct {
	parser *sitter.Parser
}

// NewPythonParser returns a ready-to-use Python parser.
func NewPythonParser() *PythonParser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &PythonParser{parser: p}
}

func (p *PythonParser) Language() string { return "py" }

func (p *PythonParser) SupportedExtensions() []string { return []string{".py", ".pyw"} }

// Parse walks the Python AST and extracts module/class/function/method
// entities, import statements, and call sites.
func (p *PythonParser) Parse(path string, content []byte) (*Result, error) {
	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		logging.IngestDebug("python parse failed for %s: %v", path, err)
		return nil, err
	}
	defer tree.Close()

	res := &Result{FilePath: path}
	w := &pyWalker{content: content, res: res}

	moduleDoc := w.leadingDocstring(tree.RootNode())
	res.Entities = append(res.Entities, Entity{
		Name:      moduleName(path),
		Kind:      "module",
		Code:      string(content),
		Intent:    moduleDoc,
		StartLine: 1,
		EndLine:   int(tree.RootNode().EndPoint().Row) + 1,
	})

	w.walk(tree.RootNode(), "", "")
	return res, nil
}

type pyWalker struct {
	content []byte
	res     *Result
}

func (w *pyWalker) text(n *sitter.Node) string {
	return string(w.content[n.StartByte():n.EndByte()])
}

// walk recursively visits nodes. parentClass names the enclosing class
// (for method parenting); callerContext names the nearest enclosing
// function/method (for attributing call sites).
func (w *pyWalker) walk(node *sitter.Node, parentClass, callerContext string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			name := fieldText(child, "name", w.content)
			if name == "" {
				continue
			}
			entity := Entity{
				Name:      name,
				Kind:      "class",
				Code:      w.text(child),
				Intent:    w.leadingDocstring(child),
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
			}
			w.res.Entities = append(w.res.Entities, entity)
			if body := child.ChildByFieldName("body"); body != nil {
				w.walk(body, name, callerContext)
			}

		case "function_definition":
			name := fieldText(child, "name", w.content)
			if name == "" {
				continue
			}
			kind := "function"
			qualifiedName := name
			if parentClass != "" {
				kind = "method"
				qualifiedName = parentClass + "." + name
			}
			entity := Entity{
				Name:       qualifiedName,
				Kind:       kind,
				Code:       w.text(child),
				Intent:     w.leadingDocstring(child),
				ParentName: parentClass,
				StartLine:  int(child.StartPoint().Row) + 1,
				EndLine:    int(child.EndPoint().Row) + 1,
			}
			w.res.Entities = append(w.res.Entities, entity)
			if body := child.ChildByFieldName("body"); body != nil {
				w.walk(body, parentClass, qualifiedName)
			}

		case "decorated_definition":
			w.walk(child, parentClass, callerContext)

		case "import_statement":
			w.extractImport(child)

		case "import_from_statement":
			w.extractImportFrom(child)

		case "call":
			w.extractCall(child, callerContext)

		default:
			w.walk(child, parentClass, callerContext)
		}
	}
}

func (w *pyWalker) extractImport(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "dotted_name" || child.Type() == "identifier" {
			w.res.Imports = append(w.res.Imports, Import{
				ModuleName: w.text(child),
				LineNumber: int(node.StartPoint().Row) + 1,
			})
		} else if child.Type() == "aliased_import" {
			if name := child.ChildByFieldName("name"); name != nil {
				w.res.Imports = append(w.res.Imports, Import{
					ModuleName: w.text(name),
					LineNumber: int(node.StartPoint().Row) + 1,
				})
			}
		}
	}
}

func (w *pyWalker) extractImportFrom(node *sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	moduleName := w.text(moduleNode)
	isRelative := strings.HasPrefix(moduleName, ".")
	w.res.Imports = append(w.res.Imports, Import{
		ModuleName: moduleName,
		IsRelative: isRelative,
		LineNumber: int(node.StartPoint().Row) + 1,
	})
}

func (w *pyWalker) extractCall(node *sitter.Node, callerContext string) {
	fn := node.ChildByFieldName("function")
	if fn == nil || callerContext == "" {
		w.walkArguments(node, callerContext)
		return
	}
	name := w.text(fn)
	w.res.Calls = append(w.res.Calls, Call{
		CallerName: callerContext,
		CalleeName: name,
		LineNumber: int(node.StartPoint().Row) + 1,
	})
	w.walkArguments(node, callerContext)
}

// walkArguments descends into a call's argument list so nested calls
// (f(g(x))) are still discovered.
func (w *pyWalker) walkArguments(node *sitter.Node, callerContext string) {
	args := node.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() == "call" {
			w.extractCall(child, callerContext)
		}
	}
}

// leadingDocstring returns the string literal that opens a suite body,
// if any, matching Python's convention of the first statement being the
// docstring.
func (w *pyWalker) leadingDocstring(node *sitter.Node) string {
	body := node.ChildByFieldName("body")
	if body == nil {
		body = node
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() == "expression_statement" && child.NamedChildCount() > 0 {
			expr := child.NamedChild(0)
			if expr.Type() == "string" {
				return strings.Trim(w.text(expr), "\"' \t\n")
			}
		}
		return ""
	}
	return ""
}

func fieldText(node *sitter.Node, field string, content []byte) string {
	n := node.ChildByFieldName(field)
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func moduleName(path string) string {
	base := path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.TrimSuffix(strings.TrimSuffix(base, ".py"), ".pyw")
}
