// Package symbols finds file-scope C/C++ definitions in a generated library
// tree and reports names that would collide at compile or link time.
package symbols

import (
	"fmt"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
)

// Kind classifies a definition.
type Kind string

const (
	KindFunction Kind = "function"
	KindVariable Kind = "variable"
)

// Definition is one file-scope definition.
type Definition struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	File string `json:"file"`
	Line int    `json:"line"`
	// External is false for static and top-level const objects, which have
	// internal linkage and only collide within their own file.
	External bool `json:"external"`
}

// Collision lists every definition of a name defined more than once.
type Collision struct {
	Name        string       `json:"name"`
	Definitions []Definition `json:"definitions"`
}

func (c Collision) String() string {
	locs := make([]string, len(c.Definitions))
	for i, d := range c.Definitions {
		locs[i] = fmt.Sprintf("%s:%d", d.File, d.Line)
	}
	return c.Name + " defined at " + strings.Join(locs, ", ")
}

// Extractor parses C++ sources with tree-sitter. A new tree-sitter parser is
// created per call, so an Extractor is safe for sequential use only.
type Extractor struct {
	lang *tree_sitter.Language
}

// NewExtractor creates an Extractor with the C++ grammar loaded.
func NewExtractor() *Extractor {
	return &Extractor{lang: tree_sitter.NewLanguage(tree_sitter_cpp.Language())}
}

// Definitions returns the file-scope definitions in source. Declarations
// without a body (prototypes, extern declarations) are not definitions.
func (e *Extractor) Definitions(path string, source []byte) ([]Definition, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(e.lang); err != nil {
		return nil, fmt.Errorf("symbols: set language: %w", err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("symbols: tree-sitter returned nil tree for %s", path)
	}
	defer tree.Close()

	var defs []Definition
	w := walker{source: source, file: path, out: &defs}
	w.scope(tree.RootNode(), "")
	return defs, nil
}

type walker struct {
	source []byte
	file   string
	out    *[]Definition
}

// scope visits the direct children of a translation unit, namespace body or
// preprocessor block.
func (w walker) scope(node *tree_sitter.Node, prefix string) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "function_definition":
			w.function(child, prefix)
		case "declaration":
			w.declaration(child, prefix)
		case "namespace_definition":
			ns := prefix
			if name := child.ChildByFieldName("name"); name != nil {
				ns = prefix + name.Utf8Text(w.source) + "::"
			}
			if body := child.ChildByFieldName("body"); body != nil {
				w.scope(body, ns)
			}
		case "linkage_specification":
			// extern "C" { ... } defines; extern "C" int x; only declares.
			if body := child.ChildByFieldName("body"); body != nil && body.Kind() == "declaration_list" {
				w.scope(body, prefix)
			} else if body != nil && body.Kind() == "function_definition" {
				w.function(body, prefix)
			}
		case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "declaration_list":
			w.scope(child, prefix)
		}
	}
}

func (w walker) function(node *tree_sitter.Node, prefix string) {
	decl := node.ChildByFieldName("declarator")
	if decl == nil {
		return
	}
	name := declaratorName(decl, w.source)
	if name == "" {
		return
	}
	w.add(Definition{
		Name:     qualify(prefix, name),
		Kind:     KindFunction,
		Line:     int(node.StartPosition().Row) + 1,
		External: !hasSpecifier(node, w.source, "storage_class_specifier", "static"),
	})
}

func (w walker) declaration(node *tree_sitter.Node, prefix string) {
	if hasSpecifier(node, w.source, "storage_class_specifier", "extern") {
		return
	}
	static := hasSpecifier(node, w.source, "storage_class_specifier", "static")
	constant := hasSpecifier(node, w.source, "type_qualifier", "const")

	cursor := node.Walk()
	defer cursor.Close()
	for _, decl := range node.ChildrenByFieldName("declarator", cursor) {
		if isFunctionDeclarator(&decl) {
			continue
		}
		name := declaratorName(&decl, w.source)
		if name == "" {
			continue
		}
		w.add(Definition{
			Name:     qualify(prefix, name),
			Kind:     KindVariable,
			Line:     int(decl.StartPosition().Row) + 1,
			External: !static && !(constant && !isPointerDeclarator(&decl)),
		})
	}
}

func (w walker) add(d Definition) {
	d.File = w.file
	*w.out = append(*w.out, d)
}

func qualify(prefix, name string) string {
	if strings.Contains(name, "::") {
		return name
	}
	return prefix + name
}

func hasSpecifier(node *tree_sitter.Node, source []byte, kind, text string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		if c != nil && c.Kind() == kind && c.Utf8Text(source) == text {
			return true
		}
	}
	return false
}

// declaratorName unwraps init/pointer/array/reference/function declarators
// down to the declared identifier.
func declaratorName(node *tree_sitter.Node, source []byte) string {
	for node != nil {
		switch node.Kind() {
		case "identifier", "field_identifier", "qualified_identifier", "operator_name", "destructor_name":
			return node.Utf8Text(source)
		}
		next := node.ChildByFieldName("declarator")
		if next == nil && node.NamedChildCount() > 0 {
			next = node.NamedChild(0)
		}
		node = next
	}
	return ""
}

func isFunctionDeclarator(node *tree_sitter.Node) bool {
	for node != nil {
		switch node.Kind() {
		case "function_declarator":
			return true
		case "init_declarator", "pointer_declarator", "reference_declarator", "parenthesized_declarator":
			node = node.ChildByFieldName("declarator")
			if node == nil {
				return false
			}
		default:
			return false
		}
	}
	return false
}

func isPointerDeclarator(node *tree_sitter.Node) bool {
	if node.Kind() == "init_declarator" {
		node = node.ChildByFieldName("declarator")
	}
	return node != nil && node.Kind() == "pointer_declarator"
}

// Collisions groups definitions by name and returns those that clash: the
// same name defined twice in one file, or an externally visible name defined
// in more than one file. Results are sorted by name.
func Collisions(defs []Definition) []Collision {
	byName := make(map[string][]Definition)
	for _, d := range defs {
		byName[d.Name] = append(byName[d.Name], d)
	}

	var out []Collision
	for name, group := range byName {
		if len(group) < 2 || !clashes(group) {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].File != group[j].File {
				return group[i].File < group[j].File
			}
			return group[i].Line < group[j].Line
		})
		out = append(out, Collision{Name: name, Definitions: group})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func clashes(group []Definition) bool {
	perFile := make(map[string]int)
	external := 0
	for _, d := range group {
		perFile[d.File]++
		if perFile[d.File] > 1 {
			return true
		}
		if d.External {
			external++
		}
	}
	return external > 1
}
