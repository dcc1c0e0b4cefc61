// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"context"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language identifies a supported source language.
type Language string

const (
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
)

// languageByExt maps file extensions to languages.
var languageByExt = map[string]Language{
	".py":  LangPython,
	".go":  LangGo,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".cjs": LangJavaScript,
	".ts":  LangTypeScript,
	".mts": LangTypeScript,
	".cts": LangTypeScript,
	".tsx": LangTSX,
}

// LanguageFor returns the language of a file by extension.
func LanguageFor(file string) (Language, bool) {
	lang, ok := languageByExt[strings.ToLower(path.Ext(file))]
	return lang, ok
}

// isScript reports whether lang resolves imports the JS/TS way.
func (l Language) isScript() bool {
	return l == LangJavaScript || l == LangTypeScript || l == LangTSX
}

func (l Language) grammar() *sitter.Language {
	switch l {
	case LangPython:
		return python.GetLanguage()
	case LangGo:
		return golang.GetLanguage()
	case LangJavaScript:
		return javascript.GetLanguage()
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangTSX:
		return tsx.GetLanguage()
	default:
		return nil
	}
}

// rawImport is one import as written in source, before resolution.
type rawImport struct {
	// Module is the imported module or specifier: "a.b", "./x", "example.com/m/pkg".
	Module string

	// Level is the number of leading dots of a Python relative import.
	Level int

	// Names are the names of a Python from-import ("from m import a, b").
	Names []string
}

// parsed is the extraction result for one file.
type parsed struct {
	imports  []rawImport
	hasError bool
}

// extractImports parses content and returns its imports.
//
// # Description
//
// A fresh parser is created per call; tree-sitter parsers are not safe
// for concurrent use. When the tree contains syntax errors the file is
// reported with hasError and no imports, so a broken file is a node
// with zero edges rather than a source of half-parsed edges.
func extractImports(ctx context.Context, lang Language, content []byte) (parsed, error) {
	grammar := lang.grammar()
	if grammar == nil {
		return parsed{}, fmt.Errorf("unsupported language %q", lang)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return parsed{}, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return parsed{hasError: true}, nil
	}

	var imports []rawImport
	switch lang {
	case LangPython:
		imports = pythonImports(root, content)
	case LangGo:
		imports = goImports(root, content)
	default:
		imports = scriptImports(root, content)
	}
	return parsed{imports: imports}, nil
}

// =============================================================================
// Python
// =============================================================================

// pythonImports collects import statements anywhere in the module,
// including ones nested in try/if blocks and function bodies.
func pythonImports(root *sitter.Node, content []byte) []rawImport {
	var out []rawImport
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			out = append(out, pythonImportStatement(n, content)...)
			return false
		case "import_from_statement":
			if imp, ok := pythonFromStatement(n, content); ok {
				out = append(out, imp)
			}
			return false
		case "future_import_statement":
			return false
		}
		return true
	})
	return out
}

// pythonImportStatement handles "import a.b" and "import a.b as c, d".
func pythonImportStatement(node *sitter.Node, content []byte) []rawImport {
	var out []rawImport
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			out = append(out, rawImport{Module: child.Content(content)})
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				out = append(out, rawImport{Module: name.Content(content)})
			}
		}
	}
	return out
}

// pythonFromStatement handles "from m import a", "from . import a",
// "from ..m import *" and "from m import (a as b, c)".
func pythonFromStatement(node *sitter.Node, content []byte) (rawImport, bool) {
	var imp rawImport
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return imp, false
	}

	switch moduleNode.Type() {
	case "relative_import":
		for j := 0; j < int(moduleNode.ChildCount()); j++ {
			part := moduleNode.Child(j)
			switch part.Type() {
			case "import_prefix":
				imp.Level = strings.Count(part.Content(content), ".")
			case "dotted_name":
				imp.Module = part.Content(content)
			}
		}
	default:
		imp.Module = moduleNode.Content(content)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.StartByte() == moduleNode.StartByte() && child.EndByte() == moduleNode.EndByte() {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			imp.Names = append(imp.Names, child.Content(content))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				imp.Names = append(imp.Names, name.Content(content))
			}
		}
	}
	return imp, true
}

// =============================================================================
// Go
// =============================================================================

// goImports handles single and grouped import declarations, with or
// without a package alias, blank or dot import.
func goImports(root *sitter.Node, content []byte) []rawImport {
	var out []rawImport
	for i := 0; i < int(root.ChildCount()); i++ {
		decl := root.Child(i)
		if decl.Type() != "import_declaration" {
			continue
		}
		for j := 0; j < int(decl.ChildCount()); j++ {
			child := decl.Child(j)
			switch child.Type() {
			case "import_spec":
				if p := goImportPath(child, content); p != "" {
					out = append(out, rawImport{Module: p})
				}
			case "import_spec_list":
				for k := 0; k < int(child.ChildCount()); k++ {
					spec := child.Child(k)
					if spec.Type() != "import_spec" {
						continue
					}
					if p := goImportPath(spec, content); p != "" {
						out = append(out, rawImport{Module: p})
					}
				}
			}
		}
	}
	return out
}

func goImportPath(spec *sitter.Node, content []byte) string {
	pathNode := spec.ChildByFieldName("path")
	if pathNode == nil {
		return ""
	}
	return strings.Trim(pathNode.Content(content), "\"`")
}

// =============================================================================
// JavaScript / TypeScript
// =============================================================================

// scriptImports handles ES imports, re-exports, require() and dynamic import().
func scriptImports(root *sitter.Node, content []byte) []rawImport {
	var out []rawImport
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement", "export_statement":
			if src := n.ChildByFieldName("source"); src != nil {
				if s := stringContent(src, content); s != "" {
					out = append(out, rawImport{Module: s})
				}
				return false
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn == nil || args == nil {
				return true
			}
			isRequire := fn.Type() == "identifier" && fn.Content(content) == "require"
			isDynamic := fn.Type() == "import"
			if (isRequire || isDynamic) && args.NamedChildCount() > 0 {
				first := args.NamedChild(0)
				if first.Type() == "string" {
					if s := stringContent(first, content); s != "" {
						out = append(out, rawImport{Module: s})
					}
				}
			}
		}
		return true
	})
	return out
}

// stringContent returns the text of a string literal node without quotes.
func stringContent(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "string_fragment" {
			return child.Content(content)
		}
	}
	return strings.Trim(node.Content(content), `"'`+"`")
}

// walk visits n and its descendants depth-first. visit returns false to
// skip a node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}
