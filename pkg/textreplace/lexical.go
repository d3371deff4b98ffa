package textreplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Lexical node keys used by the walker and the plain-text projection.
const (
	KeyText     = "text"
	KeyChildren = "children"
	KeyRoot     = "root"
)

// DecodeLexical parses a serialized Lexical document into a generic tree.
//
// Numbers are kept as json.Number so that re-encoding reproduces them
// exactly (format bitmasks, indents, versions).
func DecodeLexical(serialized string) (any, error) {
	if strings.TrimSpace(serialized) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(serialized))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode lexical: %w", err)
	}
	return tree, nil
}

// EncodeLexical serializes a tree produced by DecodeLexical.
func EncodeLexical(tree any) (string, error) {
	if tree == nil {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return "", fmt.Errorf("encode lexical: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// FlattenText projects a Lexical tree to plain text.
//
// Text leaves of the same block are concatenated without a separator, so a
// phrase split across bold or italic runs reads as one string. Blocks are
// separated by newlines.
//
// Only "children" arrays and a top-level "root" wrapper are followed. Text
// held under any other key, such as a node's caption or a card payload, is
// not part of the projection.
func FlattenText(tree any) string {
	var sb strings.Builder
	flatten(tree, &sb, 0)
	return strings.Trim(sb.String(), "\n")
}

func flatten(node any, sb *strings.Builder, depth int) {
	if depth > DefaultMaxDepth {
		return
	}

	switch n := node.(type) {
	case map[string]any:
		if text, ok := n[KeyText].(string); ok {
			sb.WriteString(text)
		}
		children, ok := n[KeyChildren].([]any)
		if !ok {
			// Root wrapper: {"root": {...}}
			if root, ok := n[KeyRoot]; ok {
				flatten(root, sb, depth+1)
			}
			return
		}
		block := !inlineOnly(children)
		for _, child := range children {
			flatten(child, sb, depth+1)
			if block {
				sb.WriteByte('\n')
			}
		}
	case []any:
		for _, item := range n {
			flatten(item, sb, depth+1)
		}
	}
}

// inlineOnly reports whether every child is a leaf (carries no children).
func inlineOnly(children []any) bool {
	for _, c := range children {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if _, has := m[KeyChildren]; has {
			return false
		}
	}
	return true
}
