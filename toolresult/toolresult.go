// Package toolresult interprets the content returned by a tool call:
// the flattened text shown to the model and the user, and a typed view
// that separates code from prose.
package toolresult

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/effective-security/mcpbridge/mcp"
	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Kind is the variant of a tool result
type Kind string

const (
	// KindText is plain text or markdown
	KindText Kind = "text"
	// KindCode is generated source, such as a dashboard configuration
	KindCode Kind = "code"
	// KindData is non-text content, such as images or resources
	KindData Kind = "data"
)

// CodeBlock is a fenced block found in a text result
type CodeBlock struct {
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Code     string `json:"code" yaml:"code"`
}

// Result is the typed view of a tool call result
type Result struct {
	Kind     Kind        `json:"kind" yaml:"kind"`
	Text     string      `json:"text" yaml:"text"`
	Language string      `json:"language,omitempty" yaml:"language,omitempty"`
	Code     string      `json:"code,omitempty" yaml:"code,omitempty"`
	Blocks   []CodeBlock `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	IsError  bool        `json:"is_error,omitempty" yaml:"is_error,omitempty"`
}

// Flatten returns the textual form of the result content:
// text blocks are concatenated in order, other blocks are
// rendered as compact JSON.
func Flatten(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var buf strings.Builder
	for _, block := range res.Content {
		b := gjson.ParseBytes(block)
		if b.Get("type").String() == "text" {
			buf.WriteString(b.Get("text").String())
			continue
		}
		buf.Write(compact(block))
	}
	return buf.String()
}

// ContentJSON returns the content array as JSON, the form sent to the model
// as the tool message.
func ContentJSON(res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return "[]"
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, block := range res.Content {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(compact(block))
	}
	buf.WriteByte(']')
	return buf.String()
}

// Parse returns the typed view of the result.
// Structured content with a "code" field wins, then fenced code blocks
// in the text, then non-text content; anything else is text.
func Parse(res *mcp.CallToolResult) Result {
	r := Result{
		Kind: KindText,
		Text: Flatten(res),
	}
	if res == nil {
		return r
	}
	r.IsError = res.IsError

	if len(res.StructuredContent) > 0 {
		sc := gjson.ParseBytes(res.StructuredContent)
		if code := sc.Get("code"); code.Type == gjson.String {
			r.Kind = KindCode
			r.Code = code.String()
			r.Language = sc.Get("language").String()
			r.Blocks = []CodeBlock{{Language: r.Language, Code: r.Code}}
			return r
		}
	}

	if blocks := ExtractCodeBlocks(r.Text); len(blocks) > 0 {
		r.Kind = KindCode
		r.Blocks = blocks
		r.Language = blocks[0].Language
		r.Code = blocks[0].Code
		return r
	}

	if len(res.Content) > 0 && !hasText(res.Content) {
		r.Kind = KindData
	}
	return r
}

// ExtractCodeBlocks returns the fenced code blocks of a markdown text, in order
func ExtractCodeBlocks(md string) []CodeBlock {
	if !strings.Contains(md, "```") && !strings.Contains(md, "~~~") {
		return nil
	}
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var code strings.Builder
		lines := fb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			code.Write(seg.Value(src))
		}
		blocks = append(blocks, CodeBlock{
			Language: string(fb.Language(src)),
			Code:     code.String(),
		})
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

func hasText(content []json.RawMessage) bool {
	for _, block := range content {
		if gjson.GetBytes(block, "type").String() == "text" {
			return true
		}
	}
	return false
}

func compact(block json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, block); err != nil {
		// keep the block visible even if the host sent invalid JSON
		js, _ := json.Marshal(string(block))
		return js
	}
	return buf.Bytes()
}
