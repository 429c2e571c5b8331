// Package pandocast is the core's view of the external Markdown processor's
// AST (§6 "the AST parser is external; the core receives parsed ASTs", §9
// "AST as opaque tree... tagged tree with a canonical JSON form"). Only
// block/inline classification, header levels, code-block classes, and link
// targets are inspected here — everything else round-trips untouched.
package pandocast

import "encoding/json"

// Node tags. Block types: Header, CodeBlock, BlockQuote, Para, Plain.
// Inline types: Str, Space, SoftBreak, Link, Code.
const (
	Header     = "Header"
	CodeBlock  = "CodeBlock"
	BlockQuote = "BlockQuote"
	Para       = "Para"
	Plain      = "Plain"
	Str        = "Str"
	Space      = "Space"
	SoftBreak  = "SoftBreak"
	Link       = "Link"
	Code       = "Code"
)

// Attr is a Pandoc-style (id, classes, key/value) attribute triple, carried
// by Header/CodeBlock/Link nodes.
type Attr struct {
	ID      string            `json:"id,omitempty"`
	Classes []string          `json:"classes,omitempty"`
	KeyVals map[string]string `json:"keyvals,omitempty"`
}

// Node is one node of the tagged AST tree. Which fields are populated
// depends on Type: Header/CodeBlock carry Attr; Header/Para/Plain/Link
// carry Inlines; BlockQuote carries Blocks; CodeBlock/Str/Code carry Text;
// Link carries Target (and Inlines for display text); Header carries Level.
type Node struct {
	Type    string  `json:"t"`
	Level   int     `json:"level,omitempty"`
	Attr    *Attr   `json:"attr,omitempty"`
	Text    string  `json:"text,omitempty"`
	Target  string  `json:"target,omitempty"`
	Blocks  []Node  `json:"blocks,omitempty"`
	Inlines []Node  `json:"inlines,omitempty"`
	Line    int     `json:"line,omitempty"` // source line, when known (1-based)
}

// ParseBlocks decodes a top-level AST document (a JSON array of block
// nodes) as stored in a Context or in specir's *_ast columns.
func ParseBlocks(raw []byte) ([]Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var blocks []Node
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// MarshalBlocks is ParseBlocks' inverse, producing the canonical JSON form
// persisted back into the store.
func MarshalBlocks(blocks []Node) ([]byte, error) {
	if blocks == nil {
		blocks = []Node{}
	}
	return json.Marshal(blocks)
}

// PlainText stringifies a run of inlines: Str contributes its text, Space
// and SoftBreak contribute a single space, Link and Code contribute their
// own stringified content.
func PlainText(inlines []Node) string {
	var out []byte
	for _, n := range inlines {
		switch n.Type {
		case Str, Code:
			out = append(out, n.Text...)
		case Space, SoftBreak:
			out = append(out, ' ')
		case Link:
			out = append(out, PlainText(n.Inlines)...)
		default:
			if len(n.Inlines) > 0 {
				out = append(out, PlainText(n.Inlines)...)
			}
		}
	}
	return string(out)
}

// WalkHeaders calls fn for every Header block at any nesting depth,
// including inside BlockQuotes (the object parser walks headers this way).
func WalkHeaders(blocks []Node, fn func(index int, h Node)) {
	for i, b := range blocks {
		if b.Type == Header {
			fn(i, b)
		}
		if len(b.Blocks) > 0 {
			WalkHeaders(b.Blocks, fn)
		}
	}
}

// WalkCodeBlocks calls fn for every CodeBlock at the top level of blocks
// (floats/views/includes are never nested inside a BlockQuote or another
// CodeBlock in the input format, §6).
func WalkCodeBlocks(blocks []Node, fn func(index int, c Node)) {
	for i, b := range blocks {
		if b.Type == CodeBlock {
			fn(i, b)
		}
	}
}

// WalkBlockQuotes calls fn for every top-level BlockQuote. The attribute
// parser does not use it: it walks the top-level blocks itself to see which
// header or float each block quote follows.
func WalkBlockQuotes(blocks []Node, fn func(index int, bq Node)) {
	for i, b := range blocks {
		if b.Type == BlockQuote {
			fn(i, b)
		}
	}
}

// WalkLinks calls fn for every Link inline reachable from blocks, at any
// depth (inside Para/Plain/Header inlines, and recursively inside a link's
// own display-text inlines).
func WalkLinks(blocks []Node, fn func(l Node)) {
	var walkInlines func([]Node)
	walkInlines = func(inlines []Node) {
		for _, n := range inlines {
			if n.Type == Link {
				fn(n)
			}
			if len(n.Inlines) > 0 {
				walkInlines(n.Inlines)
			}
		}
	}
	for _, b := range blocks {
		walkInlines(b.Inlines)
		if len(b.Blocks) > 0 {
			WalkLinks(b.Blocks, fn)
		}
	}
}

// FirstClass returns a node's first class, or "" if it has no Attr or no
// classes — used to read a CodeBlock's float/view-type alias or a Header's
// none (headers carry their level via Level, not classes).
func (n Node) FirstClass() string {
	if n.Attr == nil || len(n.Attr.Classes) == 0 {
		return ""
	}
	return n.Attr.Classes[0]
}
