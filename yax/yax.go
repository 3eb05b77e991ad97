// Package yax decodes the binary tree format: a flat stream of fixed-size
// node records whose hierarchy is encoded in a per-record indentation level,
// followed by a Shift-JIS string table addressed by byte offset. Decoded
// trees serialize to XML with optional symbol-name and translation
// annotations.
package yax

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"datx/cursor"
	"datx/symbols"
)

// ErrMalformed reports a node stream whose indentation levels cannot form a
// tree. The source format never produces such streams, so no repair is
// attempted.
var ErrMalformed = errors.New("yax: malformed node stream")

// Node is one decoded tree node. Nodes own their children exclusively; after
// reconstruction the tree is only read.
type Node struct {
	Indentation  byte
	TagHash      uint32
	StringOffset uint32

	// TagName is the resolved name, or symbols.UnknownTag when the hash is
	// not in the table (TagHash keeps the raw value for annotation).
	TagName string
	// Text is the string table entry at StringOffset, empty when the node
	// has no text. The table never contains empty strings, so "" is
	// unambiguous.
	Text string

	Children []*Node
}

// Document is a decoded tree: the format allows several top-level siblings,
// the XML rendition wraps them in a synthetic <root> element.
type Document struct {
	Roots []*Node
}

// Decoder turns tree buffers into Documents and Documents into XML. The
// symbol tables are shared and read-only, one Decoder may be used from many
// goroutines.
type Decoder struct {
	tables *symbols.Tables
}

func NewDecoder(tables *symbols.Tables) *Decoder {
	return &Decoder{tables: tables}
}

// Decode parses a tree buffer: flat node records, then the trailing string
// table, then hierarchy reconstruction from indentation levels.
func (d *Decoder) Decode(data []byte) (*Document, error) {
	cur := cursor.New(data)

	nodeCount, err := cur.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("yax: node count: %w", err)
	}
	// records are 9 bytes each, reject counts the buffer cannot hold before
	// sizing the slice
	if int64(nodeCount) > int64(cur.Len()-cur.Pos())/9 {
		return nil, fmt.Errorf("yax: node count %d does not fit buffer of %d bytes", nodeCount, cur.Len())
	}

	flat := make([]*Node, 0, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		n, err := d.readNode(cur)
		if err != nil {
			return nil, fmt.Errorf("yax: node %d: %w", i, err)
		}
		flat = append(flat, n)
	}

	// Everything after the node records is zero-terminated strings keyed by
	// their starting byte position. A read yielding no bytes ends the table.
	strTable := make(map[uint32]string)
	for {
		pos := cur.Pos()
		s, ok := cur.ReadZString()
		if !ok {
			break
		}
		strTable[uint32(pos)] = s
	}
	for _, n := range flat {
		// a miss means "no text content", not an error
		n.Text = strTable[n.StringOffset]
	}

	return buildTree(flat)
}

func (d *Decoder) readNode(cur *cursor.Cursor) (*Node, error) {
	b, err := cur.ReadBytes(1)
	if err != nil {
		return nil, err
	}
	n := &Node{Indentation: b[0]}
	if n.TagHash, err = cur.ReadU32(); err != nil {
		return nil, err
	}
	if n.StringOffset, err = cur.ReadU32(); err != nil {
		return nil, err
	}
	if name, ok := d.tables.ResolveTag(n.TagHash); ok {
		n.TagName = name
	} else {
		n.TagName = symbols.UnknownTag
	}
	return n, nil
}

// buildTree re-parents the flat node list. A node at level L attaches as the
// last child of the most recent node at level L-1; the open slice holds the
// current rightmost path indexed by level, so a level that skips past
// len(open) has no ancestor to attach to and the stream is malformed.
func buildTree(flat []*Node) (*Document, error) {
	doc := &Document{}
	open := make([]*Node, 0, 8)
	for i, n := range flat {
		level := int(n.Indentation)
		if level > len(open) {
			return nil, fmt.Errorf("%w: node %d at level %d with deepest open level %d", ErrMalformed, i, level, len(open)-1)
		}
		if level == 0 {
			doc.Roots = append(doc.Roots, n)
		} else {
			parent := open[level-1]
			parent.Children = append(parent.Children, n)
		}
		open = append(open[:level], n)
	}
	return doc, nil
}

// WriteXML serializes the document as a pretty-printed XML file body: UTF-8
// declaration line, synthetic <root> wrapper, tab indentation. When annotate
// is set (the default for the tool), three informational attributes may be
// added per element:
//
//   - str: symbol name, when the text is a non-zero 0x-hex reference present
//     in the tag table;
//   - eng: translation, when the text does not carry the 0x prefix, has
//     non-ASCII bytes and translates;
//   - id: original hash in hex, when the tag itself did not resolve.
func (d *Decoder) WriteXML(w io.Writer, doc *Document, annotate bool) error {
	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	root := x.CreateElement("root")
	for _, n := range doc.Roots {
		d.writeNode(root, n, annotate)
	}

	x.IndentTabs()
	if _, err := x.WriteTo(w); err != nil {
		return fmt.Errorf("yax: write xml: %w", err)
	}
	return nil
}

func (d *Decoder) writeNode(parent *etree.Element, n *Node, annotate bool) {
	el := parent.CreateElement(n.TagName)

	if annotate && len(n.Text) != 0 {
		// a "0x" prefix claims the text for the reference branch even when it
		// is not a valid reference, translation is never attempted on it
		if strings.HasPrefix(n.Text, "0x") {
			if hash, ok := hexReference(n.Text); ok {
				if name, found := d.tables.ResolveTag(hash); found {
					el.CreateAttr("str", name)
				}
			}
		} else if !isASCII(n.Text) {
			if eng, found := d.tables.Translate(n.Text); found {
				el.CreateAttr("eng", eng)
			}
		}
	}
	if annotate && n.TagName == symbols.UnknownTag {
		el.CreateAttr("id", fmt.Sprintf("0x%x", n.TagHash))
	}

	if len(n.Text) != 0 {
		// historical cosmetic rewrite kept for output compatibility
		el.CreateText(strings.ReplaceAll(n.Text, "&quot;", `""`))
	}
	for _, child := range n.Children {
		d.writeNode(el, child, annotate)
	}
}

// ConvertFile decodes the tree file at src and writes its XML rendition to
// dst. This is the single-file boundary operation used by the host adapter
// and by the per-member render fan-out.
func (d *Decoder) ConvertFile(src, dst string, annotate bool) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("yax: %w", err)
	}
	doc, err := d.Decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("yax: %w", err)
	}
	if err := d.WriteXML(out, doc, annotate); err != nil {
		out.Close()
		return fmt.Errorf("%s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("yax: %w", err)
	}
	return nil
}

// hexReference reports whether text looks like a hex-encoded symbol
// reference: 0x prefix, all remaining characters hex digits, non-zero value.
func hexReference(text string) (uint32, bool) {
	digits, ok := strings.CutPrefix(text, "0x")
	if !ok || len(digits) == 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint32(v), true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
