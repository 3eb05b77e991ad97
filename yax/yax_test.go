package yax

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/japanese"

	"datx/symbols"
)

type rec struct {
	level byte
	hash  uint32
	text  string // empty means no text content
}

// buildBuffer lays out a tree file: node count, fixed 9-byte records, then
// the zero-terminated Shift-JIS string table.
func buildBuffer(t *testing.T, recs []rec) []byte {
	t.Helper()

	offsets := make([]uint32, len(recs))
	pos := uint32(4 + 9*len(recs))
	var table bytes.Buffer
	enc := japanese.ShiftJIS.NewEncoder()
	for i, r := range recs {
		if r.text == "" {
			continue
		}
		encoded, err := enc.Bytes([]byte(r.text))
		if err != nil {
			t.Fatalf("Failed to encode %q as Shift-JIS: %v", r.text, err)
		}
		offsets[i] = pos
		table.Write(encoded)
		table.WriteByte(0)
		pos += uint32(len(encoded)) + 1
	}

	var buf bytes.Buffer
	le := func(v uint32) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	le(uint32(len(recs)))
	for i, r := range recs {
		buf.WriteByte(r.level)
		le(r.hash)
		le(offsets[i])
	}
	buf.Write(table.Bytes())
	return buf.Bytes()
}

func testTables() *symbols.Tables {
	return symbols.New(
		map[uint32]string{
			symbols.TagHash("node"):  "node",
			symbols.TagHash("name"):  "name",
			symbols.TagHash("value"): "value",
			symbols.TagHash("text"):  "text",
		},
		map[string]string{"攻撃": "Attack"},
	)
}

func TestDecode(t *testing.T) {
	d := NewDecoder(testTables())
	data := buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("node")},
		{level: 1, hash: symbols.TagHash("name"), text: "hello"},
		{level: 1, hash: symbols.TagHash("value"), text: "攻撃"},
	})

	doc, err := d.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(doc.Roots) != 1 {
		t.Fatalf("Decode() produced %d roots, want 1", len(doc.Roots))
	}
	root := doc.Roots[0]
	if root.TagName != "node" || root.Text != "" {
		t.Errorf("root = %q text %q, want \"node\" with no text", root.TagName, root.Text)
	}
	if len(root.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(root.Children))
	}
	if got := root.Children[0]; got.TagName != "name" || got.Text != "hello" {
		t.Errorf("first child = %q text %q, want name/hello", got.TagName, got.Text)
	}
	if got := root.Children[1]; got.TagName != "value" || got.Text != "攻撃" {
		t.Errorf("second child = %q text %q, want value/攻撃", got.TagName, got.Text)
	}
	if len(root.Children[0].Children) != 0 {
		t.Error("siblings at the same level must not nest")
	}
}

func TestDecodeMultipleRoots(t *testing.T) {
	d := NewDecoder(testTables())
	doc, err := d.Decode(buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("node")},
		{level: 0, hash: symbols.TagHash("node")},
	}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(doc.Roots) != 2 {
		t.Errorf("Decode() produced %d roots, want 2", len(doc.Roots))
	}
}

func TestDecodeReparenting(t *testing.T) {
	// levels 0,1,2,1: the fourth node must attach to the root, next to the
	// second, closing the deeper branch
	d := NewDecoder(testTables())
	doc, err := d.Decode(buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("node")},
		{level: 1, hash: symbols.TagHash("name")},
		{level: 2, hash: symbols.TagHash("text")},
		{level: 1, hash: symbols.TagHash("value")},
	}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	root := doc.Roots[0]
	if len(root.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(root.Children))
	}
	if len(root.Children[0].Children) != 1 || root.Children[0].Children[0].TagName != "text" {
		t.Error("level-2 node did not attach under the level-1 node")
	}
	if len(root.Children[1].Children) != 0 {
		t.Error("closing a branch must not carry children over")
	}
}

func TestDecodeMalformed(t *testing.T) {
	d := NewDecoder(testTables())
	for _, tc := range []struct {
		name string
		recs []rec
	}{
		{"level skip", []rec{
			{level: 0, hash: symbols.TagHash("node")},
			{level: 2, hash: symbols.TagHash("name")},
		}},
		{"indented first node", []rec{
			{level: 1, hash: symbols.TagHash("node")},
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode(buildBuffer(t, tc.recs))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	d := NewDecoder(testTables())
	data := buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("node")},
		{level: 1, hash: symbols.TagHash("name")},
	})
	// node count of 2 with only one full record left
	if _, err := d.Decode(data[:10]); err == nil {
		t.Error("Decode() accepted a truncated record stream")
	}
	if _, err := d.Decode(nil); err == nil {
		t.Error("Decode() accepted an empty buffer")
	}
}

func TestDecodeHugeNodeCount(t *testing.T) {
	// the count must be rejected before the node slice is sized
	d := NewDecoder(testTables())
	if _, err := d.Decode([]byte{0xff, 0xff, 0xff, 0xff}); err == nil {
		t.Error("Decode() accepted a node count that cannot fit the buffer")
	}
}

func TestWriteXML(t *testing.T) {
	d := NewDecoder(testTables())
	nameHash := symbols.TagHash("name")
	data := buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("node")},
		{level: 1, hash: nameHash, text: fmt.Sprintf("0x%x", nameHash)},
		{level: 1, hash: symbols.TagHash("value"), text: "攻撃"},
		{level: 1, hash: 0xdeadbeef, text: "mystery"},
		{level: 1, hash: symbols.TagHash("text"), text: `say &quot;hi&quot;`},
	})
	doc, err := d.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	var out bytes.Buffer
	if err := d.WriteXML(&out, doc, true); err != nil {
		t.Fatalf("WriteXML() error = %v", err)
	}
	got := out.String()

	if !strings.HasPrefix(got, `<?xml version="1.0" encoding="utf-8"?>`) {
		t.Errorf("output does not start with the XML declaration:\n%s", got)
	}
	for _, want := range []string{
		"<root>",
		`<name str="name">`,
		`<value eng="Attack">攻撃</value>`,
		fmt.Sprintf(`<UNKNOWN id="0x%x">mystery</UNKNOWN>`, uint32(0xdeadbeef)),
		`<text>say ""hi""</text>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}

	// the same buffer must always render identically
	doc2, err := d.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	var out2 bytes.Buffer
	if err := d.WriteXML(&out2, doc2, true); err != nil {
		t.Fatalf("WriteXML() error = %v", err)
	}
	if got != out2.String() {
		t.Error("two decodes of the same buffer rendered differently")
	}
}

func TestWriteXMLPlain(t *testing.T) {
	d := NewDecoder(testTables())
	nameHash := symbols.TagHash("name")
	doc, err := d.Decode(buildBuffer(t, []rec{
		{level: 0, hash: 0xdeadbeef},
		{level: 1, hash: nameHash, text: fmt.Sprintf("0x%x", nameHash)},
		{level: 1, hash: symbols.TagHash("value"), text: "攻撃"},
	}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	var out bytes.Buffer
	if err := d.WriteXML(&out, doc, false); err != nil {
		t.Fatalf("WriteXML() error = %v", err)
	}
	got := out.String()
	for _, attr := range []string{"str=", "eng=", "id="} {
		if strings.Contains(got, attr) {
			t.Errorf("plain output carries annotation %q:\n%s", attr, got)
		}
	}
	if !strings.Contains(got, "<UNKNOWN>") {
		t.Error("unresolved tags must still render as UNKNOWN without annotations")
	}
}

func TestWriteXMLHexPrefixSkipsTranslation(t *testing.T) {
	// a 0x prefix claims the text for the reference branch: even when the
	// reference is invalid and a translation exists, no eng attribute appears
	d := NewDecoder(symbols.New(
		map[uint32]string{symbols.TagHash("name"): "name"},
		map[string]string{"0x攻撃": "Hex attack"},
	))
	doc, err := d.Decode(buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("name"), text: "0x攻撃"},
	}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	var out bytes.Buffer
	if err := d.WriteXML(&out, doc, true); err != nil {
		t.Fatalf("WriteXML() error = %v", err)
	}
	got := out.String()
	if strings.Contains(got, "eng=") || strings.Contains(got, "str=") {
		t.Errorf("hex-prefixed text must not be annotated:\n%s", got)
	}
	if !strings.Contains(got, "0x攻撃") {
		t.Errorf("text content was lost:\n%s", got)
	}
}

func TestHexReference(t *testing.T) {
	for _, tc := range []struct {
		text string
		hash uint32
		ok   bool
	}{
		{"0x1a2b", 0x1a2b, true},
		{"0xDEADBEEF", 0xdeadbeef, true},
		{"0x0", 0, false},         // zero is not a reference
		{"1a2b", 0, false},        // no prefix
		{"0x", 0, false},          // no digits
		{"0xzz", 0, false},        // not hex
		{"0x1ffffffff", 0, false}, // does not fit 32 bits
	} {
		hash, ok := hexReference(tc.text)
		if ok != tc.ok || hash != tc.hash {
			t.Errorf("hexReference(%q) = %#x, %v, want %#x, %v", tc.text, hash, ok, tc.hash, tc.ok)
		}
	}
}

func TestConvertFile(t *testing.T) {
	d := NewDecoder(testTables())
	dir := t.TempDir()
	src := filepath.Join(dir, "0.yax")
	dst := filepath.Join(dir, "0.xml")

	data := buildBuffer(t, []rec{
		{level: 0, hash: symbols.TagHash("node")},
		{level: 1, hash: symbols.TagHash("name"), text: "hello"},
	})
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := d.ConvertFile(src, dst, true); err != nil {
		t.Fatalf("ConvertFile() error = %v", err)
	}
	out, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ConvertFile() wrote nothing: %v", err)
	}
	if !strings.Contains(string(out), "<name>hello</name>") {
		t.Errorf("unexpected XML body:\n%s", out)
	}

	if err := d.ConvertFile(filepath.Join(dir, "missing.yax"), dst, true); err == nil {
		t.Error("ConvertFile() succeeded on a missing source")
	}
}
