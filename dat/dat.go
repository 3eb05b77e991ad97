// Package dat reads the outer container archive format: a flat set of named
// member files addressed through offset/size/name tables in the header.
package dat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"datx/cursor"
)

// InfoFileName is the JSON sidecar written next to extracted members.
const InfoFileName = "dat_info.json"

// Header is the fixed container header. All table offsets are absolute
// positions in the archive buffer.
type Header struct {
	ID               string
	FileCount        uint32
	OffsetsOffset    uint32
	ExtensionsOffset uint32
	NamesOffset      uint32
	SizesOffset      uint32
	// HashMapOffset is not needed for extraction but is part of the fixed
	// header and is parsed for completeness.
	HashMapOffset uint32
}

func readHeader(cur *cursor.Cursor) (*Header, error) {
	var (
		h   Header
		err error
	)
	if h.ID, err = cur.ReadString(4); err != nil {
		return nil, err
	}
	for _, field := range []*uint32{
		&h.FileCount, &h.OffsetsOffset, &h.ExtensionsOffset,
		&h.NamesOffset, &h.SizesOffset, &h.HashMapOffset,
	} {
		if *field, err = cur.ReadU32(); err != nil {
			return nil, err
		}
	}
	return &h, nil
}

// Manifest describes one completed extraction. Files are sorted by
// (case-folded stem, case-folded extension) - downstream tooling relies on
// this order being deterministic regardless of the on-disk table order.
type Manifest struct {
	Version  int      `json:"version"`
	Files    []string `json:"files"`
	Basename string   `json:"basename"`
	Ext      string   `json:"ext"`
}

// Extract writes every member of the archive in data to dir and the manifest
// sidecar next to them. srcPath is the path the archive came from, used only
// for manifest basename/ext and error context. Returns the manifest and the
// extracted member paths in manifest order.
//
// An empty archive buffer is not an error: nothing is written and an empty
// manifest is returned.
func Extract(data []byte, srcPath, dir string, log *zap.Logger) (*Manifest, []string, error) {
	base := filepath.Base(srcPath)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	manifest := &Manifest{
		Version:  1,
		Files:    []string{},
		Basename: strings.TrimSuffix(base, filepath.Ext(base)),
		Ext:      ext,
	}

	if len(data) == 0 {
		log.Warn("Empty container archive", zap.String("path", srcPath))
		return manifest, nil, nil
	}

	cur := cursor.New(data)
	h, err := readHeader(cur)
	if err != nil {
		return nil, nil, fmt.Errorf("dat: %s: header: %w", srcPath, err)
	}

	// the count drives every table allocation below, never trust it before
	// checking it can fit in the buffer
	if int64(h.FileCount) > int64(len(data))/4 {
		return nil, nil, fmt.Errorf("dat: %s: file count %d does not fit buffer of %d bytes", srcPath, h.FileCount, len(data))
	}
	count := int(h.FileCount)

	cur.Seek(int(h.OffsetsOffset))
	offsets := make([]uint32, count)
	for i := range offsets {
		if offsets[i], err = cur.ReadU32(); err != nil {
			return nil, nil, fmt.Errorf("dat: %s: offsets table: %w", srcPath, err)
		}
	}

	cur.Seek(int(h.SizesOffset))
	sizes := make([]uint32, count)
	for i := range sizes {
		if sizes[i], err = cur.ReadU32(); err != nil {
			return nil, nil, fmt.Errorf("dat: %s: sizes table: %w", srcPath, err)
		}
	}

	cur.Seek(int(h.NamesOffset))
	nameWidth, err := cur.ReadU32()
	if err != nil {
		return nil, nil, fmt.Errorf("dat: %s: names table: %w", srcPath, err)
	}
	names := make([]string, count)
	for i := range names {
		field, err := cur.ReadString(int(nameWidth))
		if err != nil {
			return nil, nil, fmt.Errorf("dat: %s: names table: %w", srcPath, err)
		}
		// fields are null-padded, not necessarily null-terminated at a
		// fixed point
		name, _, _ := strings.Cut(field, "\x00")
		if !isSafeMemberName(name) {
			return nil, nil, fmt.Errorf("dat: %s: member %d has unsafe name %q", srcPath, i, name)
		}
		names[i] = name
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("dat: %w", err)
	}

	for i := 0; i < count; i++ {
		cur.Seek(int(offsets[i]))
		payload, err := cur.ReadBytes(int(sizes[i]))
		if err != nil {
			return nil, nil, fmt.Errorf("dat: %s: member %q: %w", srcPath, names[i], err)
		}
		if err := os.WriteFile(filepath.Join(dir, names[i]), payload, 0644); err != nil {
			return nil, nil, fmt.Errorf("dat: member %q: %w", names[i], err)
		}
		log.Debug("Extracted member", zap.String("name", names[i]), zap.Uint32("size", sizes[i]))
	}

	manifest.Files = sortedNames(names)
	info, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("dat: manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, InfoFileName), info, 0644); err != nil {
		return nil, nil, fmt.Errorf("dat: manifest: %w", err)
	}

	paths := make([]string, len(manifest.Files))
	for i, name := range manifest.Files {
		paths[i] = filepath.Join(dir, name)
	}
	return manifest, paths, nil
}

// sortedNames orders member names ascending by the case-folded part before
// the first '.' and then by the case-folded part after it. The order is a
// contract, not a cosmetic choice.
func sortedNames(names []string) []string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.SliceStable(sorted, func(i, j int) bool {
		iStem, iExt, _ := strings.Cut(sorted[i], ".")
		jStem, jExt, _ := strings.Cut(sorted[j], ".")
		iStem, jStem = strings.ToLower(iStem), strings.ToLower(jStem)
		if iStem != jStem {
			return iStem < jStem
		}
		return strings.ToLower(iExt) < strings.ToLower(jExt)
	})
	return sorted
}

// isSafeMemberName rejects member names that could escape the extraction
// directory. Same idea as the zip walker guard: no absolute paths, no
// separators, no parent references.
func isSafeMemberName(name string) bool {
	if len(name) == 0 || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
