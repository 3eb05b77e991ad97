// Package pak reads the nested sub-archive format: a table of 12-byte header
// entries followed by a payload region where each member is either raw or a
// zlib stream. Members carry no explicit size - a member's span runs from its
// offset to the next entry's offset (buffer end for the last one).
package pak

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"datx/cursor"
)

// Ext is the file extension identifying sub-archives among container
// members.
const Ext = ".pak"

// InfoFileName is the JSON sidecar written next to extracted members.
const InfoFileName = "pakInfo.json"

// MemberExt is the extension given to extracted members, which are named by
// their index in the entry table.
const MemberExt = ".yax"

const entrySize = 12

// Entry is one fixed-size header record. Type is an opaque classifier: it is
// preserved in the sidecar but never interpreted.
type Entry struct {
	Type             uint32
	UncompressedSize uint32
	Offset           uint32
}

// MemberInfo is the sidecar record for one extracted member.
type MemberInfo struct {
	Name string `json:"name"`
	Type uint32 `json:"type"`
}

// Info is the content of the pakInfo.json sidecar.
type Info struct {
	Files []MemberInfo `json:"files"`
}

// readEntries recovers the entry table. The member count is not stored: it is
// back-solved from the first entry's offset, relying on the fixed 12-byte
// record size and the 4-byte constant that precedes the payload region. This
// arithmetic is a quirk of the format and must not be "improved".
func readEntries(cur *cursor.Cursor) ([]Entry, error) {
	cur.Seek(8)
	firstOffset, err := cur.ReadU32()
	if err != nil {
		return nil, err
	}
	if firstOffset < 4 || (firstOffset-4)%entrySize != 0 {
		return nil, fmt.Errorf("first entry offset %d does not address an entry table", firstOffset)
	}
	if int(firstOffset) > cur.Len() {
		return nil, fmt.Errorf("entry table of %d bytes exceeds buffer of %d", firstOffset, cur.Len())
	}
	count := int(firstOffset-4) / entrySize

	cur.Seek(0)
	entries := make([]Entry, count)
	for i := range entries {
		var e Entry
		if e.Type, err = cur.ReadU32(); err != nil {
			return nil, err
		}
		if e.UncompressedSize, err = cur.ReadU32(); err != nil {
			return nil, err
		}
		if e.Offset, err = cur.ReadU32(); err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// spans computes each entry's byte span from consecutive offsets.
func spans(entries []Entry, total int) ([]int, error) {
	out := make([]int, len(entries))
	for i := range entries {
		var next int
		if i == len(entries)-1 {
			next = total
		} else {
			next = int(entries[i+1].Offset)
		}
		span := next - int(entries[i].Offset)
		if span < 0 || int(entries[i].Offset) > total {
			return nil, fmt.Errorf("entry %d: span [%d, %d) is not inside the buffer", i, entries[i].Offset, next)
		}
		out[i] = span
	}
	return out, nil
}

// extractMember reads one member payload. A member is compressed exactly when
// its declared uncompressed size exceeds its span - a payload cannot be
// stored larger than its decompressed form unless it was compressed. For
// compressed members a u32 prefix holds the compressed byte length (the span
// is only an upper bound padded to 4 bytes); for raw members the alignment
// padding implied by the uncompressed size is dropped from the tail.
func extractMember(cur *cursor.Cursor, e Entry, span int) ([]byte, error) {
	cur.Seek(int(e.Offset))

	if compressed := int(e.UncompressedSize) > span; compressed {
		readSize, err := cur.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := cur.ReadBytes(int(readSize))
		if err != nil {
			return nil, err
		}
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return raw, nil
	}

	padding := (4 - int(e.UncompressedSize)%4) % 4
	return cur.ReadBytes(span - padding)
}

// Extract writes every member of the sub-archive in data to dir as
// "<index>.yax" plus the pakInfo.json sidecar, and returns the member paths
// in index order. Extraction is sequential and the first failing member
// aborts the whole operation; members already written stay on disk.
func Extract(data []byte, srcPath, dir string, log *zap.Logger) ([]string, error) {
	cur := cursor.New(data)

	entries, err := readEntries(cur)
	if err != nil {
		return nil, fmt.Errorf("pak: %s: entry table: %w", srcPath, err)
	}
	sizes, err := spans(entries, len(data))
	if err != nil {
		return nil, fmt.Errorf("pak: %s: %w", srcPath, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("pak: %w", err)
	}

	info := Info{Files: make([]MemberInfo, 0, len(entries))}
	paths := make([]string, 0, len(entries))
	for i, e := range entries {
		payload, err := extractMember(cur, e, sizes[i])
		if err != nil {
			return nil, fmt.Errorf("pak: %s: member %d: %w", srcPath, i, err)
		}
		name := fmt.Sprintf("%d%s", i, MemberExt)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, payload, 0644); err != nil {
			return nil, fmt.Errorf("pak: member %d: %w", i, err)
		}
		log.Debug("Extracted member",
			zap.Int("index", i),
			zap.Uint32("type", e.Type),
			zap.Bool("compressed", int(e.UncompressedSize) > sizes[i]),
			zap.Int("size", len(payload)))
		info.Files = append(info.Files, MemberInfo{Name: name, Type: e.Type})
		paths = append(paths, path)
	}

	sidecar, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("pak: sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, InfoFileName), sidecar, 0644); err != nil {
		return nil, fmt.Errorf("pak: sidecar: %w", err)
	}
	return paths, nil
}
