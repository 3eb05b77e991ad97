// Package symbols provides the two lookup tables used to annotate decoded
// output: tag hash to tag name and Japanese phrase to English phrase. Tables
// are built once and are read-only afterwards - decoders receive them by
// reference and may share them across goroutines freely.
package symbols

import (
	"bytes"
	_ "embed"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// UnknownTag is substituted for tag hashes absent from the table. Callers
// keep the raw hash around for diagnostic annotation.
const UnknownTag = "UNKNOWN"

//go:embed tags.yaml
var tagData []byte

//go:embed translations.yaml
var translationData []byte

// Tables holds both lookup maps. Immutable after construction.
type Tables struct {
	tags    map[uint32]string
	phrases map[string]string
}

type tagFile struct {
	// Known tag names. The format computes a tag hash as CRC-32 (IEEE) of
	// the name, so plaintext names are enough to rebuild the lookup.
	Tags []string `yaml:"tags"`
	// Hash to name entries for tags whose plaintext does not hash to the
	// observed value (or was recovered separately). Keys are 0x-prefixed hex.
	Hashes map[string]string `yaml:"hashes"`
}

type translationFile struct {
	Phrases map[string]string `yaml:"phrases"`
}

// TagHash returns the hash the tree format uses for a tag name.
func TagHash(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// Load builds the tables from the embedded data files. Call it once at
// program start and pass the result down to the decoders.
func Load() (*Tables, error) {
	var tf tagFile
	if err := strictUnmarshal(tagData, &tf); err != nil {
		return nil, fmt.Errorf("symbols: bad tag table: %w", err)
	}
	var trf translationFile
	if err := strictUnmarshal(translationData, &trf); err != nil {
		return nil, fmt.Errorf("symbols: bad translation table: %w", err)
	}

	tags := make(map[uint32]string, len(tf.Tags)+len(tf.Hashes))
	for _, name := range tf.Tags {
		tags[TagHash(name)] = name
	}
	for key, name := range tf.Hashes {
		hexDigits, ok := strings.CutPrefix(key, "0x")
		if !ok {
			return nil, fmt.Errorf("symbols: tag hash %q is not 0x-prefixed", key)
		}
		hash, err := strconv.ParseUint(hexDigits, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("symbols: bad tag hash %q: %w", key, err)
		}
		tags[uint32(hash)] = name
	}

	phrases := make(map[string]string, len(trf.Phrases))
	for k, v := range trf.Phrases {
		phrases[k] = v
	}
	return &Tables{tags: tags, phrases: phrases}, nil
}

// New builds tables from already resolved maps. Intended for tests.
func New(tags map[uint32]string, phrases map[string]string) *Tables {
	t := &Tables{
		tags:    make(map[uint32]string, len(tags)),
		phrases: make(map[string]string, len(phrases)),
	}
	for k, v := range tags {
		t.tags[k] = v
	}
	for k, v := range phrases {
		t.phrases[k] = v
	}
	return t
}

// ResolveTag returns the name for a tag hash. Exact lookup only.
func (t *Tables) ResolveTag(hash uint32) (string, bool) {
	name, ok := t.tags[hash]
	return name, ok
}

// Translate returns the English phrase for a full Japanese string. Exact
// byte-sequence lookup, no normalization and no substring matching.
func (t *Tables) Translate(phrase string) (string, bool) {
	eng, ok := t.phrases[phrase]
	return eng, ok
}

func strictUnmarshal(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
