// Package dist packages compiled Sparkling programs as content-addressed
// images. An image carries the program words plus a SHA-256 hash over
// them, and optionally the source text they were compiled from. A receiver
// checks the hash and can recompile the source to check the words.
package dist

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/h2co3/sparkling/vm"
)

// ImageVersion is the current image format version.
const ImageVersion = 1

// Image is the unit of program distribution.
type Image struct {
	Version  int      `cbor:"1,keyasint"`
	Name     string   `cbor:"2,keyasint"`
	Hash     [32]byte `cbor:"3,keyasint"`
	Words    []uint32 `cbor:"4,keyasint"`
	Source   string   `cbor:"5,keyasint,omitempty"`
	Requires []string `cbor:"6,keyasint,omitempty"` // host globals read by the program
}

// CapabilityManifest lists the host globals a program needs.
type CapabilityManifest struct {
	Required []string `cbor:"1,keyasint"`
}

// HashWords returns the content hash of a program: SHA-256 over its words
// serialized little-endian.
func HashWords(words []uint32) [32]byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return sha256.Sum256(buf)
}

// NewImage builds an image for a program. The program is decoded to find
// the globals it reads but does not define itself.
func NewImage(name string, words []uint32, source string) (*Image, error) {
	req, err := RequiredGlobals(words)
	if err != nil {
		return nil, fmt.Errorf("dist: image %q: %w", name, err)
	}
	return &Image{
		Version:  ImageVersion,
		Name:     name,
		Hash:     HashWords(words),
		Words:    words,
		Source:   source,
		Requires: req,
	}, nil
}

// Manifest returns the capability manifest of an image.
func (img *Image) Manifest() *CapabilityManifest {
	return &CapabilityManifest{Required: img.Requires}
}

// RequiredGlobals lists, sorted, the global names a program resolves at
// run time minus those it defines with GLBVAL or GLBFUNC.
func RequiredGlobals(words []uint32) ([]string, error) {
	syms, err := vm.ParseSymbols(words)
	if err != nil {
		return nil, err
	}
	instrs, err := vm.Decode(words)
	if err != nil {
		return nil, err
	}
	defined := make(map[string]bool)
	for _, ins := range instrs {
		if name, ok := ins.DefinedGlobal(); ok {
			defined[name] = true
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range syms {
		if s.Kind != vm.SymStub || defined[s.Name] || seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out, nil
}
