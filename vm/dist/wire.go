package dist

import (
	"fmt"
	"io"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/h2co3/sparkling/vm"
)

// cborEncMode uses canonical mode so that equal images encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes an Image to CBOR bytes.
func MarshalImage(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// UnmarshalImage deserializes an Image from CBOR bytes. The image is not
// verified; call Verify before loading it.
func UnmarshalImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal image: %w", err)
	}
	return &img, nil
}

// MarshalCapabilityManifest serializes a CapabilityManifest to CBOR bytes.
func MarshalCapabilityManifest(m *CapabilityManifest) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalCapabilityManifest deserializes a CapabilityManifest from CBOR bytes.
func UnmarshalCapabilityManifest(data []byte) (*CapabilityManifest, error) {
	var m CapabilityManifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dist: unmarshal capability manifest: %w", err)
	}
	return &m, nil
}

// WriteImage encodes img to w.
func WriteImage(w io.Writer, img *Image) error {
	data, err := MarshalImage(img)
	if err != nil {
		return fmt.Errorf("dist: marshal image: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadImage decodes and verifies an image from r.
func ReadImage(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dist: read image: %w", err)
	}
	img, err := UnmarshalImage(data)
	if err != nil {
		return nil, err
	}
	if err := Verify(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Verify checks the format version, the program header and symbol table,
// the content hash and the declared requirements of an image.
func Verify(img *Image) error {
	if img.Version != ImageVersion {
		return fmt.Errorf("dist: unsupported image version %d", img.Version)
	}
	if _, err := vm.ParseSymbols(img.Words); err != nil {
		return fmt.Errorf("dist: image %q: %w", img.Name, err)
	}
	if computed := HashWords(img.Words); computed != img.Hash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", img.Hash, computed)
	}
	req, err := RequiredGlobals(img.Words)
	if err != nil {
		return fmt.Errorf("dist: image %q: %w", img.Name, err)
	}
	if !slices.Equal(req, img.Requires) {
		return fmt.Errorf("dist: image %q declares requirements %v, program needs %v", img.Name, img.Requires, req)
	}
	return nil
}

// VerifySource recompiles the source carried by an image and checks that
// the result hashes to the image's hash.
//
// The compile function is injected to avoid the dist package depending on
// the compiler package.
func VerifySource(img *Image, compile func(source string) ([]uint32, error)) error {
	if img.Source == "" {
		return fmt.Errorf("dist: image %q carries no source", img.Name)
	}
	words, err := compile(img.Source)
	if err != nil {
		return fmt.Errorf("dist: compile failed: %w", err)
	}
	if computed := HashWords(words); computed != img.Hash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", img.Hash, computed)
	}
	return nil
}
