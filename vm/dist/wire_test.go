package dist

import (
	"bytes"
	"strings"
	"testing"

	"github.com/h2co3/sparkling/compiler"
)

func compileWords(source string) ([]uint32, error) {
	unit, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	return unit.Words, nil
}

func compileImage(t *testing.T, name, source string) *Image {
	t.Helper()
	words, err := compileWords(source)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	img, err := NewImage(name, words, source)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img
}

const sampleSource = `
fn fact(n) { return n < 2 ? 1 : n * fact(n - 1); }
global limit = 10;
println(tostring(fact(limit)), math.pi);
`

func TestNewImage_Requirements(t *testing.T) {
	img := compileImage(t, "sample", sampleSource)

	want := []string{"math", "println", "tostring"}
	if len(img.Requires) != len(want) {
		t.Fatalf("Requires = %v, want %v", img.Requires, want)
	}
	for i := range want {
		if img.Requires[i] != want[i] {
			t.Errorf("Requires[%d] = %q, want %q", i, img.Requires[i], want[i])
		}
	}
	if img.Hash != HashWords(img.Words) {
		t.Error("Hash does not match words")
	}
	if img.Version != ImageVersion {
		t.Errorf("Version = %d, want %d", img.Version, ImageVersion)
	}
}

func TestImage_CBORRoundTrip(t *testing.T) {
	img := compileImage(t, "sample", sampleSource)

	data, err := MarshalImage(img)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	got, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}

	if got.Hash != img.Hash {
		t.Error("Hash mismatch")
	}
	if got.Name != img.Name || got.Source != img.Source {
		t.Errorf("got name %q source %q", got.Name, got.Source)
	}
	if len(got.Words) != len(img.Words) {
		t.Fatalf("Words: got %d, want %d", len(got.Words), len(img.Words))
	}
	if err := Verify(got); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestImage_CanonicalEncoding(t *testing.T) {
	a := compileImage(t, "x", sampleSource)
	b := compileImage(t, "x", sampleSource)

	da, err := MarshalImage(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := MarshalImage(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(da, db) {
		t.Error("same program should encode to the same bytes")
	}
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(img *Image)
		msg    string
	}{
		{"tampered word", func(img *Image) { img.Words[len(img.Words)-1] ^= 1 }, ""},
		{"tampered hash", func(img *Image) { img.Hash[0] ^= 0xff }, "hash mismatch"},
		{"bad version", func(img *Image) { img.Version = 99 }, "unsupported image version"},
		{"hidden requirement", func(img *Image) { img.Requires = img.Requires[1:] }, "declares requirements"},
		{"truncated", func(img *Image) { img.Words = img.Words[:3] }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := compileImage(t, "sample", sampleSource)
			tt.mutate(img)
			err := Verify(img)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.msg != "" && !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error = %v, want mention of %q", err, tt.msg)
			}
		})
	}
}

func TestVerifySource(t *testing.T) {
	img := compileImage(t, "sample", sampleSource)
	if err := VerifySource(img, compileWords); err != nil {
		t.Errorf("VerifySource: %v", err)
	}

	img.Source = "return 1;"
	if err := VerifySource(img, compileWords); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("error = %v, want hash mismatch", err)
	}

	img.Source = "return ;;("
	if err := VerifySource(img, compileWords); err == nil || !strings.Contains(err.Error(), "compile failed") {
		t.Errorf("error = %v, want compile failure", err)
	}

	img.Source = ""
	if err := VerifySource(img, compileWords); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestWriteReadImage(t *testing.T) {
	img := compileImage(t, "io", "return 42;")

	var buf bytes.Buffer
	if err := WriteImage(&buf, img); err != nil {
		t.Fatal(err)
	}
	got, err := ReadImage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != img.Hash || len(got.Requires) != 0 {
		t.Errorf("got %+v", got)
	}

	if _, err := ReadImage(strings.NewReader("not cbor")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestCapabilityManifest_CBORRoundTrip(t *testing.T) {
	m := &CapabilityManifest{Required: []string{"io", "print"}}
	data, err := MarshalCapabilityManifest(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalCapabilityManifest(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Required) != 2 || got.Required[1] != "print" {
		t.Errorf("got %+v", got)
	}
}
