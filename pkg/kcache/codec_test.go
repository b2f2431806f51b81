package kcache

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_DecodeIndex_Returns_Empty_When_File_Is_Blank(t *testing.T) {
	t.Parallel()

	for _, data := range []string{"", "  \n\t"} {
		entries, err := decodeIndex([]byte(data))
		if err != nil || len(entries) != 0 {
			t.Fatalf("decodeIndex(%q)=%v, %v, want empty, nil", data, entries, err)
		}
	}
}

func Test_DecodeIndex_Treats_Missing_Elements_As_Empty_Strings(t *testing.T) {
	t.Parallel()

	data := `<?xml version="1.0" encoding="UTF-8"?>
<metainfo>
  <entry>
    <sourceName>k.cl</sourceName>
    <device>gpu</device>
    <binaryName>abc</binaryName>
  </entry>
</metainfo>`

	entries, err := decodeIndex([]byte(data))
	if err != nil {
		t.Fatalf("decodeIndex: err=%v, want nil", err)
	}

	want := []Entry{{Key: Key{SourceName: "k.cl", Device: "gpu"}, BinaryName: "abc"}}

	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func Test_EncodeIndex_Writes_Header_And_Version(t *testing.T) {
	t.Parallel()

	data, err := encodeIndex([]Entry{{Key: Key{Source: "a < b && c"}, BinaryName: "n1"}})
	if err != nil {
		t.Fatalf("encodeIndex: %v", err)
	}

	text := string(data)

	for _, want := range []string{`<?xml version="1.0" encoding="UTF-8"?>`, `<metainfo version="1">`, "a &lt; b &amp;&amp; c"} {
		if !strings.Contains(text, want) {
			t.Fatalf("encoded index missing %q:\n%s", want, text)
		}
	}

	entries, err := decodeIndex(data)
	if err != nil {
		t.Fatalf("decodeIndex: %v", err)
	}

	if got := entries[0].Source; got != "a < b && c" {
		t.Fatalf("Source=%q, want %q", got, "a < b && c")
	}
}

func Test_DecodeIndex_Returns_ErrIndexCorrupt_When_Content_Is_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"truncated":       `<metainfo><entry><binaryName>x`,
		"future version":  `<metainfo version="9"></metainfo>`,
		"wrong root":      `<binaries></binaries>`,
		"path traversal":  `<metainfo><entry><binaryName>../etc/passwd</binaryName></entry></metainfo>`,
		"empty binary":    `<metainfo><entry><sourceName>k.cl</sourceName></entry></metainfo>`,
		"index as binary": `<metainfo><entry><binaryName>metainfo.xml</binaryName></entry></metainfo>`,
		"not xml at all":  "\x00\x01garbage",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := decodeIndex([]byte(data))
			if !errors.Is(err, ErrIndexCorrupt) {
				t.Fatalf("decodeIndex: err=%v, want ErrIndexCorrupt", err)
			}
		})
	}
}

func Test_Key_Digest_Differs_When_Fields_Shift_Between_Positions(t *testing.T) {
	t.Parallel()

	a := Key{Source: "ab", SourceName: ""}
	b := Key{Source: "a", SourceName: "b"}

	if a.Digest() == b.Digest() {
		t.Fatalf("Digest collision for %+v and %+v", a, b)
	}

	if got := a.Digest(); len(got) != 16 {
		t.Fatalf("Digest()=%q, want 16 hex chars", got)
	}

	if again := (Key{Source: "ab"}).Digest(); again != a.Digest() {
		t.Fatalf("Digest()=%q on equal key, want %q", again, a.Digest())
	}
}

func Test_Key_Label_Shortens_Inline_Source(t *testing.T) {
	t.Parallel()

	if got := (Key{SourceName: "saxpy.cl", Source: "ignored"}).Label(); got != "saxpy.cl" {
		t.Fatalf("Label()=%q, want %q", got, "saxpy.cl")
	}

	long := strings.Repeat("x", 40)
	if got, want := (Key{Source: long}).Label(), strings.Repeat("x", 32)+"..."; got != want {
		t.Fatalf("Label()=%q, want %q", got, want)
	}
}

func Test_BuildError_Lists_Logs_Per_Device(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")
	err := &BuildError{
		Devices: []string{"gpu0", "gpu1"},
		Logs:    []string{"", "error: undeclared identifier 'x'\n"},
		Err:     cause,
	}

	msg := err.Error()

	if strings.Contains(msg, "[gpu0]") {
		t.Fatalf("message includes empty log section:\n%s", msg)
	}

	if !strings.Contains(msg, "[gpu1]\nerror: undeclared identifier 'x'") {
		t.Fatalf("message missing gpu1 log:\n%s", msg)
	}

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(BuildError, cause)=false, want true")
	}
}

func Test_EncodeIndex_Round_Trips_Text_XML_Cannot_Carry(t *testing.T) {
	t.Parallel()

	in := []Entry{
		{Key: Key{Source: "// caf\xe9\n__kernel void k() {}", Device: "gpu0"}, BinaryName: "n1"},
		{Key: Key{Source: "__kernel\fvoid k() {}", Defines: "#define A\x00", BuildOptions: "-O2\x1b"}, BinaryName: "n2"},
		{Key: Key{Source: "line\r\nline\r", Platform: "café"}, BinaryName: "n3"},
	}

	data, err := encodeIndex(in)
	if err != nil {
		t.Fatalf("encodeIndex: %v", err)
	}

	text := string(data)
	if got, want := strings.Count(text, `enc="base64"`), 4; got != want {
		t.Fatalf("base64 fields=%d, want=%d\n%s", got, want, text)
	}

	// Representable text stays readable.
	if !strings.Contains(text, "<platform>café</platform>") {
		t.Fatalf("encoded index should keep plain text readable:\n%s", text)
	}

	out, err := decodeIndex(data)
	if err != nil {
		t.Fatalf("decodeIndex: %v", err)
	}

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func Test_DecodeIndex_Returns_ErrIndexCorrupt_When_Field_Encoding_Is_Bad(t *testing.T) {
	t.Parallel()

	for name, data := range map[string]string{
		"unknown encoding": `<metainfo><entry><source enc="rot13">x</source><binaryName>n</binaryName></entry></metainfo>`,
		"bad base64":       `<metainfo><entry><source enc="base64">!!!</source><binaryName>n</binaryName></entry></metainfo>`,
	} {
		_, err := decodeIndex([]byte(data))
		if !errors.Is(err, ErrIndexCorrupt) {
			t.Fatalf("%s: err=%v, want ErrIndexCorrupt", name, err)
		}
	}
}
