package kcache

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// indexVersion is written to every index file. Files without a version
// attribute decode as version 0, which has the same layout.
const indexVersion = 1

type xmlIndex struct {
	XMLName xml.Name   `xml:"metainfo"`
	Version int        `xml:"version,attr"`
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Source        xmlText `xml:"source"`
	SourceName    xmlText `xml:"sourceName"`
	Platform      xmlText `xml:"platform"`
	Device        xmlText `xml:"device"`
	DriverVersion xmlText `xml:"driverVersion"`
	Defines       xmlText `xml:"defines"`
	BuildOptions  xmlText `xml:"buildOptions"`
	BinaryName    string  `xml:"binaryName"`
}

// encBase64 marks a key field stored as base64 because its bytes cannot be
// represented in XML 1.0 character data.
const encBase64 = "base64"

// xmlText is a key field. Text that XML can carry is stored as is; anything
// else is stored base64 encoded so keys compare equal after a reload.
type xmlText struct {
	Enc   string `xml:"enc,attr,omitempty"`
	Value string `xml:",chardata"`
}

func encodeText(s string) xmlText {
	if xmlSafe(s) {
		return xmlText{Value: s}
	}

	return xmlText{Enc: encBase64, Value: base64.StdEncoding.EncodeToString([]byte(s))}
}

func (t xmlText) decode() (string, error) {
	switch t.Enc {
	case "":
		return t.Value, nil
	case encBase64:
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Value))
		if err != nil {
			return "", err
		}

		return string(data), nil
	default:
		return "", fmt.Errorf("unknown encoding %q", t.Enc)
	}
}

// xmlSafe reports whether s is valid UTF-8 made only of characters in the
// XML 1.0 Char production.
func xmlSafe(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}

	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}

	return true
}

func encodeIndex(entries []Entry) ([]byte, error) {
	doc := xmlIndex{Version: indexVersion, Entries: make([]xmlEntry, 0, len(entries))}

	for _, e := range entries {
		doc.Entries = append(doc.Entries, xmlEntry{
			Source:        encodeText(e.Source),
			SourceName:    encodeText(e.SourceName),
			Platform:      encodeText(e.Platform),
			Device:        encodeText(e.Device),
			DriverVersion: encodeText(e.DriverVersion),
			Defines:       encodeText(e.Defines),
			BuildOptions:  encodeText(e.BuildOptions),
			BinaryName:    e.BinaryName,
		})
	}

	var buf bytes.Buffer

	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// decodeIndex parses an index file. An empty file is an empty index; it is
// what a freshly created index looks like before its first persist.
func decodeIndex(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc xmlIndex

	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
	}

	if doc.Version > indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupt, doc.Version)
	}

	entries := make([]Entry, 0, len(doc.Entries))

	for i, e := range doc.Entries {
		if !validBinaryName(e.BinaryName) {
			return nil, fmt.Errorf("%w: entry %d has invalid binary name %q", ErrIndexCorrupt, i, e.BinaryName)
		}

		var (
			key  Key
			errs []error
		)

		for _, f := range []struct {
			dst *string
			src xmlText
		}{
			{&key.Source, e.Source},
			{&key.SourceName, e.SourceName},
			{&key.Platform, e.Platform},
			{&key.Device, e.Device},
			{&key.DriverVersion, e.DriverVersion},
			{&key.Defines, e.Defines},
			{&key.BuildOptions, e.BuildOptions},
		} {
			v, err := f.src.decode()
			if err != nil {
				errs = append(errs, err)
			}

			*f.dst = v
		}

		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrIndexCorrupt, i, err)
		}

		entries = append(entries, Entry{Key: key, BinaryName: e.BinaryName})
	}

	return entries, nil
}

// validBinaryName rejects names that would resolve outside the cache root
// or onto the index file itself.
func validBinaryName(name string) bool {
	if name == "" || name == "." || name == ".." || name == IndexFileName {
		return false
	}

	return xmlSafe(name) && !strings.ContainsAny(name, `/\`)
}
