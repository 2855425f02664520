package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// lookupCodec returns a decoder for the code page cmd.exe writes in
func lookupCodec(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return unicode.UTF8.NewDecoder(), nil
	case "cp437", "437":
		return charmap.CodePage437.NewDecoder(), nil
	case "cp850", "850":
		return charmap.CodePage850.NewDecoder(), nil
	case "cp1252", "1252":
		return charmap.Windows1252.NewDecoder(), nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
	return enc.NewDecoder(), nil
}

// decodeOutput converts command output for display, falling back to the
// raw bytes when they do not decode
func decodeOutput(dec *encoding.Decoder, out []byte) string {
	s, err := dec.Bytes(out)
	if err != nil {
		debug_("Output is not valid for the codec: %v", err)
		return string(out)
	}
	return string(s)
}
