package main

import "testing"

func TestDecodeOutput(t *testing.T) {
	tests := []struct {
		codec string
		in    []byte
		want  string
	}{
		{"utf-8", []byte("NT AUTHORITY\\SYSTEM\r\n"), "NT AUTHORITY\\SYSTEM\r\n"},
		{"cp437", []byte{0x82, 't', 0x82}, "été"},
		{"cp850", []byte{0x90}, "É"},
		{"CP1252", []byte{0x80}, "€"},
		{"ISO-8859-1", []byte{0xE9}, "é"},
	}
	for _, tt := range tests {
		dec, err := lookupCodec(tt.codec)
		if err != nil {
			t.Fatalf("lookupCodec(%s): %v", tt.codec, err)
		}
		if got := decodeOutput(dec, tt.in); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.codec, got, tt.want)
		}
	}
}

func TestLookupCodecUnknown(t *testing.T) {
	if _, err := lookupCodec("klingon"); err == nil {
		t.Error("unknown codec accepted")
	}
}
