package utils

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const hexd = "0123456789ABCDEF"

// BytesToHex converts a byte slice to a compact hexadecimal string ("0AFF").
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}

// ByteArrayToHexString renders every byte as two uppercase hex digits followed
// by a single space, the last byte included: []byte{0x0A, 0xFF} -> "0A FF ".
// An empty slice yields "".
func ByteArrayToHexString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 0, len(b)*3)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F], ' ')
	}
	return string(out)
}

// ParseHexString converts hex text back into bytes. It accepts the spaced
// form produced by ByteArrayToHexString, compact strings ("0AFF") and the
// "0x0a, 0xff, " form the iOS app logs. Case is ignored. Every separated
// field must hold whole bytes, so "0 A" is an error rather than 0x0A.
func ParseHexString(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', ',', ':', '\r', '\n':
			return true
		}
		return false
	})

	var digits strings.Builder
	for _, f := range fields {
		if len(f) > 2 && (f[:2] == "0x" || f[:2] == "0X") {
			f = f[2:]
		}
		if len(f)%2 != 0 {
			return nil, fmt.Errorf("hex field %q has an odd number of digits", f)
		}
		digits.WriteString(f)
	}

	in := digits.String()
	data := make([]byte, len(in)/2)
	for i := 0; i < len(in); i += 2 {
		v, err := strconv.ParseUint(in[i:i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("parsing hex byte at position %d: %w", i, err)
		}
		data[i/2] = byte(v)
	}
	return data, nil
}

// HexAttr is a slog attribute carrying b in compact uppercase hex.
func HexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, BytesToHex(b))
}
