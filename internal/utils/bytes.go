package utils

// StringToByteArray copies the bytes of s into dst, one byte per string byte,
// stopping at len(dst). Multi-byte characters are copied as raw bytes and may
// be cut in the middle. No terminator is written.
//
// n is the number of bytes copied; truncated reports whether part of s did not fit.
func StringToByteArray(s string, dst []byte) (n int, truncated bool) {
	n = copy(dst, s)
	return n, n < len(s)
}
