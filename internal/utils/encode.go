package utils

import "errors"

// ErrShortBuffer is returned when a destination cannot hold an encoded value.
var ErrShortBuffer = errors.New("destination buffer too short")

// BinaryEncoder is implemented by values with an explicit wire layout.
// EncodeTo writes exactly EncodedLen bytes; callers guarantee the room.
type BinaryEncoder interface {
	EncodedLen() int
	EncodeTo(dst []byte) int
}

// BinaryDecoder is the inverse of BinaryEncoder. DecodeFrom returns the
// number of bytes consumed.
type BinaryDecoder interface {
	DecodeFrom(src []byte) (int, error)
}

// StructToByteArray serializes v into dst and returns the number of bytes
// written. dst is left untouched when it is shorter than v.EncodedLen().
func StructToByteArray[T BinaryEncoder](v T, dst []byte) (int, error) {
	n := v.EncodedLen()
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	return v.EncodeTo(dst[:n]), nil
}

// ByteArrayToStruct decodes src into v.
func ByteArrayToStruct[T BinaryDecoder](src []byte, v T) (int, error) {
	return v.DecodeFrom(src)
}

// Marshal allocates a buffer of the right size and encodes v into it.
func Marshal[T BinaryEncoder](v T) []byte {
	buf := make([]byte, v.EncodedLen())
	n, _ := StructToByteArray(v, buf)
	return buf[:n]
}
