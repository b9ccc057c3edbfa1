package utils

import (
	"io"
	"os"
)

// Console is where LogBLEMessage writes. Tests and the daemon may swap it.
var Console io.Writer = os.Stdout

// LogBLEMessage writes "<label><hex bytes>\n" to Console, e.g. "TX: 0A FF \n".
// Write errors are ignored.
func LogBLEMessage(label string, data []byte) {
	_ = FprintBLEMessage(Console, label, data)
}

// FprintBLEMessage writes a single hex log line for data to w in one Write call.
func FprintBLEMessage(w io.Writer, label string, data []byte) error {
	line := make([]byte, 0, len(label)+len(data)*3+1)
	line = append(line, label...)
	line = append(line, ByteArrayToHexString(data)...)
	line = append(line, '\n')
	_, err := w.Write(line)
	return err
}
