package console

import (
	"strings"

	"uwblink/internal/utils"
)

// FrameLabels are the labels the accessory's hex logger prefixes frames with.
// A label matches when the text before the hex ends with one of them, so
// "BLE: TX: " is a frame line too.
var FrameLabels = []string{"TX: ", "RX: "}

// ParseLogLine recognises a line written by the accessory's hex logger,
// "<label><hex bytes>", e.g. "TX: 0A FF ". The label must end in one of
// FrameLabels and the remainder must be exactly the ByteArrayToHexString form.
// Lines with no bytes are not reported.
func ParseLogLine(line string) (label string, data []byte, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.LastIndex(line, ": ")
	if idx < 0 {
		return "", nil, false
	}
	label, rest := line[:idx+2], line[idx+2:]
	if rest == "" || !isFrameLabel(label) {
		return "", nil, false
	}

	data, err := utils.ParseHexString(rest)
	if err != nil || len(data) == 0 {
		return "", nil, false
	}
	if utils.ByteArrayToHexString(data) != rest {
		return "", nil, false
	}
	return label, data, true
}

func isFrameLabel(label string) bool {
	for _, l := range FrameLabels {
		if strings.HasSuffix(label, l) {
			return true
		}
	}
	return false
}
