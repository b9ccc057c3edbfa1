// Package protocol defines the NearbyInteraction accessory messages exchanged
// over the Nordic UART Service. Every frame is one MessageID byte followed by
// an optional payload.
package protocol

import (
	"errors"
	"fmt"

	"uwblink/internal/utils"
)

type MessageID uint8

const (
	// Sent by the accessory.
	AccessoryConfigurationData MessageID = 0x01
	AccessoryUwbDidStart       MessageID = 0x02
	AccessoryUwbDidStop        MessageID = 0x03

	// Sent to the accessory.
	Initialize        MessageID = 0x0A
	ConfigureAndStart MessageID = 0x0B
	Stop              MessageID = 0x0C
)

var (
	ErrEmptyMessage     = errors.New("empty message")
	ErrUnknownMessageID = errors.New("unknown message id")
)

func (id MessageID) String() string {
	switch id {
	case AccessoryConfigurationData:
		return "accessoryConfigurationData"
	case AccessoryUwbDidStart:
		return "accessoryUwbDidStart"
	case AccessoryUwbDidStop:
		return "accessoryUwbDidStop"
	case Initialize:
		return "initialize"
	case ConfigureAndStart:
		return "configureAndStart"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("MessageID(0x%02X)", uint8(id))
	}
}

// Valid reports whether id is one of the known message ids.
func (id MessageID) Valid() bool {
	return id.FromAccessory() || id.ToAccessory()
}

// FromAccessory reports whether id is only ever sent by the accessory.
func (id MessageID) FromAccessory() bool {
	return id >= AccessoryConfigurationData && id <= AccessoryUwbDidStop
}

// ToAccessory reports whether id is only ever sent to the accessory.
func (id MessageID) ToAccessory() bool {
	return id >= Initialize && id <= Stop
}

// Message is a single NUS frame.
type Message struct {
	ID      MessageID
	Payload []byte
}

func (m Message) EncodedLen() int { return 1 + len(m.Payload) }

func (m Message) EncodeTo(dst []byte) int {
	dst[0] = byte(m.ID)
	return 1 + copy(dst[1:], m.Payload)
}

// DecodeFrom consumes all of src. The payload is copied out of src.
func (m *Message) DecodeFrom(src []byte) (int, error) {
	if len(src) == 0 {
		return 0, ErrEmptyMessage
	}
	id := MessageID(src[0])
	if !id.Valid() {
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownMessageID, src[0])
	}
	m.ID = id
	m.Payload = nil
	if len(src) > 1 {
		m.Payload = append([]byte(nil), src[1:]...)
	}
	return len(src), nil
}

// Bytes returns the wire form of m.
func (m Message) Bytes() []byte {
	return utils.Marshal(m)
}

// Decode parses a received frame.
func Decode(frame []byte) (Message, error) {
	var m Message
	if _, err := utils.ByteArrayToStruct(frame, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewInitialize builds the frame asking the accessory for its configuration data.
func NewInitialize() Message { return Message{ID: Initialize} }

func NewConfigureAndStart(shareableConfig []byte) Message {
	return Message{ID: ConfigureAndStart, Payload: append([]byte(nil), shareableConfig...)}
}

func NewStop() Message { return Message{ID: Stop} }
