package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMessageID_Direction(t *testing.T) {
	tests := []struct {
		id   MessageID
		from bool
		to   bool
	}{
		{AccessoryConfigurationData, true, false},
		{AccessoryUwbDidStart, true, false},
		{AccessoryUwbDidStop, true, false},
		{Initialize, false, true},
		{ConfigureAndStart, false, true},
		{Stop, false, true},
		{MessageID(0x00), false, false},
		{MessageID(0x04), false, false},
		{MessageID(0x0D), false, false},
	}
	for _, tt := range tests {
		if got := tt.id.FromAccessory(); got != tt.from {
			t.Errorf("%v.FromAccessory() = %v; want %v", tt.id, got, tt.from)
		}
		if got := tt.id.ToAccessory(); got != tt.to {
			t.Errorf("%v.ToAccessory() = %v; want %v", tt.id, got, tt.to)
		}
	}
}

func TestMessageID_String(t *testing.T) {
	if got := ConfigureAndStart.String(); got != "configureAndStart" {
		t.Errorf("String() = %q", got)
	}
	if got := MessageID(0x42).String(); got != "MessageID(0x42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestMessage_Bytes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []byte
	}{
		{name: "initialize", msg: NewInitialize(), want: []byte{0x0A}},
		{name: "stop", msg: NewStop(), want: []byte{0x0C}},
		{name: "configure and start", msg: NewConfigureAndStart([]byte{0xDE, 0xAD}), want: []byte{0x0B, 0xDE, 0xAD}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("Bytes() = % X; want % X", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	frame := []byte{0x01, 0x10, 0x20}
	m, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.ID != AccessoryConfigurationData {
		t.Errorf("ID = %v; want %v", m.ID, AccessoryConfigurationData)
	}
	if !bytes.Equal(m.Payload, []byte{0x10, 0x20}) {
		t.Errorf("Payload = % X", m.Payload)
	}
	frame[1] = 0xFF
	if m.Payload[0] != 0x10 {
		t.Error("payload aliases the input frame")
	}
}

func TestDecode_NoPayload(t *testing.T) {
	m, err := Decode([]byte{0x02})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.ID != AccessoryUwbDidStart || m.Payload != nil {
		t.Errorf("Decode = %+v", m)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Decode(nil) err = %v; want ErrEmptyMessage", err)
	}
	if _, err := Decode([]byte{0x7F, 0x00}); !errors.Is(err, ErrUnknownMessageID) {
		t.Errorf("Decode(0x7F) err = %v; want ErrUnknownMessageID", err)
	}
}
