package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Accessory configuration data layout (little-endian, packed):
// [0:2] major version, [2:4] minor version, [4] preferred update rate,
// [5:15] reserved, [15] uwb config length N, [16:16+N] uwb config data.
const configHeaderLen = 16

type UpdateRate uint8

const (
	UpdateRateAutomatic       UpdateRate = 0
	UpdateRateInfrequent      UpdateRate = 10
	UpdateRateUserInteractive UpdateRate = 20
)

var ErrInvalidConfiguration = errors.New("invalid accessory configuration data")

// ConfigurationData is what the accessory returns in reply to
// Initialize. UWBConfigData is opaque and handed to the phone's ranging session.
type ConfigurationData struct {
	MajorVersion        uint16
	MinorVersion        uint16
	PreferredUpdateRate UpdateRate
	Reserved            [10]byte
	UWBConfigData       []byte
}

func (c ConfigurationData) EncodedLen() int {
	return configHeaderLen + len(c.UWBConfigData)
}

// EncodeTo writes the packed layout. UWBConfigData longer than 255 bytes is
// cut to 255 so the length byte stays truthful.
func (c ConfigurationData) EncodeTo(dst []byte) int {
	uwb := c.UWBConfigData
	if len(uwb) > 0xFF {
		uwb = uwb[:0xFF]
	}
	binary.LittleEndian.PutUint16(dst[0:2], c.MajorVersion)
	binary.LittleEndian.PutUint16(dst[2:4], c.MinorVersion)
	dst[4] = byte(c.PreferredUpdateRate)
	copy(dst[5:15], c.Reserved[:])
	dst[15] = byte(len(uwb))
	return configHeaderLen + copy(dst[configHeaderLen:], uwb)
}

func (c *ConfigurationData) DecodeFrom(src []byte) (int, error) {
	if len(src) < configHeaderLen {
		return 0, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidConfiguration, len(src), configHeaderLen)
	}
	n := int(src[15])
	if len(src) < configHeaderLen+n {
		return 0, fmt.Errorf("%w: uwb config length %d exceeds %d remaining bytes",
			ErrInvalidConfiguration, n, len(src)-configHeaderLen)
	}
	c.MajorVersion = binary.LittleEndian.Uint16(src[0:2])
	c.MinorVersion = binary.LittleEndian.Uint16(src[2:4])
	c.PreferredUpdateRate = UpdateRate(src[4])
	copy(c.Reserved[:], src[5:15])
	c.UWBConfigData = append([]byte(nil), src[configHeaderLen:configHeaderLen+n]...)
	return configHeaderLen + n, nil
}

// ParseConfigurationData decodes the payload of an AccessoryConfigurationData message.
func ParseConfigurationData(payload []byte) (ConfigurationData, error) {
	var c ConfigurationData
	if _, err := c.DecodeFrom(payload); err != nil {
		return ConfigurationData{}, err
	}
	return c, nil
}
