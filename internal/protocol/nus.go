package protocol

// Nordic UART Service UUIDs used by the ESP32 accessory firmware.
// RX is written by the central, TX notifies the central.
const (
	NUSServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	NUSRxCharUUID  = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
	NUSTxCharUUID  = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)
