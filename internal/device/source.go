package device

import "time"

// Source is the byte-oriented link to one device. The connection manager
// owns it; the acquisition loop only reads from it.
type Source interface {
	// ReadAvailable returns whatever bytes are buffered right now. It never
	// waits for more data and returns an empty slice when nothing arrived.
	ReadAvailable() ([]byte, error)

	// Write sends raw bytes to the device.
	Write(p []byte) (int, error)

	// Handshake closes and reopens the link, waits settle for the device to
	// reset, then discards anything buffered under a read timeout bounded by
	// timeout. The previous read timeout is restored afterwards.
	Handshake(settle, timeout time.Duration) error

	// Close releases the link. Closing twice is not an error.
	Close() error
}

// PortInfo describes one enumerated device.
type PortInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Enumerator lists the devices currently attached.
type Enumerator interface {
	Ports() ([]PortInfo, error)
}

// Dialer opens a Source for a device name at a bit rate.
type Dialer func(name string, baud int) (Source, error)

// Open is the default Dialer: the demo device name yields a Demo source and
// anything else is opened as a serial port.
func Open(name string, baud int) (Source, error) {
	if name == DemoPort {
		return NewDemo(), nil
	}
	return OpenSerial(name, baud)
}

// BaudRates lists the bit rates offered for selection.
var BaudRates = []int{
	300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 74880,
	115200, 230400, 250000, 500000, 1000000, 2000000,
}

// DefaultBaudRate matches the common Arduino sketch default.
const DefaultBaudRate = 115200

// ValidBaudRate reports whether baud is one of BaudRates.
func ValidBaudRate(baud int) bool {
	for _, b := range BaudRates {
		if b == baud {
			return true
		}
	}
	return false
}
