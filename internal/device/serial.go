package device

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// pollTimeout makes Read return immediately with whatever is buffered.
	pollTimeout = 0

	readChunk  = 4096
	maxPerPoll = 64 * 1024
)

// port is the subset of serial.Port the Serial source relies on.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// openFunc opens a port; tests substitute a fake.
type openFunc func(path string, mode *serial.Mode) (port, error)

func openSerialPort(path string, mode *serial.Mode) (port, error) {
	return serial.Open(path, mode)
}

// Serial is a Source backed by a serial port.
type Serial struct {
	path    string
	mode    *serial.Mode
	open    openFunc
	mu      sync.Mutex
	port    port
	timeout time.Duration
}

// OpenSerial opens path at baud with 8N1 framing in non-blocking read mode.
func OpenSerial(path string, baud int) (*Serial, error) {
	return openSerial(path, baud, openSerialPort)
}

func openSerial(path string, baud int, open openFunc) (*Serial, error) {
	s := &Serial{
		path: path,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open:    open,
		timeout: pollTimeout,
	}
	p, err := open(path, s.mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", path, err)
	}
	if err := p.SetReadTimeout(s.timeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial: failed to set timeout on %s: %w", path, err)
	}
	s.port = p
	log.Printf("[serial] opened %s at %d baud", path, baud)
	return s, nil
}

// Handshake resynchronises with a freshly opened board. Many boards reset
// when the port is opened, so the link is cycled and left to settle before
// any boot output is discarded.
func (s *Serial) Handshake(settle, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		if err := s.port.Close(); err != nil {
			log.Printf("[serial] close before reopen of %s: %v", s.path, err)
		}
		s.port = nil
	}
	p, err := s.open(s.path, s.mode)
	if err != nil {
		return fmt.Errorf("serial: failed to reopen %s: %w", s.path, err)
	}
	s.port = p

	time.Sleep(settle)

	prior := s.timeout
	if err := p.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("serial: failed to set handshake timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial: failed to discard input on %s: %w", s.path, err)
	}
	if err := p.SetReadTimeout(prior); err != nil {
		return fmt.Errorf("serial: failed to restore timeout: %w", err)
	}
	log.Printf("[serial] handshake with %s complete (settle %v)", s.path, settle)
	return nil
}

// ReadAvailable drains the receive buffer without waiting for more data.
func (s *Serial) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil, fmt.Errorf("serial: %s is not open", s.path)
	}
	var out []byte
	buf := make([]byte, readChunk)
	for len(out) < maxPerPoll {
		n, err := s.port.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, fmt.Errorf("serial: read %s: %w", s.path, err)
		}
		if n < len(buf) {
			break
		}
	}
	return out, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return 0, fmt.Errorf("serial: %s is not open", s.path)
	}
	return s.port.Write(p)
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
