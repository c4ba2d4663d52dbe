package servobus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Dynamixel protocol 2.0 instructions.
const (
	InstPing   byte = 0x01
	InstRead   byte = 0x02
	InstWrite  byte = 0x03
	InstStatus byte = 0x55
)

// Control table addresses of the X series.
const (
	AddrTorqueEnable    uint16 = 64
	AddrGoalPosition    uint16 = 116
	AddrPresentPosition uint16 = 132
)

// BroadcastID addresses every servo on the bus.
const BroadcastID byte = 0xFE

var header = []byte{0xFF, 0xFF, 0xFD, 0x00}

var (
	// ErrCRC is returned for a status packet with a bad checksum.
	ErrCRC = errors.New("status packet CRC mismatch")
	// ErrTimeout is returned when the servo does not answer in time.
	ErrTimeout = errors.New("servo did not respond")
	// ErrMalformed is returned for a status packet that cannot be parsed.
	ErrMalformed = errors.New("malformed status packet")
)

// StatusError is the error field of a status packet.
type StatusError struct {
	ID    byte
	Code  byte
	Alert bool
}

var statusMessages = map[byte]string{
	1: "result fail",
	2: "instruction error",
	3: "CRC error",
	4: "data range error",
	5: "data length error",
	6: "data limit error",
	7: "access error",
}

func (e *StatusError) Error() string {
	msg, ok := statusMessages[e.Code]
	if !ok {
		msg = fmt.Sprintf("error %d", e.Code)
	}
	if e.Alert {
		msg += " (hardware alert)"
	}
	return fmt.Sprintf("servo %d: %s", e.ID, msg)
}

var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		c := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x8005
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc16 is CRC-16/BUYPASS (poly 0x8005, init 0, no reflection).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// stuff inserts 0xFD after every FF FF FD so the payload cannot be
// mistaken for a header.
func stuff(p []byte) []byte {
	out := make([]byte, 0, len(p)+2)
	for i, b := range p {
		out = append(out, b)
		if b == 0xFD && i >= 2 && p[i-1] == 0xFF && p[i-2] == 0xFF {
			out = append(out, 0xFD)
		}
	}
	return out
}

func unstuff(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		out = append(out, p[i])
		if p[i] == 0xFD && i >= 2 && p[i-1] == 0xFF && p[i-2] == 0xFF && i+1 < len(p) && p[i+1] == 0xFD {
			i++
		}
	}
	return out
}

// EncodePacket builds an instruction packet.
func EncodePacket(id, inst byte, params []byte) []byte {
	body := stuff(append([]byte{inst}, params...))
	pkt := make([]byte, 0, len(header)+3+len(body)+2)
	pkt = append(pkt, header...)
	pkt = append(pkt, id)
	pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(body)+2))
	pkt = append(pkt, body...)
	return binary.LittleEndian.AppendUint16(pkt, crc16(pkt))
}

// Status is a decoded status packet.
type Status struct {
	ID     byte
	Err    byte
	Params []byte
}

// ReadStatus reads one status packet from r, skipping any bytes before the
// header. A Read returning no data counts as a timeout.
func ReadStatus(r io.Reader) (Status, error) {
	id, body, err := readPacket(r)
	if err != nil {
		return Status{}, err
	}
	if len(body) < 2 || body[0] != InstStatus {
		return Status{}, fmt.Errorf("%w: instruction %#02x", ErrMalformed, body[0])
	}
	return Status{ID: id, Err: body[1], Params: body[2:]}, nil
}

// readPacket returns the ID and the unstuffed instruction+parameter bytes
// of the next packet.
func readPacket(r io.Reader) (byte, []byte, error) {
	var window [4]byte
	got := 0
	for {
		b, err := readByte(r)
		if err != nil {
			return 0, nil, err
		}
		copy(window[:], window[1:])
		window[3] = b
		got++
		if got >= 4 && bytes.Equal(window[:], header) {
			break
		}
	}
	rest := make([]byte, 3)
	if err := readFull(r, rest); err != nil {
		return 0, nil, err
	}
	n := int(binary.LittleEndian.Uint16(rest[1:]))
	if n < 3 {
		return 0, nil, fmt.Errorf("%w: length %d", ErrMalformed, n)
	}
	data := make([]byte, n)
	if err := readFull(r, data); err != nil {
		return 0, nil, err
	}

	pkt := append(append(append([]byte{}, header...), rest...), data[:n-2]...)
	if got, want := binary.LittleEndian.Uint16(data[n-2:]), crc16(pkt); got != want {
		return 0, nil, fmt.Errorf("%w: got %#04x want %#04x", ErrCRC, got, want)
	}
	return rest[0], unstuff(data[:n-2]), nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readFull(r io.Reader, p []byte) error {
	for off := 0; off < len(p); {
		n, err := r.Read(p[off:])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		off += n
	}
	return nil
}
