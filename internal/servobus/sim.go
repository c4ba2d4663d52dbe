package servobus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by a closed SimulatedPort.
var ErrPortClosed = errors.New("serial port closed")

const controlTableSize = 256

// SimulatedPort is an in-memory Dynamixel bus. Instruction packets written
// to it are answered by the simulated servos on the next Read. A Read with
// nothing queued returns 0, nil like a timed-out serial read.
type SimulatedPort struct {
	mu sync.Mutex

	servos  map[byte]*[controlTableSize]byte
	silent  map[byte]bool
	faults  map[byte]byte
	corrupt bool

	readBuf  bytes.Buffer
	written  bytes.Buffer
	closed   bool
	timeout  time.Duration
	requests int
}

// NewSimulatedPort creates a bus with servos at the given IDs, all at
// position zero.
func NewSimulatedPort(ids ...byte) *SimulatedPort {
	p := &SimulatedPort{
		servos: make(map[byte]*[controlTableSize]byte),
		silent: make(map[byte]bool),
		faults: make(map[byte]byte),
	}
	for _, id := range ids {
		p.servos[id] = new([controlTableSize]byte)
	}
	return p
}

// SetPosition sets the present position register of a servo.
func (p *SimulatedPort) SetPosition(id byte, pos int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tbl, ok := p.servos[id]; ok {
		binary.LittleEndian.PutUint32(tbl[AddrPresentPosition:], uint32(pos))
	}
}

// Register returns n bytes of a servo's control table.
func (p *SimulatedPort) Register(id byte, addr uint16, n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	tbl, ok := p.servos[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), tbl[addr:int(addr)+n]...)
}

// Silence makes a servo stop answering.
func (p *SimulatedPort) Silence(id byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent[id] = true
}

// Fault sets the error byte a servo reports in every status packet.
func (p *SimulatedPort) Fault(id, code byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[id] = code
}

// CorruptNext flips a CRC bit in the next reply.
func (p *SimulatedPort) CorruptNext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.corrupt = true
}

// Requests is the number of instruction packets received.
func (p *SimulatedPort) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// Written returns every byte written to the port.
func (p *SimulatedPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

// ReadTimeout reports the last timeout set on the port.
func (p *SimulatedPort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

func (p *SimulatedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.readBuf.Len() == 0 {
		return 0, nil
	}
	return p.readBuf.Read(b)
}

func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	p.written.Write(b)

	r := bytes.NewReader(b)
	for r.Len() > 0 {
		id, body, err := readPacket(r)
		if err != nil {
			break
		}
		p.requests++
		p.handle(id, body)
	}
	return len(b), nil
}

func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *SimulatedPort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = timeout
	return nil
}

func (p *SimulatedPort) handle(id byte, body []byte) {
	if id == BroadcastID {
		for sid := range p.servos {
			p.apply(sid, body)
		}
		return
	}
	if _, ok := p.servos[id]; !ok || p.silent[id] {
		return
	}
	params, errByte := p.apply(id, body)
	if code, ok := p.faults[id]; ok {
		errByte = code
	}
	reply := EncodePacket(id, InstStatus, append([]byte{errByte}, params...))
	if p.corrupt {
		reply[len(reply)-1] ^= 0x01
		p.corrupt = false
	}
	p.readBuf.Write(reply)
}

// apply executes one instruction and returns the status parameters and
// error byte.
func (p *SimulatedPort) apply(id byte, body []byte) ([]byte, byte) {
	tbl := p.servos[id]
	inst, params := body[0], body[1:]
	switch inst {
	case InstPing:
		// model 1060 (XL430), firmware 46
		return []byte{0x24, 0x04, 46}, 0
	case InstRead:
		if len(params) != 4 {
			return nil, 5
		}
		addr := int(binary.LittleEndian.Uint16(params))
		n := int(binary.LittleEndian.Uint16(params[2:]))
		if addr+n > controlTableSize {
			return nil, 7
		}
		return append([]byte(nil), tbl[addr:addr+n]...), 0
	case InstWrite:
		if len(params) < 3 {
			return nil, 5
		}
		addr := int(binary.LittleEndian.Uint16(params))
		data := params[2:]
		if addr+len(data) > controlTableSize {
			return nil, 7
		}
		copy(tbl[addr:], data)
		if addr == int(AddrGoalPosition) && len(data) == 4 {
			copy(tbl[AddrPresentPosition:], data)
		}
		return nil, 0
	default:
		return nil, 2
	}
}
