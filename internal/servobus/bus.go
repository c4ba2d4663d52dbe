package servobus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/handeye/internal/monitoring"
)

// DefaultTimeout bounds a single status read.
const DefaultTimeout = 50 * time.Millisecond

// Bus is a half-duplex Dynamixel protocol 2.0 bus. It serialises
// transactions so several goroutines may share one port.
type Bus struct {
	port    Porter
	timeout time.Duration

	mu sync.Mutex
}

// NewBus wraps an open port. A zero timeout takes DefaultTimeout.
func NewBus(port Porter, timeout time.Duration) (*Bus, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &Bus{port: port, timeout: timeout}, nil
}

// Close closes the underlying port.
func (b *Bus) Close() error {
	return b.port.Close()
}

func (b *Bus) transact(id, inst byte, params []byte) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write(EncodePacket(id, inst, params)); err != nil {
		return Status{}, fmt.Errorf("write to servo %d: %w", id, err)
	}
	if id == BroadcastID {
		return Status{}, nil
	}
	st, err := ReadStatus(b.port)
	if err != nil {
		return Status{}, fmt.Errorf("servo %d: %w", id, err)
	}
	if st.ID != id {
		return Status{}, fmt.Errorf("%w: reply from servo %d, expected %d", ErrMalformed, st.ID, id)
	}
	if st.Err != 0 {
		return st, &StatusError{ID: id, Code: st.Err & 0x7F, Alert: st.Err&0x80 != 0}
	}
	return st, nil
}

// Ping checks that a servo answers.
func (b *Bus) Ping(id byte) error {
	_, err := b.transact(id, InstPing, nil)
	return err
}

// Read reads n bytes of the control table starting at addr.
func (b *Bus) Read(id byte, addr uint16, n uint16) ([]byte, error) {
	params := binary.LittleEndian.AppendUint16(nil, addr)
	params = binary.LittleEndian.AppendUint16(params, n)
	st, err := b.transact(id, InstRead, params)
	if err != nil {
		return nil, err
	}
	if len(st.Params) != int(n) {
		return nil, fmt.Errorf("%w: servo %d returned %d bytes, want %d", ErrMalformed, id, len(st.Params), n)
	}
	return st.Params, nil
}

// Write writes data to the control table at addr.
func (b *Bus) Write(id byte, addr uint16, data []byte) error {
	params := binary.LittleEndian.AppendUint16(nil, addr)
	_, err := b.transact(id, InstWrite, append(params, data...))
	return err
}

// ReadPosition returns the present position register as a signed count.
// The register is 32 bits wide and wraps past multi-turn limits.
func (b *Bus) ReadPosition(id byte) (int32, error) {
	data, err := b.Read(id, AddrPresentPosition, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

// SetTorque enables or disables holding torque.
func (b *Bus) SetTorque(id byte, on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	return b.Write(id, AddrTorqueEnable, []byte{v})
}

// CountsCenter is the centre of the 0..4095 position range.
const CountsCenter = (4096 - 1) / 2

// PosToRadians converts a position count to an angle, with one
// half-revolution per CountsCenter counts.
func PosToRadians(pos int32) float64 {
	return float64(pos) / CountsCenter * math.Pi
}

// DefaultIDs are the servo IDs of the six-joint teleoperation arm.
var DefaultIDs = []byte{1, 2, 3, 4, 5, 6}

// AngleReader reads joint angles from a chain of servos.
type AngleReader struct {
	bus *Bus
	ids []byte
}

// NewAngleReader reads the given servo IDs in order. No IDs means DefaultIDs.
func NewAngleReader(bus *Bus, ids ...byte) *AngleReader {
	if len(ids) == 0 {
		ids = DefaultIDs
	}
	return &AngleReader{bus: bus, ids: append([]byte(nil), ids...)}
}

// ReadAngles returns one angle in radians per servo.
func (r *AngleReader) ReadAngles(ctx context.Context) ([]float64, error) {
	angles := make([]float64, len(r.ids))
	for i, id := range r.ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos, err := r.bus.ReadPosition(id)
		if err != nil {
			return nil, fmt.Errorf("read joint %d: %w", i+1, err)
		}
		angles[i] = PosToRadians(pos)
	}
	monitoring.Debugf("servobus: angles %.3f", angles)
	return angles, nil
}

// SetTorque switches holding torque for every servo in the chain.
func (r *AngleReader) SetTorque(on bool) error {
	for _, id := range r.ids {
		if err := r.bus.SetTorque(id, on); err != nil {
			return err
		}
	}
	return nil
}
