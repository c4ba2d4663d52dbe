package armlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/motion"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("arm link closed")

// Options configures a Client.
type Options struct {
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration
	// CallTimeout bounds calls whose context has no deadline. wait_move is
	// exempt: the motion gate bounds it with the profile timeout.
	CallTimeout time.Duration
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return Options{HandshakeTimeout: 5 * time.Second, CallTimeout: 5 * time.Second}
}

// Client is a JSON-RPC client for the arm controller. It implements
// motion.Arm and is safe for concurrent use.
type Client struct {
	conn *websocket.Conn
	opts Options

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan response
	err     error
	done    chan struct{}
}

var _ motion.Arm = (*Client)(nil)

// Dial connects to the controller at url (ws://host:port).
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultOptions().HandshakeTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial arm controller %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		opts:    opts,
		pending: make(map[string]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	monitoring.Logf("armlink: connected to %s", url)
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			monitoring.Debugf("armlink: response for unknown call %q", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

// Close closes the connection. Calls in flight fail with ErrClosed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Call invokes method with positional params and decodes the result into
// result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) error {
	raw, err := encodeParams(params...)
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", method, err)
	}
	if _, ok := ctx.Deadline(); !ok && method != MethodWaitMove {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	req := request{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: raw}
	ch := make(chan response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
	err = c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%s: %w", method, c.err)
	}
}

// StartSystem powers up the controller.
func (c *Client) StartSystem(ctx context.Context) error {
	return c.Call(ctx, MethodStartSys, nil)
}

// KinData reads the kinematic state.
func (c *Client) KinData(ctx context.Context) (KinData, error) {
	var kd KinData
	err := c.Call(ctx, MethodGetKinData, &kd)
	return kd, err
}

// CurrentPose returns the actual TCP pose.
func (c *Client) CurrentPose(ctx context.Context) (geometry.Transform, error) {
	kd, err := c.KinData(ctx)
	if err != nil {
		return geometry.Transform{}, err
	}
	return kd.ActualTCPPose.Transform(), nil
}

// Move issues a movel or movej and waits for it to finish.
func (c *Client) Move(ctx context.Context, cmd motion.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	mp := motionParams{Acceleration: cmd.Profile.Acceleration, Velocity: cmd.Profile.Velocity}
	var id int
	var err error
	switch cmd.Kind {
	case motion.Cartesian:
		err = c.Call(ctx, MethodMoveL, &id, cartesianTarget{Pose: PoseFromTransform(cmd.Pose)}, mp)
	case motion.Joint:
		err = c.Call(ctx, MethodMoveJ, &id, jointTarget{Joint: cmd.Joints}, mp)
	}
	if err != nil {
		return err
	}
	return c.Call(ctx, MethodWaitMove, nil, id)
}

// Stop halts the current motion.
func (c *Client) Stop(ctx context.Context) error {
	return c.Call(ctx, MethodStopMove, nil)
}
