package armlink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/timeutil"
)

// Simulator is an in-process arm controller. Moves take MoveTime on the
// simulator clock and reach their target exactly unless stopped.
type Simulator struct {
	clock    timeutil.Clock
	moveTime time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	pose    Pose
	joints  []float64
	nextID  int
	motions map[int]*simMotion
	stops   int
	calls   []string
	faults  map[string]*RPCError
}

type simMotion struct {
	pose   *Pose
	joints []float64
	stop   chan struct{}
	once   sync.Once
}

// NewSimulator returns a simulator resting at home. A nil clock uses the
// real clock.
func NewSimulator(clock timeutil.Clock, moveTime time.Duration, home geometry.Transform) *Simulator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Simulator{
		clock:    clock,
		moveTime: moveTime,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		pose:     PoseFromTransform(home),
		joints:   make([]float64, 6),
		motions:  make(map[int]*simMotion),
		faults:   make(map[string]*RPCError),
	}
}

// Fail makes every later call of method return err until cleared with nil.
func (s *Simulator) Fail(method string, err *RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// Pose returns the simulated TCP pose.
func (s *Simulator) Pose() geometry.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose.Transform()
}

// Calls returns the method names received so far.
func (s *Simulator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Stops returns how many stop_move calls were received.
func (s *Simulator) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// ServeHTTP upgrades to a websocket and serves JSON-RPC requests. Each
// request runs in its own goroutine so stop_move can interrupt wait_move.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("armlink sim: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		go func() {
			resp := s.handle(req)
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(resp); err != nil {
				monitoring.Debugf("armlink sim: write: %v", err)
			}
		}()
	}
}

func (s *Simulator) handle(req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}
	result, rpcErr := s.dispatch(req)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: CodeFault, Message: err.Error()}
			return resp
		}
		resp.Result = b
	}
	return resp
}

func param[T any](req request, i int) (T, *RPCError) {
	var v T
	if i >= len(req.Params) {
		return v, &RPCError{Code: CodeInvalidParams, Message: "missing parameter"}
	}
	if err := json.Unmarshal(req.Params[i], &v); err != nil {
		return v, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return v, nil
}

func (s *Simulator) dispatch(req request) (any, *RPCError) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Method)
	fault := s.faults[req.Method]
	s.mu.Unlock()
	if fault != nil {
		return nil, fault
	}

	switch req.Method {
	case MethodStartSys:
		return true, nil
	case MethodGetKinData:
		s.mu.Lock()
		defer s.mu.Unlock()
		return KinData{
			ActualTCPPose:   s.pose,
			TargetTCPPose:   s.pose,
			ActualJointPose: append([]float64(nil), s.joints...),
			TargetJointPose: append([]float64(nil), s.joints...),
		}, nil
	case MethodMoveL:
		target, err := param[cartesianTarget](req, 0)
		if err != nil {
			return nil, err
		}
		return s.start(&simMotion{pose: &target.Pose}), nil
	case MethodMoveJ:
		target, err := param[jointTarget](req, 0)
		if err != nil {
			return nil, err
		}
		return s.start(&simMotion{joints: target.Joint}), nil
	case MethodWaitMove:
		id, err := param[int](req, 0)
		if err != nil {
			return nil, err
		}
		return s.wait(id)
	case MethodStopMove:
		s.mu.Lock()
		s.stops++
		for _, m := range s.motions {
			m.once.Do(func() { close(m.stop) })
		}
		s.mu.Unlock()
		return true, nil
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Simulator) start(m *simMotion) int {
	m.stop = make(chan struct{})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.motions[s.nextID] = m
	return s.nextID
}

func (s *Simulator) wait(id int) (any, *RPCError) {
	s.mu.Lock()
	m, ok := s.motions[id]
	s.mu.Unlock()
	if !ok {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "unknown motion"}
	}
	defer func() {
		s.mu.Lock()
		delete(s.motions, id)
		s.mu.Unlock()
	}()

	if s.moveTime > 0 {
		t := s.clock.NewTimer(s.moveTime)
		defer t.Stop()
		select {
		case <-t.C():
		case <-m.stop:
			return nil, &RPCError{Code: CodeMotionStopped, Message: "motion stopped"}
		}
	}
	select {
	case <-m.stop:
		return nil, &RPCError{Code: CodeMotionStopped, Message: "motion stopped"}
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.pose != nil {
		s.pose = *m.pose
	}
	if m.joints != nil {
		s.joints = append([]float64(nil), m.joints...)
	}
	return true, nil
}
