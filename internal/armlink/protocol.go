// Package armlink talks to the arm controller over its JSON-RPC websocket
// API and adapts it to motion.Arm. A Simulator serving the same API is
// included for dry runs and tests.
package armlink

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/handeye/internal/geometry"
)

// Controller method names.
const (
	MethodMoveL      = "movel"
	MethodMoveJ      = "movej"
	MethodWaitMove   = "wait_move"
	MethodGetKinData = "get_kin_data"
	MethodStopMove   = "stop_move"
	MethodStartSys   = "start_sys"
)

// Error codes returned by the controller.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeMotionStopped  = -32001
	CodeFault          = -32002
)

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error reported by the controller.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("controller error %d: %s", e.Code, e.Message)
}

// Pose is the controller's Cartesian pose: metres and XYZ Euler radians.
type Pose struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
}

// PoseFromTransform converts a transform to the controller pose format.
func PoseFromTransform(t geometry.Transform) Pose {
	v := geometry.PoseVectorFromTransform(t)
	return Pose{X: v.X, Y: v.Y, Z: v.Z, RX: v.RX, RY: v.RY, RZ: v.RZ}
}

// Transform converts the controller pose to a transform.
func (p Pose) Transform() geometry.Transform {
	return geometry.PoseVector{X: p.X, Y: p.Y, Z: p.Z, RX: p.RX, RY: p.RY, RZ: p.RZ}.Transform()
}

type cartesianTarget struct {
	Pose Pose `json:"pose"`
}

type jointTarget struct {
	Joint []float64 `json:"joint"`
}

type motionParams struct {
	Acceleration float64 `json:"a"`
	Velocity     float64 `json:"v"`
}

// KinData is the kinematic state reported by get_kin_data.
type KinData struct {
	ActualTCPPose    Pose      `json:"actual_tcp_pose"`
	TargetTCPPose    Pose      `json:"target_tcp_pose"`
	ActualJointPose  []float64 `json:"actual_joint_pose"`
	TargetJointPose  []float64 `json:"target_joint_pose"`
	ActualTCPSpeed   []float64 `json:"actual_tcp_speed,omitempty"`
	ActualJointSpeed []float64 `json:"actual_joint_speed,omitempty"`
}

func encodeParams(params ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
