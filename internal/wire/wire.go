// Package wire defines the request/reply documents exchanged between the
// control-side client and the inference server, and their JSON codec.
//
// A request is a single JSON object whose keys are observation channel names
// mapped to nested numeric arrays. Two keys are reserved: "task" carries an
// optional natural-language instruction and "robot_type" an optional robot
// tag. A reply is either {"status":"success","action":[...]} or
// {"status":"error","error":"..."} — no other top-level shape is legal.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/clawinfra/teleclaw/internal/tensor"
)

// Reserved top-level request keys that are not observation channels.
const (
	KeyTask      = "task"
	KeyRobotType = "robot_type"
)

// Response status discriminants.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the serialized form of one observation.
type Request struct {
	Channels  map[string]tensor.Tensor
	Task      string
	RobotType string
}

// Response is the server's reply to one request.
type Response struct {
	Status string        `json:"status"`
	Action tensor.Tensor `json:"-"`
	Error  string        `json:"error,omitempty"`
}

// Success builds a success response carrying the given action.
func Success(action tensor.Tensor) *Response {
	return &Response{Status: StatusSuccess, Action: action}
}

// Errorf builds an error response with a formatted message.
func Errorf(format string, args ...any) *Response {
	return &Response{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// Err returns the server-reported failure as an error, or nil on success.
func (r *Response) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	return fmt.Errorf("server error: %s", r.Error)
}

// MarshalJSON flattens the channel map into top-level keys alongside the
// reserved task and robot_type fields.
func (r *Request) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Channels)+2)
	for name, t := range r.Channels {
		if name == KeyTask || name == KeyRobotType {
			return nil, fmt.Errorf("wire: channel name %q is reserved", name)
		}
		doc[name] = t.Nested()
	}
	if r.Task != "" {
		doc[KeyTask] = r.Task
	}
	if r.RobotType != "" {
		doc[KeyRobotType] = r.RobotType
	}
	return json.Marshal(doc)
}

// UnmarshalJSON separates the reserved string fields from the numeric channel
// map and decodes each channel into a tensor.
func (r *Request) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("wire: decode request: %w", err)
	}

	r.Channels = make(map[string]tensor.Tensor, len(doc))
	for key, v := range doc {
		switch key {
		case KeyTask, KeyRobotType:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("wire: %s must be a string, got %T", key, v)
			}
			if key == KeyTask {
				r.Task = s
			} else {
				r.RobotType = s
			}
		default:
			t, err := tensor.FromNested(v)
			if err != nil {
				return fmt.Errorf("wire: channel %q: %w", key, err)
			}
			r.Channels[key] = t
		}
	}
	return nil
}

// MarshalJSON emits exactly one of the two legal response shapes.
func (r *Response) MarshalJSON() ([]byte, error) {
	switch r.Status {
	case StatusSuccess:
		return json.Marshal(map[string]any{
			"status": StatusSuccess,
			"action": r.Action.Nested(),
		})
	case StatusError:
		return json.Marshal(map[string]any{
			"status": StatusError,
			"error":  r.Error,
		})
	default:
		return nil, fmt.Errorf("wire: illegal response status %q", r.Status)
	}
}

// UnmarshalJSON validates the status discriminant and decodes the action
// array on success responses.
func (r *Response) UnmarshalJSON(data []byte) error {
	var doc struct {
		Status string `json:"status"`
		Action any    `json:"action"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("wire: decode response: %w", err)
	}

	switch doc.Status {
	case StatusSuccess:
		if doc.Action == nil {
			return fmt.Errorf("wire: success response missing action")
		}
		t, err := tensor.FromNested(doc.Action)
		if err != nil {
			return fmt.Errorf("wire: action: %w", err)
		}
		r.Status = StatusSuccess
		r.Action = t
		r.Error = ""
	case StatusError:
		r.Status = StatusError
		r.Error = doc.Error
	default:
		return fmt.Errorf("wire: illegal response status %q", doc.Status)
	}
	return nil
}
