package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// Error codes carried in failed envelopes.
const (
	CodeNotFound           = "not_found"
	CodeInvalidTransition  = "invalid_transition"
	CodeIntegrationFailure = "integration_failure"
	CodeUnavailable        = "unavailable"
	CodeInvalidArgument    = "invalid_argument"
	CodeInternal           = "internal"
)

// envelope is the JSON shape of every unary reply.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// errMalformed marks request decoding failures; they become InvalidArgument.
var errMalformed = errors.New("malformed request")

// toStruct converts any JSON-serialisable value into a Struct.
func toStruct(value any) (*structpb.Struct, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}

	out := new(structpb.Struct)
	if err = protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}

	return out, nil
}

// fromStruct decodes a Struct into target through its JSON form.
func fromStruct(in *structpb.Struct, target any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	if err = json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	return nil
}

func successReply(result any) (*structpb.Struct, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	return toStruct(envelope{Success: true, Result: data})
}

func failureReply(err error) (*structpb.Struct, error) {
	return toStruct(envelope{Error: err.Error(), Code: errorCode(err)})
}

// errorCode maps the domain taxonomy onto envelope codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, safety.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, safety.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, safety.ErrIntegrationFailure):
		return CodeIntegrationFailure
	case errors.Is(err, safety.ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, coordinator.ErrZoneRequired),
		errors.Is(err, coordinator.ErrKindRequired),
		errors.Is(err, coordinator.ErrInvalidParam):
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}

// codeError restores the domain sentinel for a code so callers can use errors.Is.
func codeError(code, message string) error {
	var sentinel error

	switch code {
	case CodeNotFound:
		sentinel = safety.ErrNotFound
	case CodeInvalidTransition:
		sentinel = safety.ErrInvalidTransition
	case CodeIntegrationFailure:
		sentinel = safety.ErrIntegrationFailure
	case CodeUnavailable:
		sentinel = safety.ErrUnavailable
	default:
		return errors.New(message)
	}

	return &RemoteError{Message: message, sentinel: sentinel}
}

// RemoteError is a domain failure reported by the server.
type RemoteError struct {
	// Message is the server-side error text.
	Message string

	sentinel error
}

func (e *RemoteError) Error() string { return e.Message }

// Unwrap exposes the matching domain sentinel.
func (e *RemoteError) Unwrap() error { return e.sentinel }

// request is a read view over the request fields.
type request map[string]any

func newRequest(in *structpb.Struct) request {
	if in == nil {
		return request{}
	}

	return in.AsMap()
}

func (r request) text(key string) (string, error) {
	value, ok := r[key]
	if !ok || value == nil {
		return "", nil
	}

	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", errMalformed, key)
	}

	return strings.TrimSpace(s), nil
}

func (r request) number(key string) (float64, bool, error) {
	value, ok := r[key]
	if !ok || value == nil {
		return 0, false, nil
	}

	n, ok := value.(float64)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false, fmt.Errorf("%w: %s must be a number", errMalformed, key)
	}

	return n, true, nil
}

func (r request) object(key string) (map[string]any, error) {
	value, ok := r[key]
	if !ok || value == nil {
		return nil, nil
	}

	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", errMalformed, key)
	}

	return m, nil
}

func (r request) timestamp(key string) (time.Time, error) {
	s, err := r.text(key)
	if err != nil || s == "" {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 time", errMalformed, key)
	}

	return t, nil
}

// system reads a system type; required controls whether it may be empty.
func (r request) system(key string, required bool) (safety.SystemType, error) {
	s, err := r.text(key)
	if err != nil {
		return "", err
	}

	if s == "" {
		if required {
			return "", fmt.Errorf("%w: %s is required", errMalformed, key)
		}

		return "", nil
	}

	system, ok := safety.ParseSystemType(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown %s %q", errMalformed, key, s)
	}

	return system, nil
}

func (r request) operator() (*safety.Operator, error) {
	m, err := r.object("operator")
	if err != nil || m == nil {
		return nil, err
	}

	fields := request(m)

	hostname, err := fields.text("hostname")
	if err != nil {
		return nil, err
	}

	username, err := fields.text("username")
	if err != nil {
		return nil, err
	}

	if hostname == "" && username == "" {
		return nil, nil
	}

	return &safety.Operator{Hostname: hostname, Username: username}, nil
}

// operatorFields renders an operator for a request.
func operatorFields(op *safety.Operator) map[string]any {
	if op == nil {
		return nil
	}

	return map[string]any{"hostname": op.Hostname, "username": op.Username}
}
