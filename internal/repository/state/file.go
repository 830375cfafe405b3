package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// Repository defines persistence operations for the ship snapshot.
type Repository interface {
	Load(ctx context.Context) (*safety.ShipSnapshot, error)
	Save(ctx context.Context, snapshot *safety.ShipSnapshot) error
}

// FileRepository persists the ship snapshot to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) over a
// structpb.Struct so the file matches what the gRPC surface returns.
type FileRepository struct {
	// path is the filesystem location of the JSON snapshot file.
	path string
	// mu protects concurrent access to the snapshot file.
	mu sync.Mutex
}

// ErrNotFound is returned when the snapshot file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the snapshot from disk.
func (r *FileRepository) Load(_ context.Context) (*safety.ShipSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var protoState structpb.Struct
	if err = protojson.Unmarshal(contents, &protoState); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromProto(&protoState)
}

// Save writes the snapshot to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, snapshot *safety.ShipSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protoState, err := toProto(snapshot)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		EmitUnpopulated: true,
		Multiline:       true,
	}

	data, err := marshalOptions.Marshal(protoState)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	// Write through a temporary file so a crash never leaves half a snapshot.
	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// fromProto converts the stored structpb.Struct into the domain snapshot.
func fromProto(protoState *structpb.Struct) (*safety.ShipSnapshot, error) {
	fields := protoState.GetFields()

	snapshot := &safety.ShipSnapshot{
		Status:        safety.ShipStatus(fields["status"].GetStringValue()),
		LastEventID:   fields["last_event_id"].GetStringValue(),
		LastEventKind: fields["last_event_kind"].GetStringValue(),
	}

	updatedAt, err := parseTime(fields["updated_at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}

	snapshot.UpdatedAt = updatedAt

	if operator := fields["last_operator"].GetStructValue(); operator != nil {
		snapshot.LastOperator = &safety.Operator{
			Hostname: operator.GetFields()["hostname"].GetStringValue(),
			Username: operator.GetFields()["username"].GetStringValue(),
		}
	}

	if tests := fields["last_tests"].GetStructValue(); tests != nil {
		snapshot.LastTests = make(map[safety.SystemType]time.Time, len(tests.GetFields()))

		for name, value := range tests.GetFields() {
			system, ok := safety.ParseSystemType(name)
			if !ok {
				continue
			}

			at, err := parseTime(value.GetStringValue())
			if err != nil {
				return nil, fmt.Errorf("decode last test of %s: %w", name, err)
			}

			snapshot.LastTests[system] = at
		}
	}

	return snapshot, nil
}

// toProto converts the domain snapshot into a structpb.Struct.
func toProto(snapshot *safety.ShipSnapshot) (*structpb.Struct, error) {
	fields := map[string]any{
		"status":          string(snapshot.Status),
		"updated_at":      formatTime(snapshot.UpdatedAt),
		"last_event_id":   snapshot.LastEventID,
		"last_event_kind": snapshot.LastEventKind,
	}

	if snapshot.LastOperator != nil {
		fields["last_operator"] = map[string]any{
			"hostname": snapshot.LastOperator.Hostname,
			"username": snapshot.LastOperator.Username,
		}
	}

	if len(snapshot.LastTests) > 0 {
		tests := make(map[string]any, len(snapshot.LastTests))
		for system, at := range snapshot.LastTests {
			tests[string(system)] = formatTime(at)
		}

		fields["last_tests"] = tests
	}

	return structpb.NewStruct(fields)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}
