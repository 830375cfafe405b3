package safety

import (
	"context"
	"maps"
	"time"
)

// Operator identifies who issued a command.
type Operator struct {
	// Hostname is the machine the command came from.
	Hostname string `json:"hostname"`
	// Username is the logged in user.
	Username string `json:"username"`
}

// Clone returns a copy of the operator.
func (o *Operator) Clone() *Operator {
	if o == nil {
		return nil
	}

	cloned := *o

	return &cloned
}

// String renders the operator as user@host.
func (o *Operator) String() string {
	if o == nil {
		return ""
	}

	return o.Username + "@" + o.Hostname
}

type operatorKey struct{}

// ContextWithOperator attaches the issuing operator to ctx.
func ContextWithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op.Clone())
}

// OperatorFromContext returns the operator attached to ctx, if any.
func OperatorFromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorKey{}).(*Operator)

	return op.Clone()
}

// ShipSnapshot is the coordinator state persisted between restarts.
type ShipSnapshot struct {
	// Status is the ship-wide status when the snapshot was taken.
	Status ShipStatus `json:"status"`
	// UpdatedAt is when the snapshot was taken.
	UpdatedAt time.Time `json:"updated_at"`
	// LastEventID is the last processed event.
	LastEventID string `json:"last_event_id,omitempty"`
	// LastEventKind is the kind of the last processed event.
	LastEventKind string `json:"last_event_kind,omitempty"`
	// LastOperator issued the most recent command.
	LastOperator *Operator `json:"last_operator,omitempty"`
	// LastTests holds the latest self-test time per subsystem.
	LastTests map[SystemType]time.Time `json:"last_tests,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *ShipSnapshot) Clone() *ShipSnapshot {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.LastOperator = s.LastOperator.Clone()
	cloned.LastTests = maps.Clone(s.LastTests)

	return &cloned
}
