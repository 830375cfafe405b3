package comms

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Event kinds emitted by the adapter.
const (
	EventDistressCall          = "distress_call"
	EventDistressCallCancelled = "distress_call_cancelled"
	EventSafetyMessageSent     = "safety_message_sent"
)

// Trigger and reset targets.
const (
	TargetDistress = "distress"
	TargetAll      = "all"
)

const (
	offlinePenalty  = 15
	criticalPenalty = 25
	// messageHistory bounds the sent message log.
	messageHistory = 50
	// recentMessages is how many log entries Status reports.
	recentMessages = 10
	// distressKey is the Status zone key of the distress channel.
	distressKey = "distress"
)

//nolint:gochecknoglobals // Immutable scoring table.
var stalePolicy = subsystem.StalePolicy{GraceDays: 7, Cap: 30, Never: 20}

// Transmission is the outcome of one radio transmission.
type Transmission struct {
	// Recipient is the contact key; empty for distress broadcasts.
	Recipient string `json:"recipient,omitempty"`
	// Radio is the radio id used.
	Radio string `json:"radio,omitempty"`
	// Channel is the channel or frequency used.
	Channel string `json:"channel,omitempty"`
	// Delivered reports success.
	Delivered bool `json:"delivered"`
	// Reason explains a failure.
	Reason string `json:"reason,omitempty"`
}

// Message is a sent safety message.
type Message struct {
	ID         string         `json:"message_id"`
	Content    string         `json:"content"`
	Priority   string         `json:"priority"`
	Recipients []string       `json:"recipients"`
	Results    []Transmission `json:"transmission_results"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Adapter is the external communication subsystem.
type Adapter struct {
	// tx serializes transmissions so a distress call is only sent once.
	tx sync.Mutex
	// mu protects the fields below except emitter and sessions.
	mu sync.RWMutex
	// emitter delivers events to the registered sink.
	emitter subsystem.Emitter
	// opts carries the clock, scheduler and test policy.
	opts subsystem.Options
	// cfg is the validated layout the adapter was built from.
	cfg Config
	// radios holds live radio state by id.
	radios map[string]*Radio
	// contacts maps contact keys to routing details.
	contacts map[string]Contact
	// messages keeps the latest safety messages, oldest first.
	messages []Message
	// sessions tracks distress calls.
	sessions *subsystem.Sessions
	// lastTest is when the last self-test ran.
	lastTest time.Time
}

var _ safety.Adapter = (*Adapter)(nil)

// New builds the adapter from a layout.
func New(cfg Config, opts ...subsystem.Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := subsystem.NewOptions(opts...)

	a := &Adapter{
		opts:     options,
		cfg:      cfg,
		radios:   make(map[string]*Radio, len(cfg.Radios)),
		contacts: make(map[string]Contact, len(cfg.Contacts)),
		sessions: subsystem.NewSessions(options.Clock, options.Scheduler),
	}

	for _, radio := range cfg.Radios {
		a.radios[radio.ID] = &radio
	}

	for _, contact := range cfg.Contacts {
		a.contacts[contact.Name] = contact
	}

	return a, nil
}

// System identifies the adapter.
func (a *Adapter) System() safety.SystemType {
	return safety.SystemCommunication
}

// RegisterEventSink sets the single event consumer.
func (a *Adapter) RegisterEventSink(sink safety.EventSink) error {
	return a.emitter.Register(sink)
}

// Trigger sends a distress call when req.Target is "distress" and a safety
// message to the comma-separated contact list otherwise.
func (a *Adapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Target == TargetDistress {
		return a.sendDistress(ctx, req.Reason, req.Params["position"])
	}

	priority := PrioritySafety
	if p, ok := req.Params.String("priority"); ok {
		priority = p
	}

	return a.SendSafetyMessage(ctx, req.Reason, splitList(req.Target), priority)
}

// SendSafetyMessage delivers a message to every recipient through the first
// available route. It fails with ErrIntegrationFailure when nobody was reached.
func (a *Adapter) SendSafetyMessage(
	ctx context.Context,
	message string,
	recipients []string,
	priority string,
) (*safety.Result, error) {
	if !ValidPriority(priority) {
		return nil, fmt.Errorf("message priority %q: %w", priority, safety.ErrNotFound)
	}

	if len(recipients) == 0 {
		recipients = []string{"coast_guard"}
	}

	contacts := make([]Contact, 0, len(recipients))

	for _, name := range recipients {
		contact, ok := a.contacts[name]
		if !ok {
			return nil, fmt.Errorf("contact %q: %w", name, safety.ErrNotFound)
		}

		contacts = append(contacts, contact)
	}

	a.tx.Lock()
	defer a.tx.Unlock()

	var (
		results   = make([]Transmission, 0, len(contacts))
		delivered []string
		failed    []string
	)

	for _, contact := range contacts {
		tr, err := a.transmitTo(ctx, contact)
		if err != nil {
			return nil, err
		}

		results = append(results, tr)

		if tr.Delivered {
			delivered = append(delivered, contact.Name)
		} else {
			failed = append(failed, contact.Name)
		}
	}

	if len(delivered) == 0 {
		return nil, fmt.Errorf("send safety message to %s: %w",
			strings.Join(recipients, ","), safety.ErrIntegrationFailure)
	}

	a.mu.Lock()

	now := a.opts.Clock()
	sent := Message{
		ID:         "SAFE-" + strings.ToUpper(uuid.NewString()[:8]),
		Content:    message,
		Priority:   priority,
		Recipients: slices.Clone(recipients),
		Results:    results,
		Timestamp:  now,
	}

	a.messages = append(a.messages, sent)
	if len(a.messages) > messageHistory {
		a.messages = slices.Delete(a.messages, 0, len(a.messages)-messageHistory)
	}

	a.mu.Unlock()

	logger.WarnKV(ctx, "Safety message sent", "message_id", sent.ID, "priority", priority,
		"delivered", delivered, "failed", failed)

	a.emitter.Emit(safety.NewEvent(safety.SystemCommunication, EventSafetyMessageSent, safety.Payload{
		"message_id": sent.ID,
		"message":    message,
		"priority":   priority,
		"recipients": slices.Clone(recipients),
		"delivered":  delivered,
		"failed":     failed,
	}, now))

	result := &safety.Result{
		Success:  true,
		System:   safety.SystemCommunication,
		Action:   safety.ActionTrigger,
		Target:   strings.Join(recipients, ","),
		Message:  fmt.Sprintf("delivered to %d of %d recipient(s)", len(delivered), len(recipients)),
		Affected: delivered,
		Details: safety.Payload{
			"message_id":           sent.ID,
			"priority":             priority,
			"transmission_results": transmissionsPayload(results),
		},
		Timestamp: now,
	}

	if len(failed) > 0 {
		result.Error = "unreachable: " + strings.Join(failed, ",")
	}

	return result, nil
}

// sendDistress broadcasts a MAYDAY on every available emergency-capable radio
// and opens the distress session. An active session makes it a no-op.
func (a *Adapter) sendDistress(ctx context.Context, nature string, position any) (*safety.Result, error) {
	if nature == "" {
		nature = "UNSPECIFIED"
	}

	a.tx.Lock()
	defer a.tx.Unlock()

	if active := a.activeDistress(); active != nil {
		result := a.distressResult(active, active.Details["channels"])
		result.Message = "distress call already active"

		return result, nil
	}

	a.mu.RLock()
	ship := a.cfg.ShipName
	radios := make([]Radio, 0, len(a.cfg.Radios))

	for _, cfg := range a.cfg.Radios {
		if radio := a.radios[cfg.ID]; radio.EmergencyCapable && radio.Status != RadioOffline {
			radios = append(radios, *radio)
		}
	}
	a.mu.RUnlock()

	if len(radios) == 0 {
		return nil, fmt.Errorf("distress call: no emergency radio available: %w", safety.ErrIntegrationFailure)
	}

	message := DistressMessage(ship, nature, position)
	channels := make([]string, 0, len(radios))

	for _, radio := range radios {
		if err := subsystem.Wait(ctx, a.opts.IODelay); err != nil {
			return nil, fmt.Errorf("transmit distress on %s: %w", radio.ID, err)
		}

		logger.ErrorKV(ctx, "Distress call transmitted", "radio", radio.ID, "channel", radio.Channel)

		channels = append(channels, radioChannel(radio))
	}

	a.mu.Lock()

	for _, radio := range radios {
		if radio.Type == RadioEmergency {
			a.radios[radio.ID].Status = RadioOnline
		}
	}

	session := a.sessions.Start(safety.SessionDistressCall, []string{distressKey}, 0, safety.Payload{
		"nature":   nature,
		"position": position,
		"channels": channels,
		"message":  message,
	}, nil)
	now := a.opts.Clock()
	a.mu.Unlock()

	a.emitter.Emit(safety.NewEvent(safety.SystemCommunication, EventDistressCall, safety.Payload{
		"session_id": session.ID,
		"position":   position,
		"nature":     nature,
		"channels":   channels,
		"message":    message,
	}, now))

	result := a.distressResult(session, channels)
	result.Message = fmt.Sprintf("MAYDAY transmitted on %d channel(s)", len(channels))

	return result, nil
}

// Reset cancels distress calls. The target is "distress", "all", all_zones or a session id.
func (a *Adapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var match func(*safety.Session) bool

	switch target {
	case "", TargetDistress, TargetAll, subsystem.AllZones:
		match = func(*safety.Session) bool { return true }
	default:
		if _, ok := a.sessions.Get(target); !ok {
			return nil, fmt.Errorf("distress session %q: %w", target, safety.ErrNotFound)
		}

		match = func(s *safety.Session) bool { return s.ID == target }
	}

	a.mu.Lock()

	stopped := a.sessions.StopMatching(match)
	if len(a.sessions.Active()) == 0 {
		for _, radio := range a.radios {
			if radio.Type == RadioEmergency && radio.Status == RadioOnline {
				radio.Status = RadioStandby
			}
		}
	}

	now := a.opts.Clock()
	a.mu.Unlock()

	ids := make([]string, 0, len(stopped))
	for _, session := range stopped {
		ids = append(ids, session.ID)
	}

	result := &safety.Result{
		Success:   true,
		System:    safety.SystemCommunication,
		Action:    safety.ActionReset,
		Target:    target,
		Details:   safety.Payload{"session_ids": ids},
		Timestamp: now,
	}

	if len(stopped) == 0 {
		result.Message = "no active distress call"

		return result, nil
	}

	result.Message = fmt.Sprintf("cancelled %d distress call(s)", len(stopped))

	logger.WarnKV(ctx, "Distress call cancelled", "session_ids", ids)

	a.emitter.Emit(safety.NewEvent(safety.SystemCommunication, EventDistressCallCancelled, safety.Payload{
		"session_ids": ids,
	}, now))

	return result, nil
}

// SetRadioStatus changes a radio's status.
func (a *Adapter) SetRadioStatus(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch status {
	case RadioOnline, RadioStandby, RadioOffline:
	default:
		return fmt.Errorf("radio status %q: %w", status, safety.ErrInvalidTransition)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	radio, ok := a.radios[id]
	if !ok {
		return fmt.Errorf("radio %q: %w", id, safety.ErrNotFound)
	}

	radio.Status = status

	return nil
}

// Messages returns the sent message log, oldest first.
func (a *Adapter) Messages() []Message {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return slices.Clone(a.messages)
}

// Test checks power and reception of every radio.
func (a *Adapter) Test(ctx context.Context) *safety.TestReport {
	waitErr := subsystem.Wait(ctx, a.opts.IODelay)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Clock()
	devices := make([]safety.DeviceResult, 0, len(a.cfg.Radios))

	for _, cfg := range a.cfg.Radios {
		radio := a.radios[cfg.ID]
		result := safety.DeviceResult{Device: radio.ID, Zone: radio.Type, Passed: true}

		switch {
		case waitErr != nil:
			result.Passed = false
			result.Detail = waitErr.Error()
		case radio.Status == RadioOffline:
			result.Passed = false
			result.Detail = "radio offline"
		}

		devices = append(devices, result)
	}

	a.lastTest = now

	return safety.NewTestReport(safety.SystemCommunication, devices, a.opts.TestPolicy, now)
}

// Status reports radios, distress traffic and recent messages.
func (a *Adapter) Status(_ context.Context) *safety.SubsystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	sessions := a.sessions.Active()
	zones := make(map[string]safety.Status, len(a.radios)+1)
	radios := make(map[string]any, len(a.radios))

	var offline, criticalOffline, vhf, emergency int

	for _, cfg := range a.cfg.Radios {
		radio := a.radios[cfg.ID]
		zones[radio.ID] = safety.StatusNormal

		radios[radio.ID] = map[string]any{
			"name":     radio.Name,
			"type":     radio.Type,
			"location": radio.Location,
			"channel":  radio.Channel,
			"status":   radio.Status,
		}

		if radio.Status == RadioOffline {
			zones[radio.ID] = safety.StatusFault
			offline++

			if radio.Critical {
				criticalOffline++
			}

			continue
		}

		if radio.Type == RadioVHF {
			vhf++
		}

		if radio.EmergencyCapable {
			emergency++
		}
	}

	if len(sessions) > 0 {
		zones[distressKey] = safety.StatusEmergency
	}

	score := subsystem.MaxScore
	score -= float64(offline*offlinePenalty + criticalOffline*criticalPenalty)
	score -= stalePolicy.Penalty(a.lastTest, now)

	recent := a.messages[max(0, len(a.messages)-recentMessages):]

	return &safety.SubsystemState{
		System:         safety.SystemCommunication,
		Status:         safety.DeriveStatus(zones),
		Zones:          zones,
		ActiveAlarms:   len(sessions),
		ActiveSessions: len(sessions),
		FaultyDevices:  offline,
		Inventory: map[string]int{
			"radios":            len(a.radios),
			"online_radios":     len(a.radios) - offline,
			"vhf_radios":        vhf,
			"emergency_capable": emergency,
			"contacts":          len(a.contacts),
		},
		Sessions:         sessions,
		LastTest:         a.lastTest,
		PerformanceScore: subsystem.Clamp(score),
		Details: safety.Payload{
			"radios":          radios,
			"recent_messages": len(recent),
			"last_message":    lastMessageID(recent),
		},
		UpdatedAt: now,
	}
}

// RestoreLastTest seeds the self-test time from a persisted snapshot.
func (a *Adapter) RestoreLastTest(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if at.After(a.lastTest) {
		a.lastTest = at
	}
}

// Close disarms session timers.
func (a *Adapter) Close() {
	a.sessions.Close()
}

// DistressMessage formats a MAYDAY for the vessel.
func DistressMessage(ship, nature string, position any) string {
	vessel := "MV " + strings.ToUpper(ship)
	parts := []string{
		"MAYDAY MAYDAY MAYDAY",
		fmt.Sprintf("THIS IS %s %s %s", vessel, vessel, vessel),
		"MAYDAY " + vessel,
	}

	if pos := formatPosition(position); pos != "" {
		parts = append(parts, "POSITION "+pos)
	}

	parts = append(parts,
		"NATURE OF DISTRESS: "+nature,
		"REQUIRE IMMEDIATE ASSISTANCE",
		"OVER",
	)

	return strings.Join(parts, " ")
}

// transmitTo sends to a contact through its first available route.
// Only a cancelled context is returned as an error.
func (a *Adapter) transmitTo(ctx context.Context, contact Contact) (Transmission, error) {
	a.mu.RLock()

	var route *Route

	for i := range contact.Routes {
		if a.radios[contact.Routes[i].Radio].Status != RadioOffline {
			route = &contact.Routes[i]

			break
		}
	}

	a.mu.RUnlock()

	if route == nil {
		return Transmission{Recipient: contact.Name, Reason: "no radio available"}, nil
	}

	if err := subsystem.Wait(ctx, a.opts.IODelay); err != nil {
		return Transmission{}, fmt.Errorf("transmit to %s: %w", contact.Name, err)
	}

	return Transmission{
		Recipient: contact.Name,
		Radio:     route.Radio,
		Channel:   route.Channel,
		Delivered: true,
	}, nil
}

// activeDistress returns the running distress session, if any.
func (a *Adapter) activeDistress() *safety.Session {
	return a.sessions.FindActive(func(s *safety.Session) bool {
		return s.Kind == safety.SessionDistressCall
	})
}

// distressResult builds the trigger result for a distress session.
func (a *Adapter) distressResult(session *safety.Session, channels any) *safety.Result {
	return &safety.Result{
		Success:   true,
		System:    safety.SystemCommunication,
		Action:    safety.ActionTrigger,
		Target:    TargetDistress,
		SessionID: session.ID,
		Details: safety.Payload{
			"position": session.Details["position"],
			"nature":   session.Details["nature"],
			"channels": channels,
			"message":  session.Details["message"],
		},
		Timestamp: a.opts.Clock(),
	}
}

// formatPosition renders a position given as a string or a lat/lon map.
func formatPosition(position any) string {
	switch typed := position.(type) {
	case string:
		return typed
	case map[string]any:
		return coordinates(typed)
	case safety.Payload:
		return coordinates(typed)
	default:
		return ""
	}
}

// coordinates renders a lat/lon map; both short and long keys are accepted.
func coordinates(m map[string]any) string {
	pick := func(keys ...string) any {
		for _, key := range keys {
			if value, ok := m[key]; ok {
				return value
			}
		}

		return "UNKNOWN"
	}

	return fmt.Sprintf("%v %v", pick("lat", "latitude"), pick("lon", "longitude"))
}

// radioChannel renders the distress channel of a radio.
func radioChannel(radio Radio) string {
	if radio.Channel == "" {
		return radio.ID
	}

	return radio.ID + " " + radio.Channel
}

// transmissionsPayload converts transmissions into payload values.
func transmissionsPayload(results []Transmission) []any {
	out := make([]any, 0, len(results))
	for _, tr := range results {
		out = append(out, map[string]any{
			"recipient": tr.Recipient,
			"radio":     tr.Radio,
			"channel":   tr.Channel,
			"delivered": tr.Delivered,
			"reason":    tr.Reason,
		})
	}

	return out
}

// lastMessageID returns the id of the newest message.
func lastMessageID(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	return messages[len(messages)-1].ID
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string

	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
