package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem/cctv"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
)

// Subsystem operations beyond trigger, reset and test.
const (
	OpRestartMachinery    = "restart_machinery"
	OpActivateSuppression = "activate_suppression"
	OpSetDetectorFault    = "set_detector_fault"
	OpApplyPreset         = "apply_preset"
	OpControlPTZ          = "control_ptz"
	OpSetCameraOnline     = "set_camera_online"
	OpAnnounce            = "announce"
	OpSetSpeakerOnline    = "set_speaker_online"
	OpSetRadioStatus      = "set_radio_status"
)

// ErrInvalidParam is returned when an operation parameter is missing or malformed.
var ErrInvalidParam = errors.New("invalid operation parameter")

type machineryRestarter interface {
	RestartMachinery(ctx context.Context, zone, name string) (*safety.Result, error)
}

type procedureSource interface {
	Procedures() *estop.Procedures
}

type suppressionActivator interface {
	ActivateSuppression(ctx context.Context, zone string) (*safety.Result, error)
}

type detectorMaintainer interface {
	SetDetectorFault(ctx context.Context, id string, faulty bool) error
}

type cameraOperator interface {
	ApplyPreset(ctx context.Context, name string) (*safety.Result, error)
	ControlPTZ(ctx context.Context, id string, pan, tilt, zoom *float64) (cctv.Position, error)
	SetCameraOnline(ctx context.Context, id string, online bool) error
}

type announcer interface {
	Announce(ctx context.Context, message string, zones []string, duration time.Duration) (*safety.Result, error)
	SetSpeakerOnline(ctx context.Context, id string, online bool) error
}

type radioOperator interface {
	SetRadioStatus(ctx context.Context, id, status string) error
}

// operation binds a named operation to its subsystem.
type operation struct {
	system safety.SystemType
	run    func(c *Coordinator, ctx context.Context, params safety.Payload) (*safety.Result, error)
}

//nolint:gochecknoglobals // Immutable dispatch table.
var operations = map[string]operation{
	OpRestartMachinery:    {safety.SystemEmergencyStop, (*Coordinator).restartMachineryOp},
	OpActivateSuppression: {safety.SystemFireDetection, (*Coordinator).activateSuppressionOp},
	OpSetDetectorFault:    {safety.SystemFireDetection, (*Coordinator).setDetectorFaultOp},
	OpApplyPreset:         {safety.SystemCCTV, (*Coordinator).applyPresetOp},
	OpControlPTZ:          {safety.SystemCCTV, (*Coordinator).controlPTZOp},
	OpSetCameraOnline:     {safety.SystemCCTV, (*Coordinator).setCameraOnlineOp},
	OpAnnounce:            {safety.SystemPAGA, (*Coordinator).announceOp},
	OpSetSpeakerOnline:    {safety.SystemPAGA, (*Coordinator).setSpeakerOnlineOp},
	OpSetRadioStatus:      {safety.SystemCommunication, (*Coordinator).setRadioStatusOp},
}

// Operations lists the operations each subsystem accepts.
func Operations() map[safety.SystemType][]string {
	bySystem := make(map[safety.SystemType][]string)

	for name, op := range operations {
		bySystem[op.system] = append(bySystem[op.system], name)
	}

	for _, names := range bySystem {
		slices.Sort(names)
	}

	return bySystem
}

// OperateSubsystem runs a named operation on one subsystem.
func (c *Coordinator) OperateSubsystem(
	ctx context.Context,
	system safety.SystemType,
	name string,
	params safety.Payload,
) (*safety.Result, error) {
	op, ok := operations[name]
	if !ok || op.system != system {
		return nil, fmt.Errorf("%s operation %q: %w", system, name, safety.ErrNotFound)
	}

	return op.run(c, ctx, params)
}

// RestartMachinery restarts machinery left stopped after an emergency stop reset.
func (c *Coordinator) RestartMachinery(ctx context.Context, zone, machine string) (*safety.Result, error) {
	restarter, err := capability[machineryRestarter](c, safety.SystemEmergencyStop, "machinery restart")
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Machinery restart requested", "zone", zone, "machine", machine,
		"operator", c.recordOperator(ctx))

	return restarter.RestartMachinery(ctx, zone, machine)
}

// EmergencyProcedures returns the configured procedures and contacts.
func (c *Coordinator) EmergencyProcedures(_ context.Context) (*estop.Procedures, error) {
	source, err := capability[procedureSource](c, safety.SystemEmergencyStop, "emergency procedures")
	if err != nil {
		return nil, err
	}

	return source.Procedures(), nil
}

// ActivateSuppression discharges a zone's suppression system immediately.
func (c *Coordinator) ActivateSuppression(ctx context.Context, zone string) (*safety.Result, error) {
	activator, err := capability[suppressionActivator](c, safety.SystemFireDetection, "suppression")
	if err != nil {
		return nil, err
	}

	logger.WarnKV(ctx, "Manual suppression requested", "zone", zone, "operator", c.recordOperator(ctx))

	return activator.ActivateSuppression(ctx, zone)
}

// SetDetectorFault takes a detector out of service or returns it.
func (c *Coordinator) SetDetectorFault(ctx context.Context, id string, faulty bool) (*safety.Result, error) {
	maintainer, err := capability[detectorMaintainer](c, safety.SystemFireDetection, "detector maintenance")
	if err != nil {
		return nil, err
	}

	if err = maintainer.SetDetectorFault(ctx, id, faulty); err != nil {
		return nil, err
	}

	return c.deviceResult(ctx, safety.SystemFireDetection, OpSetDetectorFault, id,
		safety.Payload{"faulty": faulty}), nil
}

// ApplyCameraPreset points every camera per the named preset.
func (c *Coordinator) ApplyCameraPreset(ctx context.Context, preset string) (*safety.Result, error) {
	cameras, err := capability[cameraOperator](c, safety.SystemCCTV, "camera control")
	if err != nil {
		return nil, err
	}

	return cameras.ApplyPreset(ctx, preset)
}

// ControlCamera moves one PTZ camera; nil axes keep their position.
func (c *Coordinator) ControlCamera(ctx context.Context, id string, pan, tilt, zoom *float64) (*safety.Result, error) {
	cameras, err := capability[cameraOperator](c, safety.SystemCCTV, "camera control")
	if err != nil {
		return nil, err
	}

	position, err := cameras.ControlPTZ(ctx, id, pan, tilt, zoom)
	if err != nil {
		return nil, err
	}

	return c.deviceResult(ctx, safety.SystemCCTV, OpControlPTZ, id, safety.Payload{
		"pan":  position.Pan,
		"tilt": position.Tilt,
		"zoom": position.Zoom,
	}), nil
}

// SetCameraOnline marks a camera online or offline.
func (c *Coordinator) SetCameraOnline(ctx context.Context, id string, online bool) (*safety.Result, error) {
	cameras, err := capability[cameraOperator](c, safety.SystemCCTV, "camera control")
	if err != nil {
		return nil, err
	}

	if err = cameras.SetCameraOnline(ctx, id, online); err != nil {
		return nil, err
	}

	return c.deviceResult(ctx, safety.SystemCCTV, OpSetCameraOnline, id, safety.Payload{"online": online}), nil
}

// Announce plays a voice announcement; empty zones mean every zone.
func (c *Coordinator) Announce(
	ctx context.Context,
	message string,
	zones []string,
	duration time.Duration,
) (*safety.Result, error) {
	speakers, err := capability[announcer](c, safety.SystemPAGA, "announcements")
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Announcement requested", "zones", zones, "operator", c.recordOperator(ctx))

	return speakers.Announce(ctx, message, zones, duration)
}

// SetSpeakerOnline marks a loudspeaker online or offline.
func (c *Coordinator) SetSpeakerOnline(ctx context.Context, id string, online bool) (*safety.Result, error) {
	speakers, err := capability[announcer](c, safety.SystemPAGA, "speaker maintenance")
	if err != nil {
		return nil, err
	}

	if err = speakers.SetSpeakerOnline(ctx, id, online); err != nil {
		return nil, err
	}

	return c.deviceResult(ctx, safety.SystemPAGA, OpSetSpeakerOnline, id, safety.Payload{"online": online}), nil
}

// SetRadioStatus changes a radio's status.
func (c *Coordinator) SetRadioStatus(ctx context.Context, id, status string) (*safety.Result, error) {
	radios, err := capability[radioOperator](c, safety.SystemCommunication, "radio control")
	if err != nil {
		return nil, err
	}

	if err = radios.SetRadioStatus(ctx, id, status); err != nil {
		return nil, err
	}

	return c.deviceResult(ctx, safety.SystemCommunication, OpSetRadioStatus, id, safety.Payload{"status": status}), nil
}

func (c *Coordinator) restartMachineryOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	zone, err := requiredText(p, "zone")
	if err != nil {
		return nil, err
	}

	machine, err := requiredText(p, "machine")
	if err != nil {
		return nil, err
	}

	return c.RestartMachinery(ctx, zone, machine)
}

func (c *Coordinator) activateSuppressionOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	zone, err := requiredText(p, "zone")
	if err != nil {
		return nil, err
	}

	return c.ActivateSuppression(ctx, zone)
}

func (c *Coordinator) setDetectorFaultOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	id, err := requiredText(p, "detector_id")
	if err != nil {
		return nil, err
	}

	faulty, err := flag(p, "faulty", true)
	if err != nil {
		return nil, err
	}

	return c.SetDetectorFault(ctx, id, faulty)
}

func (c *Coordinator) applyPresetOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	preset, err := requiredText(p, "preset")
	if err != nil {
		return nil, err
	}

	return c.ApplyCameraPreset(ctx, preset)
}

func (c *Coordinator) controlPTZOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	id, err := requiredText(p, "camera_id")
	if err != nil {
		return nil, err
	}

	var axes [3]*float64

	for i, key := range []string{"pan", "tilt", "zoom"} {
		if axes[i], err = optionalNumber(p, key); err != nil {
			return nil, err
		}
	}

	return c.ControlCamera(ctx, id, axes[0], axes[1], axes[2])
}

func (c *Coordinator) setCameraOnlineOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	id, err := requiredText(p, "camera_id")
	if err != nil {
		return nil, err
	}

	online, err := flag(p, "online", true)
	if err != nil {
		return nil, err
	}

	return c.SetCameraOnline(ctx, id, online)
}

func (c *Coordinator) announceOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	message, err := requiredText(p, "message")
	if err != nil {
		return nil, err
	}

	duration, err := optionalDuration(p, "duration")
	if err != nil {
		return nil, err
	}

	return c.Announce(ctx, message, zoneList(p["zones"]), duration)
}

func (c *Coordinator) setSpeakerOnlineOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	id, err := requiredText(p, "speaker_id")
	if err != nil {
		return nil, err
	}

	online, err := flag(p, "online", true)
	if err != nil {
		return nil, err
	}

	return c.SetSpeakerOnline(ctx, id, online)
}

func (c *Coordinator) setRadioStatusOp(ctx context.Context, p safety.Payload) (*safety.Result, error) {
	id, err := requiredText(p, "radio_id")
	if err != nil {
		return nil, err
	}

	status, err := requiredText(p, "status")
	if err != nil {
		return nil, err
	}

	return c.SetRadioStatus(ctx, id, status)
}

// capability resolves the adapter for system and asserts it offers T.
func capability[T any](c *Coordinator, system safety.SystemType, what string) (T, error) {
	var zero T

	adapter, err := c.adapter(system)
	if err != nil {
		return zero, err
	}

	typed, ok := adapter.(T)
	if !ok {
		return zero, fmt.Errorf("%s on %s: %w", what, system, safety.ErrUnavailable)
	}

	return typed, nil
}

// deviceResult reports a device change that has no adapter result of its own.
func (c *Coordinator) deviceResult(
	ctx context.Context,
	system safety.SystemType,
	action, device string,
	details safety.Payload,
) *safety.Result {
	logger.InfoKV(ctx, "Device updated", "system", system, "action", action, "device", device,
		"operator", c.recordOperator(ctx))

	return &safety.Result{
		Success:   true,
		System:    system,
		Action:    action,
		Target:    device,
		Message:   fmt.Sprintf("%s updated", device),
		Affected:  []string{device},
		Details:   details,
		Timestamp: c.opts.Clock(),
	}
}

func requiredText(p safety.Payload, key string) (string, error) {
	value, ok := p.String(key)
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParam, key)
	}

	return value, nil
}

// flag reads a bool given as a JSON bool or as text.
func flag(p safety.Payload, key string, fallback bool) (bool, error) {
	switch value := p[key].(type) {
	case nil:
		return fallback, nil
	case bool:
		return value, nil
	case string:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%w: %s must be true or false", ErrInvalidParam, key)
		}

		return parsed, nil
	default:
		return false, fmt.Errorf("%w: %s must be true or false", ErrInvalidParam, key)
	}
}

// optionalNumber reads a number given as JSON or as text; absent means nil.
func optionalNumber(p safety.Payload, key string) (*float64, error) {
	var number float64

	switch value := p[key].(type) {
	case nil:
		return nil, nil //nolint:nilnil // Absent axis.
	case float64:
		number = value
	case int:
		number = float64(value)
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidParam, key)
		}

		number = parsed
	default:
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidParam, key)
	}

	return &number, nil
}

// optionalDuration reads a Go duration string or a number of seconds.
func optionalDuration(p safety.Payload, key string) (time.Duration, error) {
	if text, ok := p[key].(string); ok {
		duration, err := time.ParseDuration(text)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a duration", ErrInvalidParam, key)
		}

		return duration, nil
	}

	seconds, err := optionalNumber(p, key)
	if err != nil || seconds == nil {
		return 0, err
	}

	return time.Duration(*seconds * float64(time.Second)), nil
}

// zoneList accepts a list or a comma-separated string.
func zoneList(value any) []string {
	var zones []string

	switch typed := value.(type) {
	case string:
		for part := range strings.SplitSeq(typed, ",") {
			if zone := strings.TrimSpace(part); zone != "" {
				zones = append(zones, zone)
			}
		}
	case []string:
		zones = append(zones, typed...)
	case []any:
		for _, item := range typed {
			if zone, ok := item.(string); ok && zone != "" {
				zones = append(zones, zone)
			}
		}
	}

	return zones
}
