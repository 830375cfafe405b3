package paga

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultAlarmType is used when a trigger names no alarm type.
	DefaultAlarmType = "general_alarm"
	// DefaultAnnouncementDuration bounds announcements made without a duration.
	DefaultAnnouncementDuration = 10 * time.Second
	// minAudibleVolume is the lowest volume level a zone passes its self-test with.
	minAudibleVolume = 5
)

// Zone is one public address zone.
type Zone struct {
	// Name is the zone identifier.
	Name string `yaml:"name"`
	// Priority is critical, high or medium.
	Priority string `yaml:"priority"`
	// Speakers is the number of installed speakers.
	Speakers int `yaml:"speakers"`
	// Volume is the configured level, 1..10.
	Volume int `yaml:"volume"`
	// BackupPower reports whether the zone amplifier has battery backup.
	BackupPower bool `yaml:"backup_power"`
}

// AlarmType is a general alarm signal.
type AlarmType struct {
	// Pattern is the signal sequence, e.g. 7_short_1_long.
	Pattern string `yaml:"pattern"`
	// Duration is how long the signal sounds.
	Duration time.Duration `yaml:"duration"`
	// Frequencies are the tone frequencies in Hz.
	Frequencies []int `yaml:"frequencies"`
	// Description explains the signal.
	Description string `yaml:"description"`
	// Message is the voice message played with the signal; {zone} is replaced.
	Message string `yaml:"message"`
}

// Config is the PAGA section of the ship layout.
type Config struct {
	// Zones lists the public address zones.
	Zones []Zone `yaml:"zones"`
	// AlarmTypes maps alarm type names to signals.
	AlarmTypes map[string]AlarmType `yaml:"alarm_types"`
	// AnnouncementDuration is the default announcement length.
	AnnouncementDuration time.Duration `yaml:"announcement_duration"`
}

var (
	errNoZones      = errors.New("paga: no zones configured")
	errBadZone      = errors.New("paga: invalid zone")
	errNoAlarmTypes = errors.New("paga: default alarm type is not defined")
	errBadAlarmType = errors.New("paga: invalid alarm type")
)

// Validate checks the layout and fills defaults.
func (c *Config) Validate() error {
	if len(c.Zones) == 0 {
		return errNoZones
	}

	seen := make(map[string]struct{}, len(c.Zones))

	for _, zone := range c.Zones {
		if _, dup := seen[zone.Name]; dup || zone.Name == "" || zone.Speakers < 0 {
			return fmt.Errorf("%w: %q", errBadZone, zone.Name)
		}

		seen[zone.Name] = struct{}{}
	}

	if _, ok := c.AlarmTypes[DefaultAlarmType]; !ok {
		return errNoAlarmTypes
	}

	for name, alarm := range c.AlarmTypes {
		if alarm.Duration < 0 {
			return fmt.Errorf("%w: %s has a negative duration", errBadAlarmType, name)
		}
	}

	if c.AnnouncementDuration <= 0 {
		c.AnnouncementDuration = DefaultAnnouncementDuration
	}

	return nil
}
