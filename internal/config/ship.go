package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ship-safety/internal/subsystem/cctv"
	"github.com/oshokin/ship-safety/internal/subsystem/comms"
	"github.com/oshokin/ship-safety/internal/subsystem/compliance"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
	"github.com/oshokin/ship-safety/internal/subsystem/fire"
	"github.com/oshokin/ship-safety/internal/subsystem/paga"
)

// Ship is the static layout every adapter is built from.
type Ship struct {
	// Name is the vessel name.
	Name string `yaml:"name"`
	// EmergencyStop describes stop circuits and machinery.
	EmergencyStop estop.Config `yaml:"emergency_stop"`
	// Fire describes fire zones, detectors and suppression.
	Fire fire.Config `yaml:"fire_detection"`
	// CCTV describes cameras and presets.
	CCTV cctv.Config `yaml:"cctv"`
	// PAGA describes public address zones and alarm signals.
	PAGA paga.Config `yaml:"paga"`
	// Comms describes radios and external contacts.
	Comms comms.Config `yaml:"communication"`
	// Compliance lists certificates and check thresholds.
	Compliance compliance.Config `yaml:"compliance"`
}

// LoadShip reads the ship layout from path, or the built-in layout when path is empty.
func LoadShip(path string) (*Ship, error) {
	var (
		contents []byte
		err      error
	)

	if path == "" {
		contents, err = defaults.ReadFile(defaultShipFile)
	} else {
		contents, err = os.ReadFile(filepath.Clean(path))
	}

	if err != nil {
		return nil, fmt.Errorf("read ship layout: %w", err)
	}

	return ParseShip(contents)
}

// ParseShip decodes and validates a YAML ship layout.
func ParseShip(contents []byte) (*Ship, error) {
	var ship Ship
	if err := yaml.Unmarshal(contents, &ship); err != nil {
		return nil, fmt.Errorf("unmarshal ship layout: %w", err)
	}

	if err := ship.Validate(); err != nil {
		return nil, err
	}

	return &ship, nil
}

// Validate checks every section and fills defaults.
func (s *Ship) Validate() error {
	if s.Comms.ShipName == "" {
		s.Comms.ShipName = s.Name
	}

	validators := []interface{ Validate() error }{
		&s.EmergencyStop,
		&s.Fire,
		&s.CCTV,
		&s.PAGA,
		&s.Comms,
		&s.Compliance,
	}

	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate ship layout: %w", err)
		}
	}

	return nil
}
