package compliance

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Standards.
const (
	StandardSOLAS  = "solas"
	StandardDNV    = "dnv"
	StandardMARPOL = "marpol"
	StandardISM    = "ism"
	StandardISPS   = "isps"
)

// Compliance statuses.
const (
	StatusCompliant    = "compliant"
	StatusNonCompliant = "non_compliant"
	StatusWarning      = "warning"
	StatusPending      = "pending"
)

// Thresholds applied when the layout leaves them unset.
const (
	DefaultMinSuppressionSystems = 3
	DefaultMinVHFRadios          = 2
	DefaultMinEmergencyRadios    = 3
	DefaultMinStopZones          = 5
	DefaultMinSpeakers           = 30
	DefaultMinStopScore          = 85.0
	DefaultMinTestedSystems      = 4
	DefaultExpiryWarning         = 30 * 24 * time.Hour
)

// Standards lists every monitored standard in report order.
func Standards() []string {
	return []string{StandardSOLAS, StandardDNV, StandardMARPOL, StandardISM, StandardISPS}
}

// Certificate is a statutory or class certificate.
type Certificate struct {
	// Name is the certificate key, e.g. safety_management_certificate.
	Name string `yaml:"name"`
	// Standard is the standard the certificate belongs to.
	Standard string `yaml:"standard"`
	// Number is the certificate number.
	Number string `yaml:"number"`
	// Authority is the issuing authority.
	Authority string `yaml:"authority"`
	// Issued is the issue date.
	Issued time.Time `yaml:"issued"`
	// Expires is the expiry date.
	Expires time.Time `yaml:"expires"`
}

// Thresholds are the automated check limits.
type Thresholds struct {
	// FireZones must all be covered by fire detection.
	FireZones []string `yaml:"fire_zones"`
	// MinSuppressionSystems is the SOLAS II-2 suppression minimum.
	MinSuppressionSystems int `yaml:"min_suppression_systems"`
	// MinVHFRadios is the SOLAS IV VHF minimum.
	MinVHFRadios int `yaml:"min_vhf_radios"`
	// MinEmergencyRadios is the SOLAS IV distress-capable radio minimum.
	MinEmergencyRadios int `yaml:"min_emergency_radios"`
	// MinStopZones is the DNV emergency shutdown zone minimum.
	MinStopZones int `yaml:"min_stop_zones"`
	// MinSpeakers is the DNV general alarm speaker minimum.
	MinSpeakers int `yaml:"min_speakers"`
	// MinStopScore is the ISM emergency preparedness score minimum.
	MinStopScore float64 `yaml:"min_stop_score"`
	// MinTestedSystems is the ISM maintenance minimum of self-tested subsystems.
	MinTestedSystems int `yaml:"min_tested_systems"`
}

// Config is the compliance section of the ship layout.
type Config struct {
	// Certificates lists certificates on board.
	Certificates []Certificate `yaml:"certificates"`
	// Thresholds are the check limits.
	Thresholds Thresholds `yaml:"thresholds"`
	// ExpiryWarning is how early an expiring certificate becomes a warning.
	ExpiryWarning time.Duration `yaml:"expiry_warning"`
}

var errBadCertificate = errors.New("compliance: invalid certificate")

// Validate checks certificates and fills default thresholds.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Certificates))

	for _, cert := range c.Certificates {
		if _, dup := seen[cert.Name]; dup || cert.Name == "" {
			return fmt.Errorf("%w: %q", errBadCertificate, cert.Name)
		}

		if !slices.Contains(Standards(), cert.Standard) {
			return fmt.Errorf("%w: %s has standard %q", errBadCertificate, cert.Name, cert.Standard)
		}

		if cert.Expires.IsZero() || cert.Expires.Before(cert.Issued) {
			return fmt.Errorf("%w: %s expires before it was issued", errBadCertificate, cert.Name)
		}

		seen[cert.Name] = struct{}{}
	}

	c.Thresholds.fill()

	if c.ExpiryWarning <= 0 {
		c.ExpiryWarning = DefaultExpiryWarning
	}

	return nil
}

func (t *Thresholds) fill() {
	if len(t.FireZones) == 0 {
		t.FireZones = []string{"engine_room", "bridge", "crew_quarters", "cargo_hold"}
	}

	setDefault(&t.MinSuppressionSystems, DefaultMinSuppressionSystems)
	setDefault(&t.MinVHFRadios, DefaultMinVHFRadios)
	setDefault(&t.MinEmergencyRadios, DefaultMinEmergencyRadios)
	setDefault(&t.MinStopZones, DefaultMinStopZones)
	setDefault(&t.MinSpeakers, DefaultMinSpeakers)
	setDefault(&t.MinTestedSystems, DefaultMinTestedSystems)

	if t.MinStopScore <= 0 {
		t.MinStopScore = DefaultMinStopScore
	}
}

func setDefault(v *int, fallback int) {
	if *v <= 0 {
		*v = fallback
	}
}
