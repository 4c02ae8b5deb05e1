package ballistics

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Params is the single source of projectile motion and damage settings. The
// live projectile and the rewind replay must read the same values or replayed
// claims drift from what the client actually simulated.
type Params struct {
	Speed              float64 `json:"speed" yaml:"speed" validate:"gt=0"`
	GravityScale       float64 `json:"gravityScale" yaml:"gravityScale" validate:"gte=0"`
	Radius             float64 `json:"radius" yaml:"radius" validate:"gte=0"`
	Damage             float64 `json:"damage" yaml:"damage" validate:"gte=0"`
	HeadshotMultiplier float64 `json:"headshotMultiplier" yaml:"headshotMultiplier" validate:"gte=1"`
	WorldGravityZ      float64 `json:"worldGravityZ" yaml:"worldGravityZ" validate:"lte=0"`
	SimFrequency       float64 `json:"simFrequency" yaml:"simFrequency" validate:"gt=0,lte=240"`
	SlackSeconds       float64 `json:"slackSeconds" yaml:"slackSeconds" validate:"gte=0,lte=10"`
}

// DefaultParams mirrors the shipped projectile tuning.
func DefaultParams() Params {
	return Params{
		Speed:              3000,
		GravityScale:       1,
		Radius:             14,
		Damage:             20,
		HeadshotMultiplier: 2,
		WorldGravityZ:      -980,
		SimFrequency:       15,
		SlackSeconds:       1,
	}
}

// GravityZ is the effective vertical acceleration applied to projectiles.
func (p Params) GravityZ() float64 {
	return p.WorldGravityZ * p.GravityScale
}

// DamageFor returns the damage dealt by a confirmed hit.
func (p Params) DamageFor(headshot bool) float64 {
	if headshot {
		return p.Damage * p.HeadshotMultiplier
	}
	return p.Damage
}

var validate = validator.New()

// Validate checks the parameters against their declared bounds.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("ballistics: %s failed %q (value %v)", first.Field(), first.Tag(), first.Value())
		}
		return fmt.Errorf("ballistics: %w", err)
	}
	return nil
}

// Load reads a YAML file and overlays it on DefaultParams. An empty path
// yields the defaults.
func Load(path string) (Params, error) {
	params := DefaultParams()
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read ballistics file: %w", err)
	}
	return Parse(data, params)
}

// Parse overlays YAML data on base and validates the result.
func Parse(data []byte, base Params) (Params, error) {
	params := base
	if err := yaml.Unmarshal(data, &params); err != nil {
		return Params{}, fmt.Errorf("parse ballistics yaml: %w", err)
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}
