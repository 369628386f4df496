package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// pricingProfileSchema bounds what a pricing_<code>.yaml file may contain.
// Validating against it at load time turns a typo'd rounding_mode or a
// negative tax_rate into a startup error with a JSON-pointer to the bad
// field, instead of a wrong export total discovered much later.
const pricingProfileSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["code", "currency"],
	"properties": {
		"name": {"type": "string"},
		"code": {"type": "string", "minLength": 1},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
		"locale": {"type": "string"},
		"decimal_places": {"type": "integer", "minimum": 0, "maximum": 6},
		"rounding_mode": {"enum": ["half_up", "half_even", "down", ""]},
		"tax_rate": {"type": "number", "minimum": 0, "maximum": 1},
		"allowance_cap_pct": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var compiledPricingProfileSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	const resourceURL = "pricing_profile.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader([]byte(pricingProfileSchema))); err != nil {
		panic(fmt.Sprintf("config: invalid embedded pricing profile schema: %v", err))
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("config: compile pricing profile schema: %v", err))
	}
	return schema
}()

// validatePricingProfile re-encodes profile to JSON and checks it against
// compiledPricingProfileSchema — jsonschema/v5 validates generic
// map[string]any values, so a YAML→JSON round trip gets there without a
// second parse of the source file.
func validatePricingProfile(profile *PricingProfile) error {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode pricing profile for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("decode pricing profile for validation: %w", err)
	}
	if err := compiledPricingProfileSchema.Validate(doc); err != nil {
		return fmt.Errorf("pricing profile %q failed schema validation: %w", profile.Code, err)
	}
	return nil
}

// PricingProfile is a per-region currency and rounding policy, loaded from
// pricing_<code>.yaml. A project picks one profile to control how exported
// totals are formatted and whether tax is added on top of line totals.
type PricingProfile struct {
	Name          string  `yaml:"name" json:"name"`
	Code          string  `yaml:"code" json:"code"`
	Currency      string  `yaml:"currency" json:"currency"` // ISO 4217, e.g. "USD"
	Locale        string  `yaml:"locale" json:"locale"`      // BCP 47, e.g. "en-US"
	DecimalPlaces int     `yaml:"decimal_places" json:"decimal_places"`
	RoundingMode  string  `yaml:"rounding_mode" json:"rounding_mode"` // "half_up" | "half_even" | "down"
	TaxRate       float64 `yaml:"tax_rate" json:"tax_rate"`           // applied to export totals, 0 disables
	AllowanceCapPct float64 `yaml:"allowance_cap_pct,omitempty" json:"allowance_cap_pct,omitempty"`
}

// LoadPricingProfile loads a pricing profile YAML by code.
// It searches profilesDir for pricing_<code>.yaml.
func LoadPricingProfile(profilesDir, code string) (*PricingProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("pricing_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load pricing profile %q: %w", code, err)
	}

	var profile PricingProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse pricing profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	if profile.DecimalPlaces == 0 {
		profile.DecimalPlaces = 2
	}
	if err := validatePricingProfile(&profile); err != nil {
		return nil, err
	}

	return &profile, nil
}

// LoadAllPricingProfiles loads every pricing_*.yaml file from profilesDir.
func LoadAllPricingProfiles(profilesDir string) (map[string]*PricingProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "pricing_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*PricingProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile PricingProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "pricing_"), ".yaml")
		}
		if profile.DecimalPlaces == 0 {
			profile.DecimalPlaces = 2
		}
		if err := validatePricingProfile(&profile); err != nil {
			return nil, err
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// Round applies the profile's rounding mode and decimal precision to amount.
func (p *PricingProfile) Round(amount float64) float64 {
	scale := math.Pow(10, float64(p.DecimalPlaces))
	scaled := amount * scale

	switch p.RoundingMode {
	case "down":
		return math.Trunc(scaled) / scale
	case "half_even":
		return math.RoundToEven(scaled) / scale
	default: // "half_up"
		return math.Round(scaled) / scale
	}
}

// WithTax returns amount plus the profile's tax rate, rounded per the
// profile's precision. TaxRate of 0 is a no-op beyond rounding.
func (p *PricingProfile) WithTax(amount float64) float64 {
	return p.Round(amount * (1 + p.TaxRate))
}
