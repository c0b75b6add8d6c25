package profile

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/partyline/internal/config"
)

// DefaultName is used when neither a flag nor the config names a profile.
const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. cfg.DefaultProfile (config.toml or PARTYLINE_PROFILE)
// 3. "main"
// The result is validated.
func Resolve(flagOverride string, cfg *config.Config) (string, error) {
	name := DefaultName
	switch {
	case flagOverride != "":
		name = flagOverride
	case cfg != nil && cfg.DefaultProfile != "":
		name = cfg.DefaultProfile
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
