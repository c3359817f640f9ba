package session

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/matheus3301/wppchat/internal/config"
)

const DefaultSessionName = "main"

// ErrInvalidName is wrapped by every session name validation failure.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory under sessions/.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, nameRegexp)
	}
	if name == "-" || name == "--" {
		return fmt.Errorf("%w %q: reads as a flag", ErrInvalidName, name)
	}
	return nil
}

// Resolve picks the active session: the flag value, then default_session from
// config.toml, then "main". The result is validated.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			name = cfg.DefaultSession
		}
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
