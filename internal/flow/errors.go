package flow

import "fmt"

// ConfigError signals an invalid flow document (fatal at load).
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config: " + e.Message }

func configErrf(format string, args ...interface{}) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// StateError signals an unknown instance, unknown state id, or illegal
// transition target.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return "state: " + e.Message }

func stateErrf(format string, args ...interface{}) error {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}
