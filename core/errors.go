package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingAuth   = "MISSING_AUTH"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeDataDirectory = "DATA_DIRECTORY"
)

// ErrMissingAuth returns an error for a provider without an API key.
func ErrMissingAuth(service string) *ConfigError {
	var action string
	switch service {
	case "gemini":
		action = "Set GEMINI_API_KEY in your .env file, or set NATURELENS_PROVIDER=openai"
	case "openai":
		action = "Set OPENAI_API_KEY in your .env file, or set NATURELENS_PROVIDER=gemini"
	default:
		action = fmt.Sprintf("Set the required API key for %s in your .env file", service)
	}
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", service),
		Action:  action,
	}
}

// ErrInvalidValue returns an error for a setting outside its allowed values.
func ErrInvalidValue(varName, value, allowed string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%s'", varName, value),
		Action:  fmt.Sprintf("Set %s to %s", varName, allowed),
	}
}

// ErrDataDirectory returns an error when the data directory cannot be created.
func ErrDataDirectory(dir string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeDataDirectory,
		Message: fmt.Sprintf("Cannot create data directory %s: %v", dir, err),
		Action:  "Set NATURELENS_DATA_DIR to a writable directory",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
