package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError is one failed config constraint.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every failed constraint in a config.
type ValidationError struct {
	Errors []FieldError
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return "invalid config"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = e.Message
	}
	return "invalid config: " + strings.Join(messages, "; ")
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range fieldErrs {
		path := fieldPath(fe)
		out.Errors = append(out.Errors, FieldError{Field: path, Message: formatFieldError(path, fe)})
	}
	return out
}

func formatFieldError(path string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is not set", path, toSnakeCase(fe.Param()))
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", path)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", path)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "eq":
		return fmt.Sprintf("%s must be %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}

// fieldPath turns "Config.Medtrum.RefreshIntervalSeconds" into
// "medtrum.refresh_interval_seconds".
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = toSnakeCase(part)
	}
	return strings.Join(parts, ".")
}

func toSnakeCase(s string) string {
	switch s {
	case "GRPCAddr":
		return "grpc_addr"
	case "HTTPAddr":
		return "http_addr"
	case "MQTT":
		return "mqtt"
	case "BaseURL":
		return "base_url"
	}

	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
