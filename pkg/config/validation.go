package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for the engine- and
// catalog-specific sections that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules decodes the section of the selected engine and
// catalog, which catches unknown keys and values of the wrong type.
func validateCustomRules(cfg *Config) error {
	switch cfg.Backend.Engine {
	case "posix":
		opts, err := decodePosixOptions(cfg.Backend.Posix)
		if err != nil {
			return fmt.Errorf("backend.posix: %w", err)
		}
		if err := validate.Struct(opts); err != nil {
			return fmt.Errorf("backend.posix: %w", formatValidationError(err))
		}
	case "mmap":
		if _, err := decodeMmapOptions(cfg.Backend.Mmap); err != nil {
			return fmt.Errorf("backend.mmap: %w", err)
		}
	case "uring":
		opts, err := decodeUringOptions(cfg.Backend.Uring)
		if err != nil {
			return fmt.Errorf("backend.uring: %w", err)
		}
		if err := validate.Struct(opts); err != nil {
			return fmt.Errorf("backend.uring: %w", formatValidationError(err))
		}
	}

	if cfg.Catalog.Type == "badger" {
		opts, err := decodeBadgerOptions(cfg.Catalog.Badger)
		if err != nil {
			return fmt.Errorf("catalog.badger: %w", err)
		}
		if !opts.InMemory && opts.Path == "" {
			return fmt.Errorf("catalog.badger: path is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
