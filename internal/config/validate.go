package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration using struct tags and the cross-field rules that
// tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Patch.Encrypt && cfg.Patch.ExportMode != "" && cfg.Patch.ExportMode != "copy" {
		return fmt.Errorf("patch: encrypt requires export_mode \"copy\", got %q", cfg.Patch.ExportMode)
	}
	if _, err := cfg.Patch.RetryDelayDuration(); err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	if cfg.Apply.DeletePolicy == "quarantine" && cfg.Apply.QuarantineDir == "" {
		return fmt.Errorf("apply: quarantine_dir is required for delete_policy \"quarantine\"")
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir == "" {
		return fmt.Errorf("database: data_dir is required for type \"sqlite\"")
	}
	seen := make(map[string]bool)
	for i, root := range cfg.Snapshot.Roots {
		if root == "" {
			return fmt.Errorf("snapshot.roots[%d]: empty path", i)
		}
		if seen[root] {
			return fmt.Errorf("snapshot.roots[%d]: duplicate root %q", i, root)
		}
		seen[root] = true
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
