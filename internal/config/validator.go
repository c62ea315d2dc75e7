package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// Validate performs schema and cross-field validation on the configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := validatorInstance().Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	if cfg.Session.Store == "file" && cfg.Session.File.Dir == "" {
		return fmt.Errorf("session.file.dir is required when session.store is file")
	}
	if cfg.Session.Store == "redis" && cfg.Session.Redis.Addr == "" {
		return fmt.Errorf("session.redis.addr is required when session.store is redis")
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		return fmt.Errorf("config: %s failed validation for tag '%s'", field, ve.Tag())
	}

	return fmt.Errorf("config: %w", err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}
