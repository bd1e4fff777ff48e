package gateway

import (
	"errors"
	"fmt"
	"os"
	"strings"

	bofryconfig "github.com/Bofry/config"
	"github.com/go-playground/validator/v10"
)

// RoutingMode selects how routes are mapped to handler modules.
type RoutingMode string

const (
	// RoutingDirectory walks a handler directory tree (Config.HandlerPath).
	RoutingDirectory RoutingMode = "directory"

	// RoutingPattern matches a handler file pattern (Config.HandlerPattern).
	RoutingPattern RoutingMode = "pattern"

	// RoutingList looks routes up in an explicit table (Config.HandlerList).
	RoutingList RoutingMode = "list"
)

// EnvPrefix is prepended to the env tag of each Config field by LoadConfig.
const EnvPrefix = "GATEWAY_"

// Config describes where handlers live and how requests are validated.
// It is fixed for the lifetime of a Router.
type Config struct {
	// BasePath is stripped from the front of every route (e.g. "v1").
	BasePath string `yaml:"basePath" env:"BASE_PATH"`

	// RoutingMode defaults to the mode matching whichever handler source is
	// set.
	RoutingMode RoutingMode `yaml:"routingMode" env:"ROUTING_MODE" validate:"oneof=directory pattern list"`

	HandlerPath    string            `yaml:"handlerPath" env:"HANDLER_PATH" validate:"required_if=RoutingMode directory"`
	HandlerPattern string            `yaml:"handlerPattern" env:"HANDLER_PATTERN" validate:"required_if=RoutingMode pattern"`
	HandlerList    map[string]Module `yaml:"-" validate:"required_if=RoutingMode list"`

	// SchemaPath points at the OpenAPI document used for body contracts and
	// autoValidate.
	SchemaPath string `yaml:"schemaPath" env:"SCHEMA_PATH"`

	// CacheSize bounds the resolution cache; 0 means unbounded.
	CacheSize int `yaml:"cacheSize" env:"CACHE_SIZE" validate:"min=0"`

	// CacheMode enables the resolution cache. Empty disables it.
	CacheMode CacheMode `yaml:"cacheMode" env:"CACHE_MODE" validate:"omitempty,oneof=all dynamic static"`

	// AutoValidate derives each route's Requirement from the schema document
	// instead of the handler's own declaration.
	AutoValidate bool `yaml:"autoValidate" env:"AUTO_VALIDATE"`

	// StrictValidation makes derived Requirements also reject headers and
	// query parameters the document does not declare.
	StrictValidation bool `yaml:"strictValidation" env:"STRICT_VALIDATION"`
}

var configValidator = validator.New()

// configMessages maps a failed field and tag to the message reported.
var configMessages = map[string]string{
	"RoutingMode.oneof":          "routingMode must be either directory, pattern or list",
	"HandlerPath.required_if":    "handlerPath config is required when routingMode is directory",
	"HandlerPattern.required_if": "handlerPattern config is required when routingMode is pattern",
	"HandlerList.required_if":    "handlerList config is required when routingMode is list",
	"CacheSize.min":              "cacheSize must be a non-negative integer",
	"CacheMode.oneof":            "cacheMode must be either: all, dynamic, static",
}

// withDefaults fills in RoutingMode from the configured handler source.
func (c Config) withDefaults() Config {
	if c.RoutingMode != "" {
		return c
	}
	switch {
	case c.HandlerPattern != "":
		c.RoutingMode = RoutingPattern
	case c.HandlerList != nil:
		c.RoutingMode = RoutingList
	default:
		c.RoutingMode = RoutingDirectory
	}
	return c
}

// Validate checks the configuration and returns a config error describing the
// first problem found.
func (c Config) Validate() error {
	c = c.withDefaults()

	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return ConfigError(err.Error())
		}
		fe := verrs[0]
		if msg, ok := configMessages[fe.Field()+"."+fe.Tag()]; ok {
			return ConfigError(msg)
		}
		return ConfigError(fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}

	sources := 0
	for _, set := range []bool{c.HandlerPath != "", c.HandlerPattern != "", c.HandlerList != nil} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return ConfigError("only one of handlerPath, handlerPattern or handlerList may be set")
	}
	return nil
}

// LoadConfig reads a YAML config file and applies GATEWAY_* environment
// overrides (e.g. GATEWAY_CACHE_MODE=all). HandlerList cannot be loaded from
// a file. The result is not validated.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	service := bofryconfig.NewConfigurationService(&cfg)
	if err := recoverLoad(func() { service.LoadYamlFile(path) }); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	prefix := strings.TrimSuffix(EnvPrefix, "_")
	if err := recoverLoad(func() { service.LoadEnvironmentVariables(prefix) }); err != nil {
		return cfg, fmt.Errorf("env %s*: %w", EnvPrefix, err)
	}
	return cfg, nil
}

// recoverLoad runs one configuration step, turning the panic Bofry/config
// raises on bad input into an error.
func recoverLoad(load func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("configuration loading panic: %v", r)
			}
		}
	}()
	load()
	return nil
}
