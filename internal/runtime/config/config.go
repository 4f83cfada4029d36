package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BackpressureMode selects the behaviour when a port's concurrency gate is full.
type BackpressureMode string

const (
	// BackpressureWait blocks the caller until a slot frees up or the port's
	// timeout expires.
	BackpressureWait BackpressureMode = "wait"
	// BackpressureReject fails the call synchronously with a BackpressureError.
	BackpressureReject BackpressureMode = "reject"
)

// RetryPolicy tunes handler re-invocation. Zero values fall back to defaults.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// WithDefaults fills unset fields with the runtime defaults.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	return p
}

// BackpressurePolicy bounds concurrent in-flight handler executions per port.
type BackpressurePolicy struct {
	MaxInFlight int64
	Mode        BackpressureMode
}

// WithDefaults fills unset fields with the runtime defaults.
func (p BackpressurePolicy) WithDefaults() BackpressurePolicy {
	if p.MaxInFlight <= 0 {
		p.MaxInFlight = 64
	}
	if p.Mode == "" {
		p.Mode = BackpressureWait
	}
	return p
}

// PortPolicies groups the per-port resilience knobs. A route may override any
// subset; unset fields inherit the runtime defaults.
type PortPolicies struct {
	Retry        *RetryPolicy
	Timeout      time.Duration
	Backpressure *BackpressurePolicy
}

// Config groups the runtime-wide settings. File parsing and schema validation
// happen outside the core; this struct is what the loader hands over.
type Config struct {
	// DefaultRetry applies to every port without a route-level override.
	DefaultRetry RetryPolicy

	// DefaultTimeout bounds each pipeline invocation. Zero disables deadlines.
	DefaultTimeout time.Duration

	// DefaultBackpressure applies to every port without an override.
	DefaultBackpressure BackpressurePolicy

	// Metrics configuration.
	MetricsEnabled bool
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int

	// Inspector configuration (read-only snapshot API).
	InspectorEnabled bool
	// InspectorPort defaults to 8081.
	InspectorPort int
	// InspectorCORSAllowedOrigins specifies allowed origins for CORS. Use "*"
	// for development or specific origins for production. Empty disables CORS
	// headers.
	InspectorCORSAllowedOrigins []string

	// RecentEnvelopeLimit bounds the inspector's ring of recent envelope
	// metadata. Defaults to 128.
	RecentEnvelopeLimit int
}

func (c Config) String() string {
	// Type alias avoids infinite recursion when printing.
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(c))
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validateBackpressure()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateRetry() []error {
	var errs []error
	if c.DefaultRetry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry: max attempts cannot be negative"))
	}
	if c.DefaultRetry.InitialInterval < 0 {
		errs = append(errs, errors.New("retry: initial interval cannot be negative"))
	}
	if c.DefaultRetry.MaxInterval < 0 {
		errs = append(errs, errors.New("retry: max interval cannot be negative"))
	}
	if c.DefaultRetry.MaxInterval > 0 && c.DefaultRetry.InitialInterval > c.DefaultRetry.MaxInterval {
		errs = append(errs, errors.New("retry: initial interval cannot exceed max interval"))
	}
	if c.DefaultTimeout < 0 {
		errs = append(errs, errors.New("timeout: cannot be negative"))
	}
	return errs
}

func (c *Config) validateBackpressure() []error {
	var errs []error
	if c.DefaultBackpressure.MaxInFlight < 0 {
		errs = append(errs, errors.New("backpressure: max in-flight cannot be negative"))
	}
	switch mode := BackpressureMode(strings.ToLower(string(c.DefaultBackpressure.Mode))); mode {
	case "", BackpressureWait, BackpressureReject:
	default:
		errs = append(errs, fmt.Errorf("backpressure: unknown mode %q", c.DefaultBackpressure.Mode))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.InspectorPort < 0 || c.InspectorPort > 65535 {
		errs = append(errs, fmt.Errorf("inspector: invalid port %d", c.InspectorPort))
	}
	if c.RecentEnvelopeLimit < 0 {
		errs = append(errs, errors.New("inspector: recent envelope limit cannot be negative"))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
