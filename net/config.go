package net

import (
	"errors"
	"fmt"
	"time"
)

// TransportCfg is the "transport" configuration. The rate limits are
// hot-reloadable; the rest applies to transports built afterwards.
type TransportCfg struct {
	Name           string          `mapstructure:"name"`
	PollInterval   time.Duration   `mapstructure:"pollInterval"`
	ReadBufferSize int             `mapstructure:"readBufferSize"`
	RecvRateLimit  int             `mapstructure:"recvRateLimit"`
	RecvBurst      int             `mapstructure:"recvBurst"`
	SendRateLimit  int             `mapstructure:"sendRateLimit"`
	HealthCheck    *HealthCheckCfg `mapstructure:"healthcheck"`
}

// HealthCheckCfg describes a HealthCheck in configuration files. Pattern
// elements are strings or numbers.
type HealthCheckCfg struct {
	RequestPattern  []any         `mapstructure:"requestPattern"`
	ResponsePattern []any         `mapstructure:"responsePattern"`
	Active          *bool         `mapstructure:"active"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BackoffFactor   float64       `mapstructure:"backoffFactor"`
	MaxAttempts     int           `mapstructure:"maxAttempts"`
}

// GetName returns the configuration name for TransportCfg
func (c *TransportCfg) GetName() string {
	return "transport"
}

// Validate validates the TransportCfg parameters
func (c *TransportCfg) Validate() error {
	if c.PollInterval < 0 {
		return errors.New("pollInterval must not be negative")
	}
	if c.ReadBufferSize < 0 {
		return errors.New("readBufferSize must not be negative")
	}
	if c.RecvRateLimit < 0 || c.RecvBurst < 0 || c.SendRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.HealthCheck != nil {
		if _, err := c.HealthCheck.Build(); err != nil {
			return fmt.Errorf("healthcheck: %w", err)
		}
	}
	return nil
}

// Options converts the configuration into transport options.
func (c *TransportCfg) Options() []Option {
	return []Option{
		WithName(c.Name),
		WithPollInterval(c.PollInterval),
		WithReadBufferSize(c.ReadBufferSize),
		WithRecvRateLimit(c.RecvRateLimit, c.RecvBurst),
		WithSendRateLimit(c.SendRateLimit),
	}
}

// Build turns the configuration into a HealthCheck. Unset timing fields take
// the defaults and an unset active flag means active.
func (c *HealthCheckCfg) Build() (*HealthCheck, error) {
	req, err := NewPattern(c.RequestPattern...)
	if err != nil {
		return nil, fmt.Errorf("requestPattern: %w", err)
	}
	resp, err := NewPattern(c.ResponsePattern...)
	if err != nil {
		return nil, fmt.Errorf("responsePattern: %w", err)
	}
	if c.Timeout < 0 || c.BackoffFactor < 0 || c.MaxAttempts < 0 {
		return nil, errors.New("healthcheck timing must not be negative")
	}
	hc := NewHealthCheck(req, resp)
	if c.Active != nil {
		hc.Active = *c.Active
	}
	if c.Timeout > 0 {
		hc.Timeout = c.Timeout
	}
	if c.BackoffFactor > 0 {
		hc.BackoffFactor = c.BackoffFactor
	}
	if c.MaxAttempts > 0 {
		hc.MaxAttempts = c.MaxAttempts
	}
	return hc, nil
}
