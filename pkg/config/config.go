// Package config assembles vntsd's CLI surface (§6) into a validated
// Config: the transport/crypto/whitelist options that drive internal/group,
// internal/dispatch and internal/transport, plus the admin HTTP listener's
// own bootstrap credentials. There is no configuration file format: the
// original has none, and the CLI flags are the whole of it.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ziyouwa/vnts/internal/netutil"
)

// Config is the fully validated, parsed form of the CLI flags in §6.
type Config struct {
	Port    uint16 `validate:"required"`
	Backlog uint16 `validate:"required"`

	WhiteTokens []string

	Gateway string `validate:"required,ip4_addr"`
	Netmask string `validate:"required,ip4_addr"`
	Finger  bool

	LogPath string `validate:"required"`

	AdminUsername string `validate:"required"`
	AdminPassword string `validate:"required"`
	AdminPort     uint16 `validate:"required"`

	// LogLevel/LogFormat drive internal/logger.Init alongside LogPath.
	LogLevel  string `validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	LogFormat string `validate:"required,oneof=text json"`

	// MetricsEnabled gates internal/metrics' Prometheus registry and the
	// /metrics HTTP endpoint served on MetricsPort.
	MetricsEnabled bool
	MetricsPort    uint16

	// OTLPEndpoint, when non-empty, enables internal/telemetry's tracer.
	OTLPEndpoint string
	OTLPInsecure bool

	// ProfilingEndpoint, when non-empty, enables internal/telemetry's
	// Pyroscope profiler.
	ProfilingEndpoint string

	// SupportedVersion, when non-empty, rejects Registration from clients
	// reporting a different version (§4.6 VersionMismatch).
	SupportedVersion string

	// GatewayIP/NetmaskIP are the uint32 forms derived from Gateway/Netmask
	// during Validate, consumed directly by internal/group.
	GatewayIP uint32
	NetmaskIP uint32
}

// Default returns the CLI's documented defaults (§6), before flag overrides
// are applied.
func Default() Config {
	return Config{
		Port:          29872,
		Backlog:       256,
		Gateway:       "10.26.0.1",
		Netmask:       "255.255.255.0",
		LogPath:       "./log",
		LogLevel:      "INFO",
		LogFormat:     "text",
		AdminUsername: "admin",
		AdminPort:     29873,
		MetricsPort:   9090,
	}
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("ip4_addr", func(fl validator.FieldLevel) bool {
		_, err := netutil.ParseIPv4(fl.Field().String())
		return err == nil
	})
}

// Validate runs struct-tag validation plus the netmask/gateway invariants
// from §6 that validator tags can't express on their own, populating
// GatewayIP/NetmaskIP on success.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	gateway, err := netutil.ParseIPv4(c.Gateway)
	if err != nil {
		return fmt.Errorf("parsing gateway: %w", err)
	}
	netmask, err := netutil.ParseIPv4(c.Netmask)
	if err != nil {
		return fmt.Errorf("parsing netmask: %w", err)
	}

	if !netutil.IsValidNetmask(netmask) {
		return fmt.Errorf("netmask %s is not a valid contiguous prefix mask", c.Netmask)
	}
	if netutil.IsUnspecified(gateway) {
		return fmt.Errorf("gateway %s must not be unspecified", c.Gateway)
	}
	if netutil.IsMulticast(gateway) {
		return fmt.Errorf("gateway %s must not be a multicast address", c.Gateway)
	}
	if netutil.IsBroadcast(gateway, gateway, netmask) {
		return fmt.Errorf("gateway %s must not be the subnet's broadcast address", c.Gateway)
	}

	c.GatewayIP = gateway
	c.NetmaskIP = netmask
	return nil
}
