// Package config loads and holds the proxy server's configuration.
// Settings are layered: defaults → mitmproxy-config.json → environment
// variables (env vars win), following the teacher's internal/config layering.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// defaultCAPassword is the one canonical default chosen at the embedder
// layer for the Open Question in spec §9 ("source hardcodes CA password
// defaults inconsistently"). internal/ca never hardcodes a password itself.
const defaultCAPassword = "mitmcore"

// Options holds the proxy server's full configuration (spec §4.6 table,
// plus the CA and introspection settings the teacher's config.go carried).
type Options struct {
	ListenAddress string `json:"listenAddress"`
	ListenPort    int    `json:"listenPort"`

	InterceptHTTPS           bool          `json:"interceptHttps"`
	EnableLogging            bool          `json:"enableLogging"`
	MaxConcurrentConnections int           `json:"maxConcurrentConnections"`
	IdleTimeout              time.Duration `json:"-"`
	IdleTimeoutSeconds       int           `json:"idleTimeoutSeconds"`
	FirstLineTimeout         time.Duration `json:"-"`
	FirstLineTimeoutSeconds  int           `json:"firstLineTimeoutSeconds"`
	MaxBodyBytes             int64         `json:"maxBodyBytes"`

	LogLevel string `json:"logLevel"`

	CAContainerFile string `json:"caContainerFile"`
	CAPassword      string `json:"caPassword"`

	ManagementEnabled bool   `json:"managementEnabled"`
	ManagementPort    int    `json:"managementPort"`
	ManagementToken   string `json:"managementToken"`

	FlowStoreCapacity   int `json:"flowStoreCapacity"`
	FlowSubscriberQueue int `json:"flowSubscriberQueue"`
}

// Load returns Options with defaults overridden by mitmproxy-config.json and
// environment variables.
func Load() *Options {
	o := Defaults()
	loadFile(o, "mitmproxy-config.json")
	loadEnv(o)
	o.IdleTimeout = time.Duration(o.IdleTimeoutSeconds) * time.Second
	o.FirstLineTimeout = time.Duration(o.FirstLineTimeoutSeconds) * time.Second
	return o
}

// Defaults returns the built-in configuration before any file/env overrides.
func Defaults() *Options {
	return &Options{
		ListenAddress:            "127.0.0.1",
		ListenPort:               8888,
		InterceptHTTPS:           true,
		EnableLogging:            true,
		MaxConcurrentConnections: 512,
		IdleTimeoutSeconds:       30,
		FirstLineTimeoutSeconds:  30,
		MaxBodyBytes:             64 << 20,
		LogLevel:                 "info",
		CAContainerFile:          "mitmproxy-ca.p12",
		CAPassword:               defaultCAPassword,
		ManagementEnabled:        false,
		ManagementPort:           8889,
		FlowStoreCapacity:        10_000,
		FlowSubscriberQueue:      256,
	}
}

func loadFile(o *Options, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, o); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
		return
	}
	log.Printf("[CONFIG] Loaded %s", path)
}

func loadEnv(o *Options) {
	if v := os.Getenv("MITM_LISTEN_ADDRESS"); v != "" {
		o.ListenAddress = v
	}
	if v := os.Getenv("MITM_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.ListenPort = n
		}
	}
	if v := os.Getenv("MITM_INTERCEPT_HTTPS"); v == "false" {
		o.InterceptHTTPS = false
	}
	if v := os.Getenv("MITM_ENABLE_LOGGING"); v == "false" {
		o.EnableLogging = false
	}
	if v := os.Getenv("MITM_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.MaxConcurrentConnections = n
		}
	}
	if v := os.Getenv("MITM_IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.IdleTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MITM_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			o.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("MITM_LOG_LEVEL"); v != "" {
		o.LogLevel = v
	}
	if v := os.Getenv("MITM_CA_CONTAINER_FILE"); v != "" {
		o.CAContainerFile = v
	}
	if v := os.Getenv("MITM_CA_PASSWORD"); v != "" {
		o.CAPassword = v
	}
	if v := os.Getenv("MITM_MANAGEMENT_ENABLED"); v == "true" {
		o.ManagementEnabled = true
	}
	if v := os.Getenv("MITM_MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.ManagementPort = n
		}
	}
	if v := os.Getenv("MITM_MANAGEMENT_TOKEN"); v != "" {
		o.ManagementToken = v
	}
}
