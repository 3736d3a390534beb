// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

// Package cliconf is the command-line surface shared by the example
// programs: run mode, listen/target addresses, and the feature database
// path. Addresses may be given whole or composed from ip and port parts.
package cliconf

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// Mode selects which side of the examples runs.
type Mode string

const (
	ModeServer Mode = "server"
	ModeClient Mode = "client"
)

// Defaults for the main and maintenance endpoints.
const (
	DefaultServerIP        = "0.0.0.0"
	DefaultServerPort      = 50051
	DefaultMaintenancePort = 50052
)

// DefaultServerAddress is DefaultServerIP:DefaultServerPort.
var DefaultServerAddress = net.JoinHostPort(DefaultServerIP, strconv.Itoa(DefaultServerPort))

// DefaultMaintenanceAddress is DefaultServerIP:DefaultMaintenancePort.
var DefaultMaintenanceAddress = net.JoinHostPort(DefaultServerIP, strconv.Itoa(DefaultMaintenancePort))

// Config is the parsed command-line configuration.
type Config struct {
	// ServerAddress is the main endpoint: listen address in server mode,
	// target in client mode.
	ServerAddress string
	// MaintenanceAddress is the admin/health endpoint used when Secure
	// mode moves those services off the main port.
	MaintenanceAddress string
	Mode               Mode
	// Secure requests credentialed (xDS) endpoints. The examples report
	// when no credential stack is linked in.
	Secure       bool
	DatabasePath string
}

// Parse parses args (without the program name). On --help it returns
// pflag.ErrHelp after printing usage; callers exit 0 for help and 1 for
// any other error.
func Parse(name string, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	serverAddress := fs.String("server_address", DefaultServerAddress, "main endpoint as host:port; overrides --server_ip/--server_port")
	serverIP := fs.String("server_ip", DefaultServerIP, "main endpoint ip, composed with --server_port")
	serverPort := fs.Int("server_port", DefaultServerPort, "main endpoint port, composed with --server_ip")
	maintenanceAddress := fs.String("maintenance_address", DefaultMaintenanceAddress, "maintenance endpoint as host:port")
	maintenanceIP := fs.String("maintenance_ip", DefaultServerIP, "maintenance endpoint ip")
	maintenancePort := fs.Int("maintenance_port", DefaultMaintenancePort, "maintenance endpoint port")
	mode := fs.String("mode", string(ModeServer), "run mode: server or client")
	serverMode := fs.BoolP("server", "s", false, "shorthand for --mode=server")
	clientMode := fs.BoolP("client", "c", false, "shorthand for --mode=client")
	secure := fs.Bool("secure", false, "use credentialed endpoints")
	database := fs.StringP("database", "d", "route_guide_db.json", "feature database path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Mode:         Mode(*mode),
		Secure:       *secure,
		DatabasePath: *database,
	}

	switch {
	case *serverMode && *clientMode:
		return nil, errors.New("cliconf: --server and --client are mutually exclusive")
	case *serverMode:
		cfg.Mode = ModeServer
	case *clientMode:
		cfg.Mode = ModeClient
	}
	if cfg.Mode != ModeServer && cfg.Mode != ModeClient {
		return nil, fmt.Errorf("cliconf: invalid mode %q", cfg.Mode)
	}

	// ip and port compose into an address only when the whole-address
	// flag was not given explicitly.
	cfg.ServerAddress = *serverAddress
	if !fs.Changed("server_address") && (fs.Changed("server_ip") || fs.Changed("server_port")) {
		cfg.ServerAddress = net.JoinHostPort(*serverIP, strconv.Itoa(*serverPort))
	}
	cfg.MaintenanceAddress = *maintenanceAddress
	if !fs.Changed("maintenance_address") && (fs.Changed("maintenance_ip") || fs.Changed("maintenance_port")) {
		cfg.MaintenanceAddress = net.JoinHostPort(*maintenanceIP, strconv.Itoa(*maintenancePort))
	}

	return cfg, nil
}

// IsHelp reports whether err is the --help pseudo error.
func IsHelp(err error) bool {
	return errors.Is(err, pflag.ErrHelp)
}
