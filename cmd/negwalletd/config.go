package main

import (
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultRPCListen     = "localhost:10321"
	defaultMetricsListen = "localhost:10322"
	defaultLogDir        = "logs"
	defaultLogFilename   = "negwalletd.log"
	defaultDebugLevel    = "info"
	defaultMacaroonFile  = "admin.macaroon"
	defaultWalletFile    = "wallet.db"
)

func defaultDataDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".negwalletd"
	}
	return filepath.Join(dir, ".negwalletd")
}

// Config is the daemon's go-flags configuration surface, grounded on the
// same long-option/description tag convention the teacher's lncfg package
// uses throughout its own Config structs.
type Config struct {
	DataDir       string `long:"datadir" description:"Directory to store wallet and parameter store state"`
	LogDir        string `long:"logdir" description:"Directory to log output (relative to datadir unless absolute)"`
	DebugLevel    string `long:"debuglevel" description:"Logging level for all subsystems"`
	RPCListen     string `long:"rpclisten" description:"Address to listen for gRPC connections"`
	MetricsListen string `long:"metricslisten" description:"Address to serve Prometheus metrics"`
	MacaroonFile  string `long:"macaroonpath" description:"Path to the admin macaroon (generated on first run if absent)"`
	TipIntervalMS uint   `long:"tipintervalms" description:"Polling interval, in milliseconds, for the simulated chain-tip feed"`
}

// DefaultConfig returns a Config populated with the daemon's defaults,
// overridable from the command line or a config file.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:       dataDir,
		LogDir:        defaultLogDir,
		DebugLevel:    defaultDebugLevel,
		RPCListen:     defaultRPCListen,
		MetricsListen: defaultMetricsListen,
		MacaroonFile:  defaultMacaroonFile,
		TipIntervalMS: 1000,
	}
}

// LoadConfig parses the process's command-line arguments into a Config
// seeded with defaults.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(cfg.DataDir, cfg.LogDir)
	}
	if !filepath.IsAbs(cfg.MacaroonFile) {
		cfg.MacaroonFile = filepath.Join(cfg.DataDir, cfg.MacaroonFile)
	}

	return cfg, nil
}
