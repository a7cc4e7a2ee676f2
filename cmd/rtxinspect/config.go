// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/dmuralov/particl-core/wallet"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "rtxinspect.conf"
	defaultLogFilename    = "rtxinspect.log"
	defaultLogDirname     = "logs"
	defaultDBFilename     = "wallet.db"
	defaultLogLevel       = "info"
	defaultNetwork        = "mainnet"
	defaultCommand        = "balances"
	defaultDBTimeout      = 60 * time.Second
)

var (
	defaultAppDataDir = btcutil.AppDataDir("rtxinspect", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir,
		defaultConfigFilename)

	// errUnknownCommand is returned for a --command outside
	// knownCommands.
	errUnknownCommand = errors.New("unknown command")
)

// knownCommands lists the reports rtxinspect can print.
var knownCommands = []string{"records", "unspent", "balances", "anonstats"}

type anonIndexConfig struct {
	Driver string `long:"driver" description:"Anon index database driver {sqlite, postgres}"`
	DSN    string `long:"dsn" description:"Anon index data source name; the index is empty when unset"`
}

type config struct {
	ConfigFile  string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string        `short:"b" long:"datadir" description:"Directory holding the wallet database"`
	DBTimeout   time.Duration `long:"dbtimeout" description:"Timeout for opening the wallet database"`
	Network     string        `long:"network" description:"Network of the wallet {mainnet, testnet3, regtest, simnet, signet}"`
	LogDir      string        `long:"logdir" description:"Directory to log output"`
	DebugLevel  string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Command     string        `long:"command" description:"Report to print {records, unspent, balances, anonstats}"`
	Kind        string        `long:"kind" description:"Output kind listed by the unspent report {plain, blind, anon}"`
	TipHeight   int32         `long:"tipheight" description:"Chain height used to count confirmations"`
	StartHeight int32         `long:"startheight" description:"First block height listed by the records report"`
	EndHeight   int32         `long:"endheight" description:"Last block height listed by the records report; -1 includes unconfirmed"`

	AnonIndex *anonIndexConfig `group:"anonindex" namespace:"anonindex"`

	params *chaincfg.Params
}

// netParams maps a network name to its parameters.
func netParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// parseKind maps a --kind value to an output kind.
func parseKind(s string) (wallet.OutputKind, error) {
	switch s {
	case "plain", "standard":
		return wallet.KindPlain, nil

	case "blind", "blinded":
		return wallet.KindBlinded, nil

	case "anon":
		return wallet.KindAnon, nil

	default:
		return 0, fmt.Errorf("unknown output kind %q", s)
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// dbPath returns the path of the wallet database of the configured network.
func (c *config) dbPath() string {
	return filepath.Join(c.DataDir, c.params.Name, defaultDBFilename)
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified
//     options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile: defaultConfigFile,
		DataDir:    defaultAppDataDir,
		DBTimeout:  defaultDBTimeout,
		Network:    defaultNetwork,
		LogDir:     filepath.Join(defaultAppDataDir, defaultLogDirname),
		DebugLevel: defaultLogLevel,
		Command:    defaultCommand,
		Kind:       "plain",
		EndHeight:  -1,
		AnonIndex: &anonIndexConfig{
			Driver: string(wallet.AnonIndexSQLite),
		},
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}

		return nil, nil, err
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, fmt.Errorf("error parsing config "+
				"file: %w", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	cfg.params, err = netParams(cfg.Network)
	if err != nil {
		return nil, nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	known := false
	for _, c := range knownCommands {
		known = known || c == cfg.Command
	}
	if !known {
		return nil, nil, fmt.Errorf("%w %q, supported commands %v",
			errUnknownCommand, cfg.Command, knownCommands)
	}

	if _, err := parseKind(cfg.Kind); err != nil {
		return nil, nil, err
	}

	// Initialize log rotation. After log rotation has been initialized,
	// the logger variables may be used.
	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return nil, nil, err
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
