package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/natternet/natter/src/natter"
	"github.com/natternet/natter/src/term"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that joins a channel and runs the chat
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run [chat://...]",
		Short:   "Join a channel, or create one when no link is given",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: loadConfig,
		RunE:    runNatter,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNatter(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		_config.Channel = args[0]
	}

	engine := natter.NewNatter(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	if _config.Channel == "" {
		fmt.Printf("Channel link: %s\n", engine.Channel.ID().URI())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ui := term.NewTerm(engine.Channel, _config.Moniker, os.Stdin, os.Stdout, _config.Logger())

	uiErr := make(chan error, 1)
	go func() {
		uiErr <- ui.Run()
	}()

	var err error
	select {
	case <-sigCh:
	case err = <-uiErr:
	}

	engine.Leave()

	return err
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Tee logs to this file; keeps the chat output clean")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name shown next to your messages")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the natter node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the natter node")
	cmd.Flags().DurationP("timeout", "t", _config.Timeout, "Dial and handshake timeout")
	cmd.Flags().Bool("quic", _config.QUIC, "Use the QUIC transport instead of TCP")

	// Channel
	cmd.Flags().String("channel", _config.Channel, "chat:// link of the channel to join")
	cmd.Flags().StringSlice("join", _config.Join, "Addresses of known members to dial directly")
	cmd.Flags().Duration("announce", _config.AnnounceInterval, "Discovery and re-announce interval")
	cmd.Flags().Bool("no-discovery", _config.NoDiscovery, "Disable mDNS discovery")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of log entries in the store's LRU window")
	cmd.Flags().Int("sync-limit", _config.SyncLimit, "Max number of entries per data message")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":          _config.DataDir,
		"BindAddr":         _config.BindAddr,
		"AdvertiseAddr":    _config.AdvertiseAddr,
		"Channel":          _config.Channel,
		"Moniker":          _config.Moniker,
		"Join":             _config.Join,
		"QUIC":             _config.QUIC,
		"ServiceAddr":      _config.ServiceAddr,
		"NoDiscovery":      _config.NoDiscovery,
		"NoService":        _config.NoService,
		"Store":            _config.Store,
		"LogLevel":         _config.LogLevel,
		"Timeout":          _config.Timeout,
		"AnnounceInterval": _config.AnnounceInterval,
		"CacheSize":        _config.CacheSize,
		"SyncLimit":        _config.SyncLimit,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/natter.toml (.json, .yaml also work)
	viper.SetConfigName("natter")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
