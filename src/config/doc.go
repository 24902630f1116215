// Package config defines the configuration for a natter node.
//
// Regardless of how natter is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, natter relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  natter.toml // (optional) a TOML file containing any of the configuration options.
//  priv_key // a plain text file containing the raw private key (cf. natter keygen).
//  peers.json // (optional) a JSON file containing bootstrap peers to dial directly.
//  badger_db/ // (with --store) the persistent database of channel logs.
package config
