// Package config loads the network profiles and node-local overrides
// described in spec.md §6, using viper (the teacher's configuration
// dependency) instead of the loose dict the original system used.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// NetworkID names a configured network profile.
type NetworkID string

const (
	Testnet NetworkID = "playergold-testnet"
	Mainnet NetworkID = "playergold-mainnet"
)

// NetworkConfig is one of the two named configs of spec.md §6.
type NetworkConfig struct {
	NetworkID          NetworkID
	P2PPort            int
	DiscoveryPort      int
	AllowPrivateIPs    bool
	ResetAllowed       bool
	FaucetEnabled      bool
	BootstrapAddresses []string
}

// Defaults returns the two hard-coded network profiles from spec.md §6.
func Defaults() map[NetworkID]NetworkConfig {
	return map[NetworkID]NetworkConfig{
		Testnet: {
			NetworkID:       Testnet,
			P2PPort:         18333,
			DiscoveryPort:   18080,
			AllowPrivateIPs: true,
			ResetAllowed:    true,
			FaucetEnabled:   true,
		},
		Mainnet: {
			NetworkID:       Mainnet,
			P2PPort:         8333,
			DiscoveryPort:   8080,
			AllowPrivateIPs: false,
			ResetAllowed:    false,
			FaucetEnabled:   false,
		},
	}
}

// NodeConfig is the node-local overlay loaded from env/file via viper.
type NodeConfig struct {
	NodeID        string
	DataDir       string
	Network       NetworkID
	ListenAddr    string
	BlockCadence  time.Duration
	VoteWindow    time.Duration
	HeartbeatEvry time.Duration
}

// Load reads node configuration from env vars (prefix PLAYERGOLD_) and an
// optional config file, falling back to sane defaults for a dev node.
func Load(configFile string) (*NodeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("PLAYERGOLD")
	v.AutomaticEnv()

	v.SetDefault("node_id", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("network", string(Testnet))
	v.SetDefault("listen_addr", "0.0.0.0:18333")
	v.SetDefault("block_cadence_ms", 10_000)
	v.SetDefault("vote_window_ms", 5_000)
	v.SetDefault("heartbeat_interval_ms", 30_000)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &NodeConfig{
		NodeID:        v.GetString("node_id"),
		DataDir:       v.GetString("data_dir"),
		Network:       NetworkID(v.GetString("network")),
		ListenAddr:    v.GetString("listen_addr"),
		BlockCadence:  time.Duration(v.GetInt("block_cadence_ms")) * time.Millisecond,
		VoteWindow:    time.Duration(v.GetInt("vote_window_ms")) * time.Millisecond,
		HeartbeatEvry: time.Duration(v.GetInt("heartbeat_interval_ms")) * time.Millisecond,
	}

	if _, ok := Defaults()[cfg.Network]; !ok {
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}

	return cfg, nil
}
