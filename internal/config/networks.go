package config

import (
	"sort"
	"strconv"
	"strings"
)

// NetworkConfig describes an EVM network records can be labelled with
type NetworkConfig struct {
	Name     string   `yaml:"name" json:"name"`
	ChainID  uint64   `yaml:"chain_id" json:"chain_id"`
	Currency string   `yaml:"currency" json:"currency"`
	Testnet  bool     `yaml:"testnet" json:"testnet"`
	Aliases  []string `yaml:"aliases" json:"aliases"`
}

// NetworkRegistry maps canonical network names to their configuration
type NetworkRegistry struct {
	Networks map[string]NetworkConfig `yaml:"networks" json:"networks"`
}

// DefaultNetworkRegistry returns the networks known out of the box
func DefaultNetworkRegistry() *NetworkRegistry {
	nr := &NetworkRegistry{Networks: make(map[string]NetworkConfig)}
	for _, n := range []NetworkConfig{
		{Name: "mainnet", ChainID: 1, Currency: "ETH", Aliases: []string{"ethereum", "eth"}},
		{Name: "sepolia", ChainID: 11155111, Currency: "ETH", Testnet: true},
		{Name: "holesky", ChainID: 17000, Currency: "ETH", Testnet: true},
		{Name: "polygon", ChainID: 137, Currency: "POL", Aliases: []string{"matic"}},
		{Name: "avalanche", ChainID: 43114, Currency: "AVAX", Aliases: []string{"avax", "c-chain"}},
		{Name: "fuji", ChainID: 43113, Currency: "AVAX", Testnet: true},
		{Name: "arbitrum-one", ChainID: 42161, Currency: "ETH", Aliases: []string{"arbitrum"}},
		{Name: "base", ChainID: 8453, Currency: "ETH"},
		{Name: "bsc", ChainID: 56, Currency: "BNB", Aliases: []string{"bnb"}},
	} {
		nr.AddNetwork(n)
	}
	return nr
}

// AddNetwork adds or replaces a network
func (nr *NetworkRegistry) AddNetwork(network NetworkConfig) {
	network.Name = strings.ToLower(network.Name)
	nr.Networks[network.Name] = network
}

// Lookup finds a network by name, alias or decimal chain id, case-insensitively
func (nr *NetworkRegistry) Lookup(name string) (NetworkConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if n, ok := nr.Networks[name]; ok {
		return n, true
	}
	chainID, err := strconv.ParseUint(name, 10, 64)
	isChainID := err == nil
	for _, n := range nr.Networks {
		if isChainID && n.ChainID == chainID {
			return n, true
		}
		for _, alias := range n.Aliases {
			if alias == name {
				return n, true
			}
		}
	}
	return NetworkConfig{}, false
}

// Names returns the canonical network names in sorted order
func (nr *NetworkRegistry) Names() []string {
	names := make([]string, 0, len(nr.Networks))
	for name := range nr.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
