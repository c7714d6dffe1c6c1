// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"bytes"
	"os"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/vault"
)

// config is the yaml file layout.
type config struct {
	DataDir string       `yaml:"dataDir"`
	APIAddr string       `yaml:"apiAddr"`
	APICors string       `yaml:"apiCors"`
	Keeper  keeperConfig `yaml:"keeper"`
	Vaults  []vaultEntry `yaml:"vaults"`
}

type keeperConfig struct {
	Signers               []string `yaml:"signers"`
	MinSigners            int      `yaml:"minSigners"`
	UpdateDelay           uint64   `yaml:"updateDelay"`
	MaxAvgRewardPerSecond string   `yaml:"maxAvgRewardPerSecond"`
}

type vaultEntry struct {
	ID           string `yaml:"id"`
	FeePercent   uint16 `yaml:"feePercent"`
	FeeRecipient string `yaml:"feeRecipient"`
	ClaimDelay   uint64 `yaml:"claimDelay"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "read config")
	}
	var cfg config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.WithMessage(err, "parse config")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = "localhost:8669"
	}
	return &cfg, nil
}

func (c *keeperConfig) parse() (keeper.Config, error) {
	signers := make([]core.Address, 0, len(c.Signers))
	for _, s := range c.Signers {
		addr, err := core.ParseAddress(s)
		if err != nil {
			return keeper.Config{}, errors.WithMessagef(err, "signer %q", s)
		}
		signers = append(signers, addr)
	}
	maxRate, err := uint256.FromDecimal(c.MaxAvgRewardPerSecond)
	if err != nil {
		return keeper.Config{}, errors.WithMessage(err, "maxAvgRewardPerSecond")
	}
	return keeper.Config{
		Signers:               signers,
		MinSigners:            c.MinSigners,
		UpdateDelay:           c.UpdateDelay,
		MaxAvgRewardPerSecond: maxRate,
	}, nil
}

func (e *vaultEntry) parse() (vault.Config, error) {
	id, err := core.ParseAddress(e.ID)
	if err != nil {
		return vault.Config{}, errors.WithMessagef(err, "vault id %q", e.ID)
	}
	recipient, err := core.ParseAddress(e.FeeRecipient)
	if err != nil {
		return vault.Config{}, errors.WithMessagef(err, "fee recipient %q", e.FeeRecipient)
	}
	return vault.Config{
		ID:           id,
		FeePercent:   e.FeePercent,
		FeeRecipient: recipient,
		ClaimDelay:   e.ClaimDelay,
	}, nil
}
