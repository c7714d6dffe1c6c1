// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/vault/exitqueue"
)

// Amounts travel as decimal strings: share and asset quantities are 256-bit
// and do not fit JSON numbers.

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.WithMessage(err, "amount")
	}
	return v, nil
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseSigned(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid signed amount %q", s)
	}
	return v, nil
}

func formatSigned(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// VaultState is the read model of one vault.
type VaultState struct {
	ID              core.Address `json:"id"`
	TotalShares     string       `json:"totalShares"`
	TotalAssets     string       `json:"totalAssets"`
	ExchangeRate    string       `json:"exchangeRate"` // assets per share, 1e18-scaled
	QueuedShares    string       `json:"queuedShares"`
	UnclaimedAssets string       `json:"unclaimedAssets"`
	Collateralized  bool         `json:"collateralized"`
}

// DepositRequest mints shares for assets.
type DepositRequest struct {
	Receiver core.Address `json:"receiver"`
	Assets   string       `json:"assets"`
}

// DepositResponse reports the minted shares.
type DepositResponse struct {
	Shares string `json:"shares"`
}

// HarvestRequest carries a reward proof. All fields empty runs the cycle
// without presenting a proof, advancing the exit queue only.
type HarvestRequest struct {
	Reward     string         `json:"reward"`     // signed cumulative reward
	SideIncome string         `json:"sideIncome"` // cumulative side income
	Proof      []core.Bytes32 `json:"proof"`
}

// HarvestResponse reports what the cycle changed.
type HarvestResponse struct {
	RewardDelta     string `json:"rewardDelta"`
	SideIncomeDelta string `json:"sideIncomeDelta"`
	FeeShares       string `json:"feeShares"`
	SharesBurned    string `json:"sharesBurned"`
	AssetsReleased  string `json:"assetsReleased"`
}

// ExitRequest queues shares for withdrawal.
type ExitRequest struct {
	Owner  core.Address `json:"owner"`
	Shares string       `json:"shares"`
}

// Ticket is the JSON shape of an exit ticket.
type Ticket struct {
	Offset      string `json:"offset"`
	Shares      string `json:"shares"`
	RequestedAt uint64 `json:"requestedAt"`
}

func ticketJSON(t *exitqueue.Ticket) *Ticket {
	if t == nil {
		return nil
	}
	return &Ticket{
		Offset:      formatAmount(t.Offset),
		Shares:      formatAmount(t.Shares),
		RequestedAt: t.RequestedAt,
	}
}

// QueueIndex reports where a ticket stands, with a settlement preview.
type QueueIndex struct {
	Found        bool    `json:"found"` // false while still fully queued
	Index        int     `json:"index"`
	Claimable    bool    `json:"claimable"`
	ExitedShares string  `json:"exitedShares"`
	ExitedAssets string  `json:"exitedAssets"`
	Remaining    *Ticket `json:"remaining"`
}

// SettleRequest settles a ticket against a checkpoint.
type SettleRequest struct {
	Caller          core.Address `json:"caller"`
	CheckpointIndex int          `json:"checkpointIndex"`
}

// SettleResponse reports the paid-out prefix.
type SettleResponse struct {
	ExitedShares string  `json:"exitedShares"`
	ExitedAssets string  `json:"exitedAssets"`
	Remaining    *Ticket `json:"remaining"`
}

// RootUpdateRequest installs a new rewards root.
type RootUpdateRequest struct {
	Root               core.Bytes32 `json:"root"`
	IpfsRef            string       `json:"ipfsRef"`
	AvgRewardPerSecond string       `json:"avgRewardPerSecond"`
	UpdateTimestamp    uint64       `json:"updateTimestamp"`
	Signatures         string       `json:"signatures"` // hex, concatenated 65-byte records
}

// Root is the JSON shape of one root generation.
type Root struct {
	Root               core.Bytes32 `json:"root"`
	IpfsRef            string       `json:"ipfsRef"`
	AvgRewardPerSecond string       `json:"avgRewardPerSecond"`
	UpdateTimestamp    uint64       `json:"updateTimestamp"`
	Nonce              uint64       `json:"nonce"`
}

// Event is the JSON shape of one logged ledger event.
type Event struct {
	Seq       uint64       `json:"seq"`
	Type      string       `json:"type"`
	Vault     core.Address `json:"vault"`
	Account   core.Address `json:"account"`
	Assets    string       `json:"assets"`
	Shares    string       `json:"shares"`
	Offset    string       `json:"offset"`
	Reward    string       `json:"reward"`
	Timestamp uint64       `json:"timestamp"`
}
