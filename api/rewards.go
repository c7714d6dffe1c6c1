// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/keeper"
)

// Rewards exposes the shared reward consensus ledger.
type Rewards struct {
	keeper *keeper.Keeper
}

// NewRewards wraps the keeper.
func NewRewards(k *keeper.Keeper) *Rewards {
	return &Rewards{keeper: k}
}

func (rs *Rewards) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(rs.handleGetRoots))
	sub.Path("").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(rs.handleUpdate))
}

func (rs *Rewards) handleGetRoots(w http.ResponseWriter, _ *http.Request) error {
	current, previous := rs.keeper.CurrentRoot(), rs.keeper.PreviousRoot()
	return WriteJSON(w, M{
		"current":  rootJSON(current),
		"previous": rootJSON(previous),
	})
}

func rootJSON(r keeper.RewardsRoot) *Root {
	if r.IsZero() {
		return nil
	}
	return &Root{
		Root:               r.Root,
		IpfsRef:            r.IpfsRef,
		AvgRewardPerSecond: formatAmount(r.AvgRewardPerSecond),
		UpdateTimestamp:    r.UpdateTimestamp,
		Nonce:              r.Nonce,
	}
}

func (rs *Rewards) handleUpdate(w http.ResponseWriter, req *http.Request) error {
	var ur RootUpdateRequest
	if err := ParseJSON(req.Body, &ur); err != nil {
		return BadRequest(errors.WithMessage(err, "body"))
	}
	rate, err := parseAmount(ur.AvgRewardPerSecond)
	if err != nil {
		return BadRequest(err)
	}
	signatures, err := hexutil.Decode(ur.Signatures)
	if err != nil {
		return BadRequest(errors.WithMessage(err, "signatures"))
	}

	update := keeper.RootUpdate{
		Root:               ur.Root,
		IpfsRef:            ur.IpfsRef,
		AvgRewardPerSecond: rate,
		UpdateTimestamp:    ur.UpdateTimestamp,
	}
	if err := rs.keeper.UpdateRewards(update, signatures); err != nil {
		return err
	}
	return WriteJSON(w, rootJSON(rs.keeper.CurrentRoot()))
}
