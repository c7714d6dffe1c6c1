// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/eventdb"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/vault"
)

// Vaults exposes the ledger operations of the registered vaults.
type Vaults struct {
	vaults map[core.Address]*vault.Vault
	events *eventdb.EventDB // optional
}

// NewVaults indexes the given vaults by id.
func NewVaults(vaults []*vault.Vault, events *eventdb.EventDB) *Vaults {
	index := make(map[core.Address]*vault.Vault, len(vaults))
	for _, v := range vaults {
		index[v.ID()] = v
	}
	return &Vaults{vaults: index, events: events}
}

func (vs *Vaults) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/{id}").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(vs.handleGetState))
	sub.Path("/{id}/deposits").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(vs.handleDeposit))
	sub.Path("/{id}/harvest").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(vs.handleHarvest))
	sub.Path("/{id}/exit-queue").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(vs.handleEnter))
	sub.Path("/{id}/exit-queue/{offset}").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(vs.handleQueueIndex))
	sub.Path("/{id}/exit-queue/{offset}/settle").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(vs.handleSettle))
	sub.Path("/{id}/events").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(vs.handleEvents))
}

func (vs *Vaults) vaultOf(req *http.Request) (*vault.Vault, error) {
	id, err := core.ParseAddress(mux.Vars(req)["id"])
	if err != nil {
		return nil, BadRequest(errors.WithMessage(err, "id"))
	}
	v, ok := vs.vaults[id]
	if !ok {
		return nil, NotFound(errors.Errorf("unknown vault %s", id))
	}
	return v, nil
}

func (vs *Vaults) handleGetState(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	return WriteJSON(w, &VaultState{
		ID:              v.ID(),
		TotalShares:     formatAmount(v.TotalShares()),
		TotalAssets:     formatAmount(v.TotalAssets()),
		ExchangeRate:    formatAmount(v.ExchangeRate()),
		QueuedShares:    formatAmount(v.QueuedShares()),
		UnclaimedAssets: formatAmount(v.UnclaimedAssets()),
		Collateralized:  v.IsCollateralized(),
	})
}

func (vs *Vaults) handleDeposit(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	var dr DepositRequest
	if err := ParseJSON(req.Body, &dr); err != nil {
		return BadRequest(errors.WithMessage(err, "body"))
	}
	assets, err := parseAmount(dr.Assets)
	if err != nil {
		return BadRequest(err)
	}
	shares, err := v.Deposit(dr.Receiver, assets, now())
	if err != nil {
		return err
	}
	return WriteJSON(w, &DepositResponse{Shares: formatAmount(shares)})
}

func (vs *Vaults) handleHarvest(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	var hr HarvestRequest
	if err := ParseJSON(req.Body, &hr); err != nil {
		return BadRequest(errors.WithMessage(err, "body"))
	}

	// a body without reward fields advances the queue without presenting a
	// proof; an empty proof list itself is legitimate when the reward tree
	// has a single leaf
	var params *keeper.HarvestParams
	if hr.Reward != "" || hr.SideIncome != "" {
		reward, err := parseSigned(hr.Reward)
		if err != nil {
			return BadRequest(err)
		}
		sideIncome, err := parseAmount(hr.SideIncome)
		if err != nil {
			return BadRequest(err)
		}
		params = &keeper.HarvestParams{
			Reward:     reward,
			SideIncome: sideIncome,
			Proof:      hr.Proof,
		}
	}
	outcome, err := v.HarvestAndSettle(params, now())
	if err != nil {
		return err
	}
	return WriteJSON(w, &HarvestResponse{
		RewardDelta:     formatSigned(outcome.RewardDelta),
		SideIncomeDelta: formatAmount(outcome.SideIncomeDelta),
		FeeShares:       formatAmount(outcome.FeeShares),
		SharesBurned:    formatAmount(outcome.SharesBurned),
		AssetsReleased:  formatAmount(outcome.AssetsReleased),
	})
}

func (vs *Vaults) handleEnter(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	var er ExitRequest
	if err := ParseJSON(req.Body, &er); err != nil {
		return BadRequest(errors.WithMessage(err, "body"))
	}
	shares, err := parseAmount(er.Shares)
	if err != nil {
		return BadRequest(err)
	}
	ticket, err := v.EnterExitQueue(er.Owner, shares, now())
	if err != nil {
		return err
	}
	return WriteJSON(w, ticketJSON(&ticket))
}

func (vs *Vaults) handleQueueIndex(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	offset, err := parseAmount(mux.Vars(req)["offset"])
	if err != nil {
		return BadRequest(err)
	}
	index, found := v.GetExitQueueIndex(offset)
	res := &QueueIndex{Found: found, Index: index, ExitedShares: "0", ExitedAssets: "0"}
	settlement, claimable, err := v.PreviewSettlement(offset, now())
	if err != nil {
		return err
	}
	res.Claimable = claimable
	res.ExitedShares = formatAmount(settlement.ExitedShares)
	res.ExitedAssets = formatAmount(settlement.ExitedAssets)
	res.Remaining = ticketJSON(settlement.Remaining)
	return WriteJSON(w, res)
}

func (vs *Vaults) handleSettle(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	offset, err := parseAmount(mux.Vars(req)["offset"])
	if err != nil {
		return BadRequest(err)
	}
	var sr SettleRequest
	if err := ParseJSON(req.Body, &sr); err != nil {
		return BadRequest(errors.WithMessage(err, "body"))
	}
	settlement, err := v.SettleExitTicket(sr.Caller, offset, sr.CheckpointIndex, now())
	if err != nil {
		return err
	}
	return WriteJSON(w, &SettleResponse{
		ExitedShares: formatAmount(settlement.ExitedShares),
		ExitedAssets: formatAmount(settlement.ExitedAssets),
		Remaining:    ticketJSON(settlement.Remaining),
	})
}

func (vs *Vaults) handleEvents(w http.ResponseWriter, req *http.Request) error {
	v, err := vs.vaultOf(req)
	if err != nil {
		return err
	}
	if vs.events == nil {
		return NotFound(errors.New("event log disabled"))
	}

	id := v.ID()
	filter := &eventdb.Filter{Vault: &id}
	query := req.URL.Query()
	if t := query.Get("type"); t != "" {
		filter.Type = vault.EventType(t)
	}
	if from := query.Get("from"); from != "" {
		f, err := strconv.ParseUint(from, 10, 64)
		if err != nil {
			return BadRequest(errors.WithMessage(err, "from"))
		}
		to := ^uint64(0)
		if s := query.Get("to"); s != "" {
			if to, err = strconv.ParseUint(s, 10, 64); err != nil {
				return BadRequest(errors.WithMessage(err, "to"))
			}
		}
		filter.Range = &eventdb.Range{From: f, To: to}
	}
	if query.Get("order") == string(eventdb.DESC) {
		filter.Order = eventdb.DESC
	}

	stored, err := vs.events.Filter(req.Context(), filter)
	if err != nil {
		return err
	}
	events := make([]*Event, 0, len(stored))
	for _, ev := range stored {
		events = append(events, &Event{
			Seq:       ev.Seq,
			Type:      string(ev.Type),
			Vault:     ev.Vault,
			Account:   ev.Account,
			Assets:    formatAmount(ev.Assets),
			Shares:    formatAmount(ev.Shares),
			Offset:    formatAmount(ev.Offset),
			Reward:    formatSigned(ev.Reward),
			Timestamp: ev.Timestamp,
		})
	}
	return WriteJSON(w, events)
}

func now() uint64 {
	return uint64(time.Now().Unix())
}
