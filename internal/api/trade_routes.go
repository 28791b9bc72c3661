package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kjannette/p2p-trade-client/internal/actions"
	"github.com/kjannette/p2p-trade-client/internal/display"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/roles"
)

type actionView struct {
	Action actions.Action `json:"action"`
	Label  string         `json:"label"`
}

type participantView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Wallet string `json:"wallet"`
}

type tradeView struct {
	Trade        *models.Trade    `json:"trade"`
	Role         roles.Role       `json:"role"`
	Current      *participantView `json:"current,omitempty"`
	Counterparty *participantView `json:"counterparty,omitempty"`
	Actions      []actionView     `json:"actions"`
	Amount       string           `json:"amount"`
	Live         bool             `json:"live"`
}

func participant(a *models.Account) *participantView {
	if a == nil {
		return nil
	}
	return &participantView{ID: a.ID, Name: a.DisplayName(), Wallet: display.AbbreviateWallet(a.WalletAddress)}
}

// liveTrade returns the watched snapshot, seeding the subscriber from a
// direct fetch when no event has arrived yet.
func (s *Server) liveTrade(r *http.Request, id int64) (*models.Trade, bool, error) {
	sub, release, err := s.deps.Watcher.Watch(id, nil)
	if err == nil {
		defer release()
		if cur := sub.Current(); cur != nil {
			return cur, sub.Connected(), nil
		}
	} else {
		s.log.Warn().Err(err).Int64("trade_id", id).Msg("watch failed")
	}

	t, err := s.deps.Backend.GetTrade(r.Context(), id)
	if err != nil {
		return nil, false, err
	}
	if sub != nil {
		sub.Seed(t)
		return t, sub.Connected(), nil
	}
	return t, false, nil
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, live, err := s.liveTrade(r, id)
	if err != nil {
		s.writeFailure(w, "get trade", err)
		return
	}

	p := s.deps.Roles.Participants(r.Context(), t)
	view := tradeView{
		Trade:        t,
		Role:         p.Role,
		Current:      participant(p.Current),
		Counterparty: participant(p.Counterparty),
		Actions:      []actionView{},
		Amount:       display.FormatBaseUnits(t.Leg1CryptoAmount),
		Live:         live,
	}
	for _, a := range actions.Available(t, p.Role) {
		view.Actions = append(view.Actions, actionView{Action: a, Label: a.Label()})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := actions.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params actions.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Decide on the authoritative state, not the possibly stale live copy.
	t, err := s.deps.Backend.GetTrade(r.Context(), id)
	if err != nil {
		s.writeFailure(w, "get trade", err)
		return
	}
	p := s.deps.Roles.Participants(r.Context(), t)

	res, err := s.deps.Actions.Do(r.Context(), t, p.Role, a, params)
	if err != nil {
		if res != nil {
			writeJSON(w, http.StatusAccepted, map[string]any{"result": res, "error": err.Error()})
			return
		}
		s.writeFailure(w, string(a), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hist, err := s.deps.Journal.History(r.Context(), id, parseLimit(r, 50))
	if err != nil {
		s.log.Error().Err(err).Int64("trade_id", id).Msg("journal history failed")
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	if hist == nil {
		hist = []models.TradeSnapshot{}
	}
	writeJSON(w, http.StatusOK, hist)
}
