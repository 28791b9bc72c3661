package api

import (
	"encoding/json"
	"net/http"

	"github.com/kjannette/p2p-trade-client/internal/display"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/models"
)

type offerView struct {
	models.Offer
	CreatorName string `json:"creator_name"`
	Rate        string `json:"rate"`
	ActionLabel string `json:"action_label"`
	CanTrade    bool   `json:"can_trade"`
}

func (s *Server) offerViews(r *http.Request, offers []models.Offer) []offerView {
	ids := make([]int64, len(offers))
	for i, o := range offers {
		ids[i] = o.CreatorAccountID
	}
	names := s.deps.Names.DisplayNames(r.Context(), ids)
	authed := s.deps.Backend.Authenticated()

	out := make([]offerView, len(offers))
	for i, o := range offers {
		out[i] = offerView{
			Offer:       o,
			CreatorName: names[o.CreatorAccountID],
			Rate:        display.FormatRate(o.RateAdjustment.Float()),
			ActionLabel: display.TradeActionLabel(authed),
			CanTrade:    authed,
		}
	}
	return out
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := external.OfferFilter{Type: models.OfferType(q.Get("type")), Token: q.Get("token")}
	if filter.Type != "" && filter.Type != models.OfferBuy && filter.Type != models.OfferSell {
		writeError(w, http.StatusBadRequest, "invalid type, expected BUY|SELL")
		return
	}

	offers, err := s.deps.Backend.ListOffers(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, "list offers", err)
		return
	}
	display.SortOffers(offers)
	writeJSON(w, http.StatusOK, s.offerViews(r, offers))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offer, err := s.deps.Backend.GetOffer(r.Context(), id)
	if err != nil {
		s.writeFailure(w, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, s.offerViews(r, []models.Offer{*offer})[0])
}

type startTradeRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleStartTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body startTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	offer, err := s.deps.Backend.GetOffer(r.Context(), id)
	if err != nil {
		s.writeFailure(w, "get offer", err)
		return
	}

	res, err := s.deps.Actions.StartTrade(r.Context(), offer, body.Amount)
	if err != nil {
		if res != nil && res.TradeID != 0 {
			s.log.Warn().Err(err).Int64("trade_id", res.TradeID).Msg("trade started with errors")
			writeJSON(w, http.StatusAccepted, map[string]any{"result": res, "error": err.Error()})
			return
		}
		s.writeFailure(w, "start trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
