package models

import (
	"encoding/json"
	"time"
)

// TradeSnapshot is one received trade event as kept in the local journal.
type TradeSnapshot struct {
	ID         int64           `json:"id"`
	TradeID    int64           `json:"tradeId"`
	State      TradeState      `json:"state"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

func (s *TradeSnapshot) Trade() (*Trade, error) {
	var t Trade
	if err := json.Unmarshal(s.Payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
