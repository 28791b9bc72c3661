package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/kjannette/p2p-trade-client/internal/models"
)

const (
	keepAliveInterval = 15 * time.Second
	relayWriteTimeout = 10 * time.Second
	relayBuffer       = 16
)

// handleTradeEvents relays the watched trade's snapshots as server-sent
// events, starting with the current copy. A slow client only ever sees the
// newest snapshot; it never holds up the subscriber.
func (s *Server) handleTradeEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, release, err := s.deps.Watcher.Watch(id, nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()

	ch := make(chan models.Trade, relayBuffer)
	feedSub := sub.Subscribe(ch)
	defer feedSub.Unsubscribe()

	stop := make(chan struct{})
	defer close(stop)
	latest := make(chan models.Trade, 1)
	go coalesce(ch, latest, stop)

	rc := http.NewResponseController(w)
	write := func(fn func() error) bool {
		_ = rc.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
		if fn() != nil {
			return false
		}
		return rc.Flush() == nil
	}
	send := func(t models.Trade) bool {
		return write(func() error {
			return sse.Encode(w, sse.Event{Id: strconv.FormatInt(t.UpdatedAt.UnixMilli(), 10), Data: t})
		})
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if cur := sub.Current(); cur != nil {
		if !send(*cur) {
			return
		}
	} else if !write(func() error { return nil }) {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	log := s.log.With().Int64("trade_id", id).Logger()
	log.Debug().Msg("event relay opened")
	defer log.Debug().Msg("event relay closed")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-feedSub.Err():
			return
		case t := <-latest:
			if !send(t) {
				return
			}
		case <-keepAlive.C:
			ok := write(func() error {
				_, err := w.Write([]byte(": keepalive\n\n"))
				return err
			})
			if !ok {
				return
			}
		}
	}
}

// coalesce drains in as fast as it fills and keeps only the newest snapshot
// in out, which has room for one.
func coalesce(in <-chan models.Trade, out chan models.Trade, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case t := <-in:
			select {
			case out <- t:
			default:
				select {
				case <-out:
				default:
				}
				out <- t
			}
		}
	}
}
