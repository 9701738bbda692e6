package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openmined/vcsws/internal/wsproto"
	"golang.org/x/sync/errgroup"
)

// routingTable maps a hash to the subscribers that asked for it.
type routingTable map[string][]*Peer

func (r routingTable) hashes() []string {
	out := make([]string, 0, len(r))
	for h := range r {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// syncRound relays one offered tree to every live subscriber, gathers what they want,
// requests the union from the client and fans each body out. The registry is cleared
// when the round ends, whatever its outcome.
func (s *Server) syncRound(ctx context.Context, conn *wsproto.Conn, client string) (err error) {
	if !s.roundMu.TryLock() {
		conn.CloseWith(websocket.StatusTryAgainLater, "sync round in progress")
		return ErrRoundInProgress
	}
	defer s.roundMu.Unlock()

	rec := &RoundRecord{ID: uuid.NewString(), Client: client, StartedAt: time.Now()}
	log := slog.With("round", rec.ID, "client", client)
	defer func() {
		closed := s.registry.Clear()
		rec.Duration = time.Since(rec.StartedAt)
		if err != nil {
			rec.Error = err.Error()
		}
		if herr := s.history.Record(rec); herr != nil {
			log.Warn("broker record round", "error", herr)
		}
		s.rounds.Add(1)
		log.Info("broker sync round end", "closed", closed, "duration", rec.Duration)
	}()

	payload, err := conn.RecvRaw(ctx, websocket.MessageText)
	if err != nil {
		return fmt.Errorf("receive fingerprints: %w", err)
	}
	var offered map[string]string
	if err := json.Unmarshal(payload, &offered); err != nil {
		return fmt.Errorf("invalid fingerprint payload: %w", err)
	}

	pruned := s.registry.Prune()
	peers := s.registry.Snapshot()
	rec.Offered, rec.Subscribers = len(offered), len(peers)
	log.Info("broker sync round", "files", len(offered), "subscribers", len(peers), "pruned", pruned)

	live := s.forward(ctx, log, peers, payload)
	table := s.collect(ctx, log, live, offered)
	wanted := table.hashes()
	rec.Requested = len(wanted)

	if err := conn.SendJSON(ctx, wanted); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var relayed uint64
	for _, hash := range wanted {
		body, err := conn.RecvRaw(ctx, websocket.MessageBinary)
		if err != nil {
			return fmt.Errorf("receive %s: %w", offered[hash], err)
		}
		s.fanout(ctx, log, table[hash], body)
		relayed += uint64(len(body))
		rec.RelayedBytes = int64(relayed)
	}

	log.Info("broker sync round relayed", "files", len(wanted), "size", humanize.Bytes(relayed))
	return nil
}

// forward sends the offered payload to every peer and returns those that took it.
func (s *Server) forward(ctx context.Context, log *slog.Logger, peers []*Peer, payload []byte) []*Peer {
	ok := make([]bool, len(peers))

	var g errgroup.Group
	for i, p := range peers {
		g.Go(func() error {
			if err := p.Send(ctx, websocket.MessageText, payload); err != nil {
				log.Warn("broker forward failed", "addr", p.Addr, "error", err)
				p.closeConnection(websocket.StatusInternalError, "forward failed")
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	live := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if ok[i] {
			live = append(live, p)
		}
	}
	return live
}

// collect reads each peer's request list and builds the routing table. Hashes that
// were not offered are dropped.
func (s *Server) collect(ctx context.Context, log *slog.Logger, peers []*Peer, offered map[string]string) routingTable {
	table := make(routingTable)
	var mu sync.Mutex

	var g errgroup.Group
	for _, p := range peers {
		g.Go(func() error {
			data, err := p.Recv(ctx, s.config.CollectTimeout)
			if err != nil {
				log.Warn("broker request missing", "addr", p.Addr, "error", err)
				p.closeConnection(websocket.StatusPolicyViolation, "no request")
				return nil
			}
			var wanted []string
			if err := json.Unmarshal(data, &wanted); err != nil {
				log.Warn("broker request invalid", "addr", p.Addr, "error", err)
				p.closeConnection(websocket.StatusUnsupportedData, "invalid request")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, h := range wanted {
				if _, ok := offered[h]; !ok {
					log.Warn("broker request unknown hash", "addr", p.Addr, "hash", h)
					continue
				}
				table[h] = append(table[h], p)
			}
			log.Debug("broker request", "addr", p.Addr, "wanted", len(wanted))
			return nil
		})
	}
	g.Wait()
	return table
}

// fanout sends one body to each target still connected. A failing target is closed
// and skipped for the rest of the round.
func (s *Server) fanout(ctx context.Context, log *slog.Logger, targets []*Peer, body []byte) {
	var g errgroup.Group
	for _, p := range targets {
		if p.IsClosed() {
			continue
		}
		g.Go(func() error {
			if err := p.Send(ctx, websocket.MessageBinary, body); err != nil {
				log.Warn("broker relay failed", "addr", p.Addr, "error", err)
				p.closeConnection(websocket.StatusInternalError, "relay failed")
			}
			return nil
		})
	}
	g.Wait()
}
