package session

import (
	"context"

	"github.com/cwrk-planet/session-service/internal/domain"
)

// reclaimLocked force-closes everything userID owns in rm: ledger entries
// first, then a cross-check against the engine's own producer list to
// catch resources a crashed session left behind that the ledger no longer
// knows about. Called with rm.mu held, both proactively at the start of a
// join and reactively when a connection drops.
//
// Every engine close is best effort. One failed close is logged and
// skipped; it never stops the rest of the cascade and never fails the
// caller.
func (r *Registry) reclaimLocked(ctx context.Context, rm *room, userID string, events *[]Event) {
	stale := rm.ledger.openProducersOwnedBy(userID)
	closedIDs := make(map[string]struct{}, len(stale))
	for _, p := range stale {
		closedIDs[p.ID] = struct{}{}
		if err := r.engineClose(ctx, p.ID); err != nil {
			r.log.Warn("reclaim: close producer failed",
				"class", rm.classID, "user", userID, "producer", p.ID, "err", err)
		}
	}

	closed := rm.ledger.purgeOwner(userID)
	for _, p := range closed {
		*events = append(*events, Event{
			Type:    EventProducerClosed,
			Payload: ProducerClosedPayload{ProducerID: p.ID, PeerID: p.OwnerConnID},
		})
	}

	// Mirror validation: the engine may still forward producers for this
	// user that the ledger lost track of (process restart, missed
	// disconnect). Close those too.
	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	remote, err := r.engine.GetExistingProducers(cctx, rm.classID)
	if err != nil {
		r.log.Warn("reclaim: engine producer list unavailable",
			"class", rm.classID, "user", userID, "err", err)
		return
	}
	for _, rp := range remote {
		if rp.UserID != userID {
			continue
		}
		if _, ok := closedIDs[rp.ProducerID]; ok {
			continue
		}
		r.log.Warn("reclaim: closing engine-side orphan producer",
			"class", rm.classID, "user", userID, "producer", rp.ProducerID)
		if err := r.engineClose(ctx, rp.ProducerID); err != nil {
			r.log.Warn("reclaim: close orphan failed",
				"class", rm.classID, "producer", rp.ProducerID, "err", err)
		}
	}
}

func (r *Registry) engineClose(ctx context.Context, producerID string) error {
	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	if err := r.engine.CloseProducer(cctx, producerID); err != nil {
		return domain.EngineFailure(err)
	}
	return nil
}
