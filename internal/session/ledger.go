package session

import "github.com/cwrk-planet/session-service/internal/domain"

// ledger is the per-room record of transports, producers and consumers,
// mirroring what the media engine holds for this room. Like directory, it
// relies on the owning room's lock.
type ledger struct {
	transports map[string]*domain.Transport
	producers  map[string]*domain.Producer
	consumers  map[string]*domain.Consumer
}

func newLedger() ledger {
	return ledger{
		transports: make(map[string]*domain.Transport),
		producers:  make(map[string]*domain.Producer),
		consumers:  make(map[string]*domain.Consumer),
	}
}

// addTransport records t. A prior open transport of the same owner and
// direction is closed, dropped from the ledger and returned; one send plus
// one recv per participant is the steady state.
func (l *ledger) addTransport(t *domain.Transport) *domain.Transport {
	var replaced *domain.Transport
	for id, old := range l.transports {
		if old.OwnerID == t.OwnerID && old.Direction == t.Direction {
			old.Closed = true
			delete(l.transports, id)
			replaced = old
			break
		}
	}
	l.transports[t.ID] = t
	return replaced
}

func (l *ledger) transport(id string) (*domain.Transport, bool) {
	t, ok := l.transports[id]
	return t, ok
}

func (l *ledger) addProducer(p *domain.Producer) {
	l.producers[p.ID] = p
}

func (l *ledger) producer(id string) (*domain.Producer, bool) {
	p, ok := l.producers[id]
	return p, ok
}

// openProducerOfKind finds the producer that would violate the one-open-
// producer-per-kind invariant for ownerID.
func (l *ledger) openProducerOfKind(ownerID string, kind domain.MediaKind) *domain.Producer {
	for _, p := range l.producers {
		if p.OwnerID == ownerID && p.Kind == kind && !p.Closed {
			return p
		}
	}
	return nil
}

func (l *ledger) openProducersOwnedBy(ownerID string) []*domain.Producer {
	var out []*domain.Producer
	for _, p := range l.producers {
		if p.OwnerID == ownerID && !p.Closed {
			out = append(out, p)
		}
	}
	return out
}

func (l *ledger) openProducers(excludeOwner string) []*domain.Producer {
	var out []*domain.Producer
	for _, p := range l.producers {
		if !p.Closed && p.OwnerID != excludeOwner {
			out = append(out, p)
		}
	}
	return out
}

func (l *ledger) addConsumer(c *domain.Consumer) {
	l.consumers[c.ID] = c
}

func (l *ledger) consumer(id string) (*domain.Consumer, bool) {
	c, ok := l.consumers[id]
	return c, ok
}

// closeProducer closes p, cascades to its dependent consumers, and drops
// every affected entry from the ledger; closed resources are never kept
// around, so the maps stay bounded by what is actually live. The consumers
// that were still live are returned.
func (l *ledger) closeProducer(p *domain.Producer) []*domain.Consumer {
	p.Closed = true
	delete(l.producers, p.ID)
	var closed []*domain.Consumer
	for id, c := range l.consumers {
		if c.ProducerID == p.ID {
			c.State = domain.ConsumerClosed
			closed = append(closed, c)
			delete(l.consumers, id)
		}
	}
	return closed
}

// purgeOwner closes and removes every resource owned by userID. The
// producers that were force-closed are returned so the caller can signal
// producerClosed for each.
func (l *ledger) purgeOwner(userID string) []*domain.Producer {
	var closedProducers []*domain.Producer
	for _, p := range l.producers {
		if p.OwnerID == userID {
			closedProducers = append(closedProducers, p)
			l.closeProducer(p)
		}
	}
	for id, c := range l.consumers {
		if c.OwnerID == userID {
			c.State = domain.ConsumerClosed
			delete(l.consumers, id)
		}
	}
	for id, t := range l.transports {
		if t.OwnerID == userID {
			t.Closed = true
			delete(l.transports, id)
		}
	}
	return closedProducers
}
