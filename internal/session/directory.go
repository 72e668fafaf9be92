package session

import "github.com/cwrk-planet/session-service/internal/domain"

// directory is the per-room participant set, indexed both by user identity
// and by connection. Not safe for concurrent use; the owning room's lock
// guards every call.
type directory struct {
	byUser map[string]*domain.Participant
	byConn map[string]*domain.Participant
}

func newDirectory() directory {
	return directory{
		byUser: make(map[string]*domain.Participant),
		byConn: make(map[string]*domain.Participant),
	}
}

// add registers p, replacing any prior binding of the same user. The
// replaced participant (a stale connection after a reconnect) is returned.
func (d *directory) add(p *domain.Participant) *domain.Participant {
	old := d.byUser[p.UserID]
	if old != nil {
		delete(d.byConn, old.ConnID)
	}
	d.byUser[p.UserID] = p
	d.byConn[p.ConnID] = p
	return old
}

func (d *directory) removeConn(connID string) *domain.Participant {
	p, ok := d.byConn[connID]
	if !ok {
		return nil
	}
	delete(d.byConn, connID)
	if cur, ok := d.byUser[p.UserID]; ok && cur.ConnID == connID {
		delete(d.byUser, p.UserID)
	}
	return p
}

func (d *directory) byConnID(connID string) (*domain.Participant, bool) {
	p, ok := d.byConn[connID]
	return p, ok
}

func (d *directory) user(userID string) (*domain.Participant, bool) {
	p, ok := d.byUser[userID]
	return p, ok
}

func (d *directory) count() int { return len(d.byUser) }

func (d *directory) list() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(d.byUser))
	for _, p := range d.byUser {
		out = append(out, p)
	}
	return out
}
