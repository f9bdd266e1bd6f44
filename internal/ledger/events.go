package ledger

import "log/slog"

// Entity names the kind of record an event is about.
type Entity string

// Event entities.
const (
	EntityWallet      Entity = "wallet"
	EntityTransaction Entity = "transaction"
	EntityCategory    Entity = "category"
	EntityBudget      Entity = "budget"
	EntityPreference  Entity = "preference"
	EntitySync        Entity = "sync"
)

// Op is what happened to the records.
type Op string

// Event operations.
const (
	OpCreated  Op = "created"
	OpUpdated  Op = "updated"
	OpDeleted  Op = "deleted"
	OpRestored Op = "restored"
	OpSynced   Op = "synced"
)

// Event describes a committed change.
type Event struct {
	Entity Entity
	Op     Op
	IDs    []string
}

// Subscribe registers fn to receive every committed change. Events are
// delivered synchronously, after the cache has been invalidated, on the
// goroutine that made the change. The returned function unsubscribes.
func (l *Ledger) Subscribe(fn func(Event)) (unsubscribe func()) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	return func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Ledger) publish(entity Entity, op Op, ids ...string) {
	l.subsMu.RLock()
	subs := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.subsMu.RUnlock()

	if len(subs) == 0 {
		return
	}
	ev := Event{Entity: entity, Op: op, IDs: ids}
	for _, fn := range subs {
		l.deliver(fn, ev)
	}
}

func (l *Ledger) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "entity", ev.Entity, "op", ev.Op, "panic", r)
		}
	}()
	fn(ev)
}
