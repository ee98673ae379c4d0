package cdp

import (
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"

	"github.com/torwell84/torwell-verify/log"
)

// eventBufferSize bounds how many events a slow subscriber may lag behind
// before new events are dropped for it.
const eventBufferSize = 64

// Event is a decoded CDP event.
type Event struct {
	Name      cdproto.MethodType
	Data      interface{}
	SessionID target.SessionID
}

type subscription struct {
	sessionID target.SessionID
	events    map[cdproto.MethodType]struct{}
	ch        chan *Event
}

type eventWatcher struct {
	logger *log.Logger

	subsMu sync.RWMutex
	nextID int64
	subs   map[int64]*subscription
	closed bool
}

func newEventWatcher(logger *log.Logger) *eventWatcher {
	return &eventWatcher{
		logger: logger,
		subs:   make(map[int64]*subscription),
	}
}

// subscribe registers interest in events for sessionID. The returned channel
// is closed when the cancel function is called or the watcher shuts down.
func (w *eventWatcher) subscribe(
	sessionID string, events ...cdproto.MethodType,
) (<-chan *Event, func()) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	sub := &subscription{
		sessionID: target.SessionID(sessionID),
		events:    make(map[cdproto.MethodType]struct{}, len(events)),
		ch:        make(chan *Event, eventBufferSize),
	}
	for _, evt := range events {
		sub.events[evt] = struct{}{}
	}
	if w.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	w.nextID++
	id := w.nextID
	w.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { w.unsubscribe(id) })
	}
}

func (w *eventWatcher) unsubscribe(id int64) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	if sub, ok := w.subs[id]; ok {
		delete(w.subs, id)
		close(sub.ch)
	}
}

func (w *eventWatcher) notify(evt *Event) {
	w.subsMu.RLock()
	defer w.subsMu.RUnlock()

	for _, sub := range w.subs {
		if sub.sessionID != evt.SessionID {
			continue
		}
		if _, ok := sub.events[evt.Name]; !ok {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			w.logger.Warnf("cdp:eventWatcher", "subscriber lagging, dropped %s for session %q", evt.Name, evt.SessionID)
		}
	}
}

// close closes every subscriber channel.
func (w *eventWatcher) close() {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	for id, sub := range w.subs {
		delete(w.subs, id)
		close(sub.ch)
	}
}
