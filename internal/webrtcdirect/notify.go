package webrtcdirect

import (
	ma "github.com/multiformats/go-multiaddr"
)

// Notifiee receives listener lifecycle and connection notifications.
// Callbacks run synchronously on the goroutine that produced the event.
type Notifiee interface {
	Listening(l *Listener, addr ma.Multiaddr)
	Connection(l *Listener, c Conn)
	Error(l *Listener, err error)
	Closed(l *Listener)
}

// NotifyBundle implements Notifiee by calling whichever functions are set.
type NotifyBundle struct {
	ListeningF  func(*Listener, ma.Multiaddr)
	ConnectionF func(*Listener, Conn)
	ErrorF      func(*Listener, error)
	ClosedF     func(*Listener)
}

var _ Notifiee = (*NotifyBundle)(nil)

func (nb *NotifyBundle) Listening(l *Listener, addr ma.Multiaddr) {
	if nb.ListeningF != nil {
		nb.ListeningF(l, addr)
	}
}

func (nb *NotifyBundle) Connection(l *Listener, c Conn) {
	if nb.ConnectionF != nil {
		nb.ConnectionF(l, c)
	}
}

func (nb *NotifyBundle) Error(l *Listener, err error) {
	if nb.ErrorF != nil {
		nb.ErrorF(l, err)
	}
}

func (nb *NotifyBundle) Closed(l *Listener) {
	if nb.ClosedF != nil {
		nb.ClosedF(l)
	}
}

func (l *Listener) Notify(n Notifiee) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	l.notifiees[n] = struct{}{}
}

func (l *Listener) StopNotify(n Notifiee) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	delete(l.notifiees, n)
}

func (l *Listener) notifyAll(fn func(Notifiee)) {
	l.notifyMu.Lock()
	notifiees := make([]Notifiee, 0, len(l.notifiees))
	for n := range l.notifiees {
		notifiees = append(notifiees, n)
	}
	l.notifyMu.Unlock()

	for _, n := range notifiees {
		fn(n)
	}
}

func (l *Listener) notifyListening(addr ma.Multiaddr) {
	l.notifyAll(func(n Notifiee) { n.Listening(l, addr) })
}

func (l *Listener) notifyConnection(c Conn) {
	l.notifyAll(func(n Notifiee) { n.Connection(l, c) })
}

func (l *Listener) notifyError(err error) {
	l.notifyAll(func(n Notifiee) { n.Error(l, err) })
}

func (l *Listener) notifyClosed() {
	l.notifyAll(func(n Notifiee) { n.Closed(l) })
}
