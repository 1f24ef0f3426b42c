// Package room hosts the shared metadata and broadcast channel for one
// table. Each room is a single goroutine owning its data; peers talk to it
// through its inbox.
package room

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

type Join struct {
	PeerID string
	Outbox chan Update // where this peer wants to receive updates
}

func (Join) isRoomMsg() {}

type Leave struct{ PeerID string }

func (Leave) isRoomMsg() {}

// Set writes Key. A nil Value deletes it. Reply receives the new version.
type Set struct {
	PeerID string
	Key    string
	Value  []byte
	Reply  chan int
}

func (Set) isRoomMsg() {}

type Get struct {
	Key   string
	Reply chan Entry
}

func (Get) isRoomMsg() {}

// Broadcast sends Payload on Channel to every peer except the sender.
type Broadcast struct {
	PeerID  string
	Channel string
	Payload []byte
}

func (Broadcast) isRoomMsg() {}

type GetView struct {
	Reply chan View
}

func (GetView) isRoomMsg() {}

// CloseIfIdle shuts the room down when no peer is connected. Reply says
// whether it did.
type CloseIfIdle struct {
	Reply chan bool
}

func (CloseIfIdle) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type UpdateKind string

const (
	UpdateMetadata  UpdateKind = "metadata"
	UpdateBroadcast UpdateKind = "broadcast"
)

// Update is what peers receive: a metadata change (to everyone, the
// writer included) or a broadcast message.
type Update struct {
	Kind    UpdateKind
	Version int
	From    string
	Key     string
	Value   []byte
	Channel string
	Payload []byte
}

type Entry struct {
	Value   []byte
	Found   bool
	Version int
}

type View struct {
	Code     string
	Version  int
	NumPeers int
	Metadata map[string][]byte
}

// Persister stores room metadata outside the process. Save with a nil
// value deletes the key.
type Persister interface {
	Save(ctx context.Context, code, key string, value []byte) error
}

const (
	persistTimeout = 2 * time.Second
	persistQueue   = 256
)

type Option func(*Room)

// WithIdle registers fn to run on the room goroutine whenever its last
// peer leaves. fn must not block.
func WithIdle(fn func()) Option {
	return func(r *Room) { r.onIdle = fn }
}

type pendingSave struct {
	key   string
	value []byte
}

type Room struct {
	code     string
	inbox    chan Msg
	metadata map[string][]byte
	version  int
	peers    map[string]chan Update
	persist  Persister
	saves    chan pendingSave
	saved    chan struct{}
	onIdle   func()
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRoom starts a room seeded with initial metadata. persist may be nil;
// when set, writes reach it in order on a separate goroutine.
func NewRoom(parent context.Context, code string, initial map[string][]byte, persist Persister, logger *zap.Logger, opts ...Option) *Room {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial == nil {
		initial = make(map[string][]byte)
	}

	r := &Room{
		code:     code,
		inbox:    make(chan Msg, 64),
		metadata: maps.Clone(initial),
		peers:    make(map[string]chan Update),
		persist:  persist,
		logger:   logger.Named("room").With(zap.String("room", code)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}

	if persist != nil {
		r.saves = make(chan pendingSave, persistQueue)
		r.saved = make(chan struct{})
		go r.persistLoop()
	}
	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Inbox exposes the inbox so tests or the ws layer can send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has shut down and its queued writes have
// been persisted.
func (r *Room) Done() <-chan struct{} { return r.done }

// Send delivers m unless ctx ends or the room is gone first.
func (r *Room) Send(ctx context.Context, m Msg) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns a snapshot of the room.
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetView{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.peers[msg.PeerID] = msg.Outbox
				r.logger.Debug("peer joined", zap.String("peer", msg.PeerID), zap.Int("peers", len(r.peers)))

			case Leave:
				if ch, ok := r.peers[msg.PeerID]; ok {
					close(ch)
					delete(r.peers, msg.PeerID)
					r.logger.Debug("peer left", zap.String("peer", msg.PeerID), zap.Int("peers", len(r.peers)))
					r.checkIdle()
				}

			case Set:
				if msg.Value == nil {
					delete(r.metadata, msg.Key)
				} else {
					r.metadata[msg.Key] = msg.Value
				}
				r.version++
				r.save(msg.Key, msg.Value)
				if msg.Reply != nil {
					msg.Reply <- r.version
				}
				if r.fanout(Update{Kind: UpdateMetadata, Version: r.version, From: msg.PeerID, Key: msg.Key, Value: msg.Value}, "") {
					r.checkIdle()
				}

			case Get:
				v, ok := r.metadata[msg.Key]
				msg.Reply <- Entry{Value: v, Found: ok, Version: r.version}

			case Broadcast:
				if r.fanout(Update{Kind: UpdateBroadcast, Version: r.version, From: msg.PeerID, Channel: msg.Channel, Payload: msg.Payload}, msg.PeerID) {
					r.checkIdle()
				}

			case GetView:
				msg.Reply <- View{
					Code:     r.code,
					Version:  r.version,
					NumPeers: len(r.peers),
					Metadata: maps.Clone(r.metadata),
				}

			case CloseIfIdle:
				idle := len(r.peers) == 0
				msg.Reply <- idle
				if idle {
					r.logger.Info("closing idle room")
					r.shutdown()
					return
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// save queues a write for the persister. A full queue holds the room back
// until the store catches up.
func (r *Room) save(key string, value []byte) {
	if r.saves == nil {
		return
	}
	r.saves <- pendingSave{key: key, value: value}
}

func (r *Room) persistLoop() {
	defer close(r.saved)
	// queued writes still go out after the room is cancelled
	base := context.WithoutCancel(r.ctx)
	for s := range r.saves {
		ctx, cancel := context.WithTimeout(base, persistTimeout)
		if err := r.persist.Save(ctx, r.code, s.key, s.value); err != nil {
			r.logger.Error("persist metadata", zap.String("key", s.key), zap.Error(err))
		}
		cancel()
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.peers {
		close(ch) // tell the peer no more updates are coming
		delete(r.peers, id)
	}
	r.cancel()
	if r.saves != nil {
		close(r.saves)
		<-r.saved
	}
	close(r.done)
}

func (r *Room) checkIdle() {
	if len(r.peers) == 0 && r.onIdle != nil {
		r.onIdle()
	}
}

// fanout sends u to every peer but skip. Peers whose outbox is full are
// dropped; it reports whether any were.
func (r *Room) fanout(u Update, skip string) (dropped bool) {
	for id, ch := range r.peers {
		if id == skip {
			continue
		}
		select {
		case ch <- u:
		default:
			r.logger.Warn("dropping slow peer", zap.String("peer", id))
			close(ch)
			delete(r.peers, id)
			dropped = true
		}
	}
	return dropped
}
