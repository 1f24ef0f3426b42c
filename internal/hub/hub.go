package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tactical-initiative/internal/room"
)

type HubMsg interface{ isHubMsg() }

// CreateRoom starts a fresh room for a newly issued Code.
type CreateRoom struct {
	Code  string
	Reply chan *room.Room
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

// EnsureRoom returns the live room for Code, opening it from storage when
// it is not running yet.
type EnsureRoom struct {
	Code  string
	Reply chan *room.Room
}

// RemoveRoom closes the room for Code if nobody is connected to it. When
// Room is set, only that instance is closed.
type RemoveRoom struct {
	Code string
	Room *room.Room
}

type ListRooms struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Store loads and saves room metadata. Load returns an empty map for a room
// it has never seen.
type Store interface {
	room.Persister
	Load(ctx context.Context, code string) (map[string][]byte, error)
}

type Option func(*Hub)

func WithStore(s Store) Option { return func(h *Hub) { h.store = s } }

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.logger = l } }

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	// closing holds rooms that were removed but may still be persisting.
	closing map[string]*room.Room
	store   Store
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		closing: make(map[string]*room.Room),
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.Named("hub")
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after the hub and its rooms have shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Room asks the hub for a running room. With ensure set, a missing room is
// opened.
func (h *Hub) Room(ctx context.Context, code string, ensure bool) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	var m HubMsg = GetRoom{Code: code, Reply: reply}
	if ensure {
		m = EnsureRoom{Code: code, Reply: reply}
	}
	return ask(ctx, h, m, reply)
}

// Create starts an empty room under code.
func (h *Hub) Create(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return ask(ctx, h, CreateRoom{Code: code, Reply: reply}, reply)
}

// Rooms lists the codes of the running rooms.
func (h *Hub) Rooms(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	return ask(ctx, h, ListRooms{Reply: reply}, reply)
}

func ask[T any](ctx context.Context, h *Hub, m HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
		return zero, room.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.ctx.Done():
		return zero, room.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.open(msg.Code, false)

			case GetRoom:
				r := h.rooms[msg.Code]
				if r != nil && isDone(r) {
					delete(h.rooms, msg.Code)
					r = nil
				}
				msg.Reply <- r // may be nil

			case EnsureRoom:
				msg.Reply <- h.open(msg.Code, true)

			case RemoveRoom:
				h.remove(msg.Code, msg.Room)

			case ListRooms:
				codes := make([]string, 0, len(h.rooms))
				for code, r := range h.rooms {
					if !isDone(r) {
						codes = append(codes, code)
					}
				}
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// open returns the running room for code or starts one. When load is set
// the room is seeded from the store.
func (h *Hub) open(code string, load bool) *room.Room {
	if r := h.rooms[code]; r != nil && !isDone(r) {
		return r
	}
	if old := h.closing[code]; old != nil {
		// the last writes of the previous instance must land before we load
		<-old.Done()
		delete(h.closing, code)
	}

	var initial map[string][]byte
	var persist room.Persister
	if h.store != nil {
		persist = h.store
		if load {
			data, err := h.store.Load(h.ctx, code)
			if err != nil {
				h.logger.Error("load room", zap.String("room", code), zap.Error(err))
			}
			initial = data
		}
	}

	var r *room.Room
	r = room.NewRoom(h.ctx, code, initial, persist, h.logger, room.WithIdle(func() {
		go h.requestRemove(code, r)
	}))
	h.rooms[code] = r
	h.logger.Info("room opened", zap.String("room", code), zap.Int("keys", len(initial)))
	return r
}

func (h *Hub) requestRemove(code string, r *room.Room) {
	select {
	case h.inbox <- RemoveRoom{Code: code, Room: r}:
	case <-h.ctx.Done():
	case <-r.Done():
	}
}

// remove closes the room unless a peer joined since it went idle.
func (h *Hub) remove(code string, want *room.Room) {
	r := h.rooms[code]
	if r == nil || (want != nil && r != want) {
		return
	}
	reply := make(chan bool, 1)
	select {
	case r.Inbox() <- room.CloseIfIdle{Reply: reply}:
	case <-r.Done():
		delete(h.rooms, code)
		return
	}
	var closed bool
	select {
	case closed = <-reply:
	case <-r.Done():
		closed = true
	}
	if !closed {
		return
	}
	delete(h.rooms, code)
	h.closing[code] = r
	h.logger.Info("room removed", zap.String("room", code))
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		stop(r)
	}
	for _, r := range h.rooms {
		<-r.Done()
	}
	for _, r := range h.closing {
		<-r.Done()
	}
	clear(h.rooms)
	clear(h.closing)
	h.cancel()
	close(h.done)
}

func stop(r *room.Room) {
	select {
	case r.Inbox() <- room.Shutdown{}:
	case <-r.Done():
	}
}

func isDone(r *room.Room) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}
