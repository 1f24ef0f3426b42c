package room

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
)

// Conn is one peer's attachment to a room. It serves the room's metadata
// as a metadata.Backend and its broadcast channel as a dice.Broadcaster.
// Callbacks run on the Conn's own goroutine, in the order the room sent
// the updates.
type Conn struct {
	room   *Room
	peerID string
	out    chan Update
	done   chan struct{}

	mu        sync.Mutex
	nextID    int
	keys      map[string][]handler
	channels  map[string][]handler
	catchAll  []broadcastHandler
	closeOnce sync.Once
}

type handler struct {
	id int
	fn func([]byte)
}

type broadcastHandler struct {
	id int
	fn func(channel string, payload []byte)
}

// Dial joins r as peerID. buffer sizes the update outbox; a peer that
// falls that far behind is dropped by the room.
func Dial(ctx context.Context, r *Room, peerID string, buffer int) (*Conn, error) {
	c := &Conn{
		room:     r,
		peerID:   peerID,
		out:      make(chan Update, buffer),
		done:     make(chan struct{}),
		keys:     make(map[string][]handler),
		channels: make(map[string][]handler),
	}
	if err := r.Send(ctx, Join{PeerID: peerID, Outbox: c.out}); err != nil {
		return nil, err
	}
	go c.loop()
	return c, nil
}

func (c *Conn) PeerID() string { return c.peerID }

// Done is closed when the room stops sending, either because it shut down
// or because it dropped this peer.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close leaves the room.
func (c *Conn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.room.Send(ctx, Leave{PeerID: c.peerID})
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) loop() {
	defer close(c.done)
	for u := range c.out {
		switch u.Kind {
		case UpdateMetadata:
			for _, h := range c.handlers(c.keys, u.Key) {
				h.fn(u.Value)
			}
		case UpdateBroadcast:
			for _, h := range c.handlers(c.channels, u.Channel) {
				h.fn(u.Payload)
			}
			c.mu.Lock()
			all := slices.Clone(c.catchAll)
			c.mu.Unlock()
			for _, h := range all {
				h.fn(u.Channel, u.Payload)
			}
		}
	}
}

func (c *Conn) handlers(m map[string][]handler, name string) []handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(m[name])
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	reply := make(chan Entry, 1)
	if err := c.room.Send(ctx, Get{Key: key, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case e := <-reply:
		if !e.Found {
			return nil, metadata.ErrNotFound
		}
		return e.Value, nil
	case <-c.room.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Set(ctx context.Context, key string, value []byte) error {
	reply := make(chan int, 1)
	if err := c.room.Send(ctx, Set{PeerID: c.peerID, Key: key, Value: value, Reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-c.room.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) OnChange(key string, fn func([]byte)) func() {
	return c.add(c.keys, key, fn)
}

func (c *Conn) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.room.Send(ctx, Broadcast{PeerID: c.peerID, Channel: channel, Payload: payload})
}

func (c *Conn) Subscribe(channel string, fn func([]byte)) func() {
	return c.add(c.channels, channel, fn)
}

// SubscribeAll receives every broadcast on every channel.
func (c *Conn) SubscribeAll(fn func(channel string, payload []byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.catchAll = append(c.catchAll, broadcastHandler{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.catchAll = slices.DeleteFunc(c.catchAll, func(h broadcastHandler) bool { return h.id == id })
	}
}

func (c *Conn) add(m map[string][]handler, name string, fn func([]byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	m[name] = append(m[name], handler{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		m[name] = slices.DeleteFunc(m[name], func(h handler) bool { return h.id == id })
	}
}
