package dice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Channels used by the dice service on the room broadcast.
const (
	RollChannel    = "com.battle-system.dice/roll"
	ResultsChannel = "com.battle-system.dice/results"
	ReadyChannel   = "com.battle-system.dice/ready"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultDetectTimeout = 2 * time.Second
)

// Broadcaster is the room broadcast as seen by one peer. Messages a peer
// publishes are not delivered back to it.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string, fn func(payload []byte)) (unsubscribe func())
}

type rollRequest struct {
	ID       string `json:"id"`
	Notation string `json:"notation"`
	Label    string `json:"label"`
}

type rollResponse struct {
	ID    string `json:"id,omitempty"`
	Total int    `json:"total"`
	Rolls []int  `json:"rolls"`
}

// Remote asks a dice service in the room to roll and waits for the answer
// carrying the same request id.
type Remote struct {
	bc      Broadcaster
	timeout time.Duration

	mu          sync.Mutex
	pending     map[string]chan Result
	unsubscribe func()
}

func NewRemote(bc Broadcaster, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Remote{
		bc:      bc,
		timeout: timeout,
		pending: make(map[string]chan Result),
	}
	r.unsubscribe = bc.Subscribe(ResultsChannel, r.onResult)
	return r
}

func (r *Remote) Name() string { return "Owlbear Dice" }

func (r *Remote) Close() { r.unsubscribe() }

func (r *Remote) Roll(ctx context.Context, notation, label string) (Result, error) {
	if _, err := Parse(notation); err != nil {
		return Result{}, err
	}
	if label == "" {
		label = "AP Variance"
	}

	id := uuid.NewString()
	ch := make(chan Result, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	payload, err := json.Marshal(rollRequest{ID: id, Notation: notation, Label: label})
	if err != nil {
		return Result{}, fmt.Errorf("encode roll request: %w", err)
	}
	if err := r.bc.Publish(ctx, RollChannel, payload); err != nil {
		return Result{}, fmt.Errorf("publish roll request: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		res.Label = label
		return res, nil
	case <-timer.C:
		return Result{}, ErrTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// onResult routes a response to its request. Services that do not echo
// the id are answered only when exactly one roll is outstanding.
func (r *Remote) onResult(payload []byte) {
	var resp rollResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.pending[resp.ID]
	if !ok && resp.ID == "" && len(r.pending) == 1 {
		for _, only := range r.pending {
			ch, ok = only, true
		}
	}
	if !ok {
		return
	}
	select {
	case ch <- Result{Total: resp.Total, Rolls: resp.Rolls}:
	default:
	}
}

// Fallback prefers Primary and falls back to Secondary when Primary
// fails for any reason other than bad notation.
type Fallback struct {
	Primary   Roller
	Secondary Roller
	Logger    *zap.Logger
}

func (f *Fallback) Name() string { return f.Primary.Name() }

// Close releases the primary roller's subscription, if it holds one.
func (f *Fallback) Close() {
	if c, ok := f.Primary.(interface{ Close() }); ok {
		c.Close()
	}
}

func (f *Fallback) Roll(ctx context.Context, notation, label string) (Result, error) {
	res, err := f.Primary.Roll(ctx, notation, label)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrInvalidNotation) {
		return Result{}, err
	}
	if f.Logger != nil {
		f.Logger.Warn("remote dice failed, rolling locally",
			zap.String("roller", f.Primary.Name()),
			zap.String("notation", notation),
			zap.Error(err))
	}
	return f.Secondary.Roll(ctx, notation, label)
}

// Detect reports whether a dice service answers a ready query within
// timeout.
func Detect(ctx context.Context, bc Broadcaster, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultDetectTimeout
	}
	ready := make(chan struct{}, 1)
	unsubscribe := bc.Subscribe(ReadyChannel, func(payload []byte) {
		var msg struct {
			Query bool `json:"query"`
		}
		if json.Unmarshal(payload, &msg) == nil && msg.Query {
			return
		}
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := bc.Publish(ctx, ReadyChannel, []byte(`{"query":true}`)); err != nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Available returns the roller to use in a room: the dice service backed
// by local when one is detected, otherwise local alone.
func Available(ctx context.Context, bc Broadcaster, local Roller, rollTimeout, detectTimeout time.Duration, logger *zap.Logger) Roller {
	if !Detect(ctx, bc, detectTimeout) {
		return local
	}
	return &Fallback{Primary: NewRemote(bc, rollTimeout), Secondary: local, Logger: logger}
}
