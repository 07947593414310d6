package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-ieb/logger"
)

// ConnState is the state of the PLC connection.
type ConnState uint32

const (
	// Disconnected means no socket is held.
	Disconnected ConnState = iota
	// Connected means the socket is usable for exchanges.
	Connected
	// Faulted means the last connect or exchange failed. The socket has been released.
	Faulted
)

func (cs ConnState) String() string {
	switch cs {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is invoked after every state change.
//
// Handlers run synchronously while the state manager is locked; they must not
// call back into the state manager.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr tracks the connection state and validates transitions.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a state manager in the Disconnected state.
func NewConnStateMgr(l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}
	cs := &ConnStateMgr{logger: l}
	cs.cond = sync.NewCond(&cs.mu)
	cs.AddHandler(handlers...)

	return cs
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler registers state change handlers.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			cs.handlers = append(cs.handlers, h)
		}
	}
}

// WaitState blocks until the state equals state or ctx is done.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		cs.cond.Broadcast()
		cs.mu.Unlock()
	})
	defer stop()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs.cond.Wait()
	}

	return nil
}

// ToConnected is allowed from Disconnected only.
func (cs *ConnStateMgr) ToConnected() error {
	return cs.transition(Connected, Disconnected)
}

// ToFaulted is allowed from Connected, and from Disconnected when a connect attempt fails.
func (cs *ConnStateMgr) ToFaulted() error {
	return cs.transition(Faulted, Connected, Disconnected)
}

// ToDisconnected is allowed from any state.
func (cs *ConnStateMgr) ToDisconnected() {
	_ = cs.transition(Disconnected, Connected, Faulted)
}

func (cs *ConnStateMgr) transition(to ConnState, from ...ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if cur == to {
		return nil
	}

	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		cs.logger.Debug("rejected connection state transition", "from", cur.String(), "to", to.String())
		return ErrInvalidTransition
	}

	cs.state.Store(uint32(to))
	cs.cond.Broadcast()
	cs.logger.Debug("connection state changed", "from", cur.String(), "to", to.String())

	for _, h := range cs.handlers {
		h(cur, to)
	}

	return nil
}
