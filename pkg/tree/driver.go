package tree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrDriverStarted is returned by Run when the driver has already been run.
var ErrDriverStarted = errors.New("driver already started")

// State is the lifecycle state of a Driver.
type State int32

const (
	StateSubscribed State = iota
	StateMutating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateMutating:
		return "mutating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Result describes the outcome of applying one update.
type Result struct {
	Update   Update
	Version  uint64
	Err      error
	Duration time.Duration
}

// Observer is notified after every update, successful or not. Observers run
// on the driver goroutine after the write lock has been released.
type Observer func(Result)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for per-update diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithObserver registers fn to be called after each update.
func WithObserver(fn Observer) Option {
	return func(d *Driver) {
		d.observers = append(d.observers, fn)
	}
}

// Stats holds driver counters.
type Stats struct {
	Applied uint64
	Failed  uint64
	State   State
}

// Driver is the single writer of a Handle. It pulls updates from a Source
// and applies them one at a time, in arrival order. An update that fails to
// apply is logged and skipped; the stream keeps going.
type Driver struct {
	handle    *Handle
	source    Source
	logger    *zap.Logger
	observers []Observer

	state   atomic.Int32
	applied atomic.Uint64
	failed  atomic.Uint64

	once sync.Once
	done chan struct{}
	err  error
}

// NewDriver creates a driver that feeds src into h.
func NewDriver(h *Handle, src Source, opts ...Option) *Driver {
	d := &Driver{
		handle: h,
		source: src,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the driver in a new goroutine.
func (d *Driver) Start(ctx context.Context) {
	go d.Run(ctx)
}

// Run consumes the source until it ends or ctx is cancelled. It returns the
// source's terminal error, or nil on a clean end or cancellation. The tree
// keeps its last state and stays readable afterwards.
func (d *Driver) Run(ctx context.Context) error {
	first := false
	d.once.Do(func() { first = true })
	if !first {
		return ErrDriverStarted
	}
	defer close(d.done)
	defer d.state.Store(int32(StateTerminated))

	updates, errs := d.source.Updates(ctx)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				var err error
				if errs != nil {
					err = <-errs
				}
				return d.finish(ctx, err)
			}
			d.apply(u)
		case <-ctx.Done():
			return d.finish(ctx, nil)
		}
	}
}

func (d *Driver) finish(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	d.err = err
	if err != nil {
		d.logger.Error("update source failed", zap.Error(err))
	} else {
		d.logger.Info("update source closed")
	}
	return err
}

func (d *Driver) apply(u Update) {
	d.state.Store(int32(StateMutating))
	start := time.Now()
	version, err := d.handle.Apply(u)
	res := Result{Update: u, Version: version, Err: err, Duration: time.Since(start)}
	d.state.Store(int32(StateSubscribed))

	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("dropping update",
			zap.String("op", u.Op()),
			zap.String("path", u.Path.String()),
			zap.Error(err))
	} else {
		d.applied.Add(1)
		d.logger.Debug("applied update",
			zap.String("op", u.Op()),
			zap.String("path", u.Path.String()),
			zap.Uint64("version", version))
	}

	for _, obs := range d.observers {
		obs(res)
	}
}

// Done is closed when the driver has terminated.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Err returns the terminal source error once Done is closed.
func (d *Driver) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Stats returns the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Applied: d.applied.Load(),
		Failed:  d.failed.Load(),
		State:   d.State(),
	}
}

// Subscribe creates a tree for rootPath, wraps it in a Handle and starts a
// driver feeding src into it.
func Subscribe(ctx context.Context, rootPath string, src Source, opts ...Option) (*Handle, *Driver, error) {
	t, err := New(rootPath)
	if err != nil {
		return nil, nil, err
	}
	h := NewHandle(t)
	d := NewDriver(h, src, opts...)
	d.Start(ctx)
	return h, d, nil
}
