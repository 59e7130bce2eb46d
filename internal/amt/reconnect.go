package amt

import (
	"context"
	"sync"
	"time"

	"github.com/daemonp/amt2mqtt/internal/log"
)

const DefaultReconnectInterval = 10 * time.Second

// Reconnector is implemented by Client.
type Reconnector interface {
	Disconnect() error
	Connect(ctx context.Context) error
}

// ReconnectSupervisor keeps at most one reconnect loop alive. Each attempt
// waits the interval, disconnects and connects again. After a success
// onSuccess is called so the poller can refresh right away.
type ReconnectSupervisor struct {
	target    Reconnector
	interval  time.Duration
	onSuccess func()
	log       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending bool
}

func NewReconnectSupervisor(target Reconnector, interval time.Duration, onSuccess func(), logger *log.Logger) *ReconnectSupervisor {
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconnectSupervisor{
		target:    target,
		interval:  interval,
		onSuccess: onSuccess,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule starts a reconnect loop and reports whether it did. It does
// nothing while a loop is pending or after Stop.
func (r *ReconnectSupervisor) Schedule() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending || r.ctx.Err() != nil {
		return false
	}
	r.pending = true
	r.wg.Add(1)
	go r.run()
	return true
}

func (r *ReconnectSupervisor) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Stop cancels any pending loop and waits for it to exit.
func (r *ReconnectSupervisor) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *ReconnectSupervisor) run() {
	defer r.wg.Done()
	ok := r.loop()

	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()

	if ok && r.onSuccess != nil {
		r.onSuccess()
	}
}

func (r *ReconnectSupervisor) loop() bool {
	for attempt := 1; ; attempt++ {
		r.log.Info("Reconnecting to panel in %v", r.interval)
		timer := time.NewTimer(r.interval)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if err := r.target.Disconnect(); err != nil {
			r.log.Debug("Disconnect before reconnect failed: %v", err)
		}
		err := r.target.Connect(r.ctx)
		if err == nil {
			r.log.Info("Reconnected to panel after %d attempt(s)", attempt)
			return true
		}
		if r.ctx.Err() != nil {
			return false
		}
		if IsAuthRejected(err) {
			r.log.Error("Giving up reconnecting: %v", err)
			return false
		}
		r.log.Warn("Reconnect attempt %d failed: %v", attempt, err)
	}
}
