package panel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/daemonp/amt2mqtt/internal/amt"
	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/protocol"
	"github.com/daemonp/amt2mqtt/internal/types"
)

// Listener is called with every status that differs from the previous one.
// The status must not be modified.
type Listener func(status *types.PanelStatus)

// Panel polls the backend and owns the last known status. Commands pass
// straight through and are followed by a refresh.
type Panel struct {
	config     *config.Config
	log        *log.Logger
	backend    amt.Backend
	supervisor *amt.ReconnectSupervisor
	refresh    chan struct{}

	mu         sync.RWMutex
	status     *types.PanelStatus
	lastUpdate time.Time
	lastErr    string
	listeners  []Listener
}

// NewBackend builds a Client when a host is configured and a Server
// otherwise.
func NewBackend(cfg *config.AMTConfig, logger *log.Logger) (amt.Backend, error) {
	proto, err := protocol.ForVariant(protocol.Variant(cfg.Protocol))
	if err != nil {
		return nil, err
	}
	opts := amt.Options{
		Protocol: proto,
		Timeout:  cfg.TimeoutDuration(),
		Passwords: amt.Passwords{
			Default:    cfg.Password,
			Partitions: cfg.PartitionPasswords.Map(),
		},
	}
	if cfg.ServerMode() {
		return amt.NewServer(cfg.ListenHost, cfg.Port, opts, logger.With("server")), nil
	}
	return amt.NewClient(cfg.Host, cfg.Port, opts, logger.With("client")), nil
}

func NewPanel(cfg *config.Config, backend amt.Backend, logger *log.Logger) *Panel {
	p := &Panel{
		config:  cfg,
		log:     logger,
		backend: backend,
		refresh: make(chan struct{}, 1),
		status:  types.NewDisconnectedStatus(),
	}
	if rc, ok := backend.(amt.Reconnector); ok && backend.Mode() == amt.ModeClient {
		p.supervisor = amt.NewReconnectSupervisor(rc, cfg.AMT.ReconnectDuration(), p.RequestRefresh, logger.With("reconnect"))
	}
	return p
}

// Run polls until ctx is done, then closes the backend.
func (p *Panel) Run(ctx context.Context) error {
	defer p.Close()

	if l, ok := p.backend.(interface{ Listen() error }); ok {
		if err := l.Listen(); err != nil {
			return fmt.Errorf("failed to listen for panel: %v", err)
		}
	}

	p.log.Info("Polling panel every %v (%s mode)", p.config.AMT.ScanDuration(), p.backend.Mode())
	ticker := time.NewTicker(p.config.AMT.ScanDuration())
	defer ticker.Stop()

	p.Update(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Stopping panel polling")
			return nil
		case <-ticker.C:
		case <-p.refresh:
		}
		p.Update(ctx)
	}
}

// Update polls the panel once and returns the resulting last known status.
// On failure the previous status is kept with Connected cleared.
func (p *Panel) Update(ctx context.Context) *types.PanelStatus {
	if p.backend.Mode() == amt.ModeServer && !p.backend.Connected() {
		return p.markDisconnected(amt.ErrNotConnected)
	}
	if p.supervisor != nil && p.supervisor.Pending() {
		return p.Status()
	}

	status, err := p.backend.GetStatus(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return p.Status()
		}
		if p.supervisor != nil && !amt.IsAuthRejected(err) && !errors.Is(err, amt.ErrPanelBusy) {
			p.supervisor.Schedule()
		}
		return p.markDisconnected(err)
	}

	status.Connected = true
	p.setStatus(status, "")
	return status
}

func (p *Panel) markDisconnected(cause error) *types.PanelStatus {
	p.mu.RLock()
	current := p.status
	p.mu.RUnlock()

	if current.Connected {
		next := current.Clone()
		next.Connected = false
		p.setStatus(next, cause.Error())
		return next
	}
	p.noteError(cause.Error())
	return current
}

func (p *Panel) setStatus(status *types.PanelStatus, errMsg string) {
	p.mu.Lock()
	changed := !reflect.DeepEqual(p.status, status)
	p.status = status
	if status.Connected {
		p.lastUpdate = time.Now()
	}
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	p.noteError(errMsg)
	if !changed {
		return
	}
	for _, l := range listeners {
		l(status)
	}
}

// noteError logs poll errors once per distinct message.
func (p *Panel) noteError(msg string) {
	p.mu.Lock()
	prev := p.lastErr
	p.lastErr = msg
	p.mu.Unlock()

	switch {
	case msg == prev:
	case msg == "":
		p.log.Info("Panel status available again")
	default:
		p.log.Warn("Failed to update panel status: %s", msg)
	}
}

func (p *Panel) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// RequestRefresh asks the poll loop for an immediate update. It never blocks.
func (p *Panel) RequestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Panel) Status() *types.PanelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Panel) LastUpdate() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdate
}

// Connected reports socket or peer presence, which can differ from
// Status().Connected.
func (p *Panel) Connected() bool {
	return p.backend.Connected()
}

func (p *Panel) Mode() amt.Mode {
	return p.backend.Mode()
}

func (p *Panel) Name() string {
	return p.config.AMT.Name
}

func (p *Panel) command(name string, fn func() error) error {
	p.log.Info("Sending %s command", name)
	err := fn()
	if err != nil {
		p.log.Error("%s command failed: %v", name, err)
	}
	p.RequestRefresh()
	return err
}

func (p *Panel) Arm(ctx context.Context, credential string) error {
	return p.command("arm", func() error { return p.backend.Arm(ctx, credential) })
}

func (p *Panel) Disarm(ctx context.Context, credential string) error {
	return p.command("disarm", func() error { return p.backend.Disarm(ctx, credential) })
}

func (p *Panel) ArmStay(ctx context.Context, credential string) error {
	return p.command("arm stay", func() error { return p.backend.ArmStay(ctx, credential) })
}

func (p *Panel) ArmPartition(ctx context.Context, partition, credential string) error {
	return p.command("arm partition "+partition, func() error {
		return p.backend.ArmPartition(ctx, partition, credential)
	})
}

func (p *Panel) DisarmPartition(ctx context.Context, partition, credential string) error {
	return p.command("disarm partition "+partition, func() error {
		return p.backend.DisarmPartition(ctx, partition, credential)
	})
}

func (p *Panel) ArmStayPartition(ctx context.Context, partition, credential string) error {
	return p.command("arm stay partition "+partition, func() error {
		return p.backend.ArmStayPartition(ctx, partition, credential)
	})
}

func (p *Panel) ActivatePGM(ctx context.Context, number int) error {
	return p.command(fmt.Sprintf("PGM %d on", number), func() error { return p.backend.ActivatePGM(ctx, number) })
}

func (p *Panel) DeactivatePGM(ctx context.Context, number int) error {
	return p.command(fmt.Sprintf("PGM %d off", number), func() error { return p.backend.DeactivatePGM(ctx, number) })
}

func (p *Panel) SirenOn(ctx context.Context) error {
	return p.command("siren on", func() error { return p.backend.SirenOn(ctx) })
}

func (p *Panel) SirenOff(ctx context.Context) error {
	return p.command("siren off", func() error { return p.backend.SirenOff(ctx) })
}

func (p *Panel) BypassZones(ctx context.Context, mask []bool) error {
	return p.command("bypass", func() error { return p.backend.BypassZones(ctx, mask) })
}

func (p *Panel) BypassOpenZones(ctx context.Context) error {
	return p.command("bypass open zones", func() error {
		return p.backend.BypassOpenZones(ctx, p.Status())
	})
}

func (p *Panel) SendRawCommand(ctx context.Context, hexCommand, credential string) amt.RawResult {
	var result amt.RawResult
	p.command("raw "+hexCommand, func() error {
		result = p.backend.SendRawCommand(ctx, hexCommand, credential)
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	})
	return result
}

// SetCachedData seeds the last known status from a previous run. It is
// marked disconnected until the first successful poll.
func (p *Panel) SetCachedData(data *types.CacheData) {
	if data == nil || data.Status == nil {
		return
	}
	status := data.Status.Clone()
	status.Connected = false

	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.lastUpdate = data.LastUpdate
}

func (p *Panel) GetCacheableData() *types.CacheData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &types.CacheData{
		Status:     p.status.Clone(),
		LastUpdate: p.lastUpdate,
	}
}

func (p *Panel) Close() error {
	if p.supervisor != nil {
		p.supervisor.Stop()
	}
	p.log.Info("Disconnecting from panel...")
	return p.backend.Close()
}
