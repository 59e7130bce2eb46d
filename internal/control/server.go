// Package control exposes the panel over a small local HTTP API and provides
// the client used by the ctl command.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/daemonp/amt2mqtt/internal/amt"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/types"
)

const commandTimeout = 30 * time.Second

// Panel is the coordinator API the control surface drives.
type Panel interface {
	Connected() bool
	Status() *types.PanelStatus
	LastUpdate() time.Time

	Arm(ctx context.Context, credential string) error
	Disarm(ctx context.Context, credential string) error
	ArmStay(ctx context.Context, credential string) error
	ArmPartition(ctx context.Context, partition, credential string) error
	DisarmPartition(ctx context.Context, partition, credential string) error
	ArmStayPartition(ctx context.Context, partition, credential string) error
	ActivatePGM(ctx context.Context, number int) error
	DeactivatePGM(ctx context.Context, number int) error
	SirenOn(ctx context.Context) error
	SirenOff(ctx context.Context) error
	BypassOpenZones(ctx context.Context) error
	SendRawCommand(ctx context.Context, hexCommand, credential string) amt.RawResult
}

// StatusResponse is the status with bitmaps rendered as 1-based numbers.
type StatusResponse struct {
	Connected  bool      `json:"connected"`
	LastUpdate time.Time `json:"last_update"`
	State      string    `json:"state"`
	ModelID    byte      `json:"model_id"`
	Model      string    `json:"model"`
	Firmware   string    `json:"firmware"`
	MaxZones   int       `json:"max_zones"`

	Armed       bool `json:"armed"`
	Stay        bool `json:"stay"`
	Triggered   bool `json:"triggered"`
	Siren       bool `json:"siren"`
	Problem     bool `json:"problem"`
	ZonesFiring bool `json:"zones_firing"`

	ACPower          bool `json:"ac_power"`
	BatteryLevel     int  `json:"battery_level"`
	BatteryConnected bool `json:"battery_connected"`
	BatteryLow       bool `json:"battery_low"`
	BatteryAbsent    bool `json:"battery_absent"`
	BatteryShort     bool `json:"battery_short"`

	AuxOverload  bool `json:"aux_overload"`
	SirenWireCut bool `json:"siren_wire_cut"`
	SirenShort   bool `json:"siren_short"`
	PhoneLineCut bool `json:"phone_line_cut"`
	CommFailure  bool `json:"comm_failure"`

	ZonesOpenCount     int `json:"zones_open_count"`
	ZonesViolatedCount int `json:"zones_violated_count"`
	ZonesBypassedCount int `json:"zones_bypassed_count"`

	ZonesOpen         []int `json:"zones_open"`
	ZonesViolated     []int `json:"zones_violated"`
	ZonesBypassed     []int `json:"zones_bypassed"`
	ZonesTamper       []int `json:"zones_tamper"`
	ZonesShortCircuit []int `json:"zones_short_circuit"`
	ZonesLowBattery   []int `json:"zones_low_battery"`
	PGMs              []int `json:"pgms"`

	Partitions []types.PartitionStatus `json:"partitions"`
}

func NewStatusResponse(s *types.PanelStatus, lastUpdate time.Time) StatusResponse {
	return StatusResponse{
		Connected:          s.Connected,
		LastUpdate:         lastUpdate,
		State:              s.State().String(),
		ModelID:            s.ModelID,
		Model:              s.ModelName,
		Firmware:           s.Firmware,
		MaxZones:           s.MaxZones,
		Armed:              s.Armed,
		Stay:               s.Stay,
		Triggered:          s.Triggered,
		Siren:              s.Siren,
		Problem:            s.Problem,
		ZonesFiring:        s.ZonesFiring,
		ACPower:            s.ACPower,
		BatteryLevel:       s.BatteryLevel,
		BatteryConnected:   s.BatteryConnected,
		BatteryLow:         s.BatteryLow,
		BatteryAbsent:      s.BatteryAbsent,
		BatteryShort:       s.BatteryShort,
		AuxOverload:        s.AuxOverload,
		SirenWireCut:       s.SirenWireCut,
		SirenShort:         s.SirenShort,
		PhoneLineCut:       s.PhoneLineCut,
		CommFailure:        s.CommFailure,
		ZonesOpenCount:     s.ZonesOpenCount,
		ZonesViolatedCount: s.ZonesViolatedCount,
		ZonesBypassedCount: s.ZonesBypassedCount,
		ZonesOpen:          types.ActiveNumbers(s.ZonesOpen),
		ZonesViolated:      types.ActiveNumbers(s.ZonesViolated),
		ZonesBypassed:      types.ActiveNumbers(s.ZonesBypassed),
		ZonesTamper:        types.ActiveNumbers(s.ZonesTamper),
		ZonesShortCircuit:  types.ActiveNumbers(s.ZonesShortCircuit),
		ZonesLowBattery:    types.ActiveNumbers(s.ZonesLowBattery),
		PGMs:               types.ActiveNumbers(s.PGMs),
		Partitions:         s.Partitions,
	}
}

type ArmRequest struct {
	Partition string `json:"partition,omitempty"`
	Stay      bool   `json:"stay,omitempty"`
	Password  string `json:"password,omitempty"`
}

type RawRequest struct {
	Command  string `json:"command"`
	Password string `json:"password,omitempty"`
}

type ActionRequest struct {
	Number int    `json:"number,omitempty"`
	Action string `json:"action"`
}

type CommandResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	panel Panel
	log   *log.Logger
	addr  string
}

func NewServer(host string, port int, p Panel, logger *log.Logger) *Server {
	return &Server{
		panel: p,
		log:   logger,
		addr:  net.JoinHostPort(host, fmt.Sprint(port)),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/connected", s.handleConnected)
	mux.HandleFunc("/command/", s.handleCommand)
	return mux
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("Control API listening on %s", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("control API: %v", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.panel.Connected() {
		writeError(w, http.StatusServiceUnavailable, "panel not connected")
		return
	}
	status := s.panel.Status()
	if status == nil || !status.Connected {
		writeError(w, http.StatusInternalServerError, "failed to read panel status")
		return
	}
	writeJSON(w, http.StatusOK, NewStatusResponse(status, s.panel.LastUpdate()))
}

func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": s.panel.Connected()})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.panel.Connected() {
		writeError(w, http.StatusServiceUnavailable, "panel not connected")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	name := strings.TrimPrefix(r.URL.Path, "/command/")
	s.log.Debug("Control command %s", name)

	var err error
	switch name {
	case "raw":
		var req RawRequest
		if !decode(w, r, &req) {
			return
		}
		result := s.panel.SendRawCommand(ctx, req.Command, req.Password)
		code := http.StatusOK
		if !result.Success {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, result)
		return
	case "arm":
		var req ArmRequest
		if !decode(w, r, &req) {
			return
		}
		err = s.arm(ctx, req)
	case "disarm":
		var req ArmRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Partition == "" {
			err = s.panel.Disarm(ctx, req.Password)
		} else {
			err = s.panel.DisarmPartition(ctx, strings.ToUpper(req.Partition), req.Password)
		}
	case "stay":
		var req ArmRequest
		if !decode(w, r, &req) {
			return
		}
		err = s.panel.ArmStay(ctx, req.Password)
	case "siren":
		var req ActionRequest
		if !decode(w, r, &req) {
			return
		}
		switch strings.ToLower(req.Action) {
		case "on":
			err = s.panel.SirenOn(ctx)
		case "off":
			err = s.panel.SirenOff(ctx)
		default:
			err = fmt.Errorf("invalid siren action %q: must be on or off", req.Action)
		}
	case "pgm":
		var req ActionRequest
		if !decode(w, r, &req) {
			return
		}
		switch {
		case req.Number < 1 || req.Number > types.MaxPGMs:
			err = fmt.Errorf("invalid PGM number %d: must be between 1 and %d", req.Number, types.MaxPGMs)
		case strings.EqualFold(req.Action, "on"):
			err = s.panel.ActivatePGM(ctx, req.Number)
		case strings.EqualFold(req.Action, "off"):
			err = s.panel.DeactivatePGM(ctx, req.Number)
		default:
			err = fmt.Errorf("invalid PGM action %q: must be on or off", req.Action)
		}
	case "bypass":
		err = s.panel.BypassOpenZones(ctx)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown command %q", name))
		return
	}

	if err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Success: true})
}

func (s *Server) arm(ctx context.Context, req ArmRequest) error {
	partition := strings.ToUpper(req.Partition)
	switch {
	case partition == "" && req.Stay:
		return s.panel.ArmStay(ctx, req.Password)
	case partition == "":
		return s.panel.Arm(ctx, req.Password)
	case req.Stay:
		return s.panel.ArmStayPartition(ctx, partition, req.Password)
	default:
		return s.panel.ArmPartition(ctx, partition, req.Password)
	}
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	return false
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, CommandResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
