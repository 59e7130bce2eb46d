package amt

import (
	"context"

	"github.com/daemonp/amt2mqtt/internal/types"
)

// Backend is the command API shared by Client and Server.
type Backend interface {
	Mode() Mode
	// Connected reports socket or peer presence, independent of whether the
	// last poll succeeded.
	Connected() bool
	Close() error

	GetStatus(ctx context.Context) (*types.PanelStatus, error)
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
	BypassZones(ctx context.Context, mask []bool) error
	BypassOpenZones(ctx context.Context, last *types.PanelStatus) error
	SendRawCommand(ctx context.Context, hexCommand, credential string) RawResult
}

var (
	_ Backend     = (*Client)(nil)
	_ Backend     = (*Server)(nil)
	_ Reconnector = (*Client)(nil)
)
