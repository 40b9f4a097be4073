package permission

import (
	"context"
	"errors"
	"log/slog"
)

// Status is the microphone permission state.
type Status int

const (
	// StatusUnknown means the permission has not been probed yet.
	StatusUnknown Status = iota
	// StatusRequesting means a platform prompt is pending.
	StatusRequesting
	// StatusGranted means capture is allowed.
	StatusGranted
	// StatusDenied means the user or platform refused capture.
	StatusDenied
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusRequesting:
		return "requesting"
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Provider answers microphone permission queries. Probe is a passive check;
// Request may trigger a platform prompt and block until it resolves.
type Provider interface {
	Probe(ctx context.Context) Status
	Request(ctx context.Context) (Status, error)
}

// DeviceProber opens the capture path without retaining it, reporting
// whether access succeeded. The device guard implements this by acquiring
// and immediately releasing the device.
type DeviceProber interface {
	ProbeCapture(ctx context.Context) error
}

// DeviceProvider derives permission state from attempting to open the
// capture device. On platforms without a separate permission broker a
// failed open with a permission error means denied; any other failure
// leaves the status unknown so the session can retry.
type DeviceProvider struct {
	prober    DeviceProber
	deniedErr error
	logger    *slog.Logger
}

// NewDeviceProvider creates a provider backed by the given prober.
// deniedErr is the sentinel that marks a permission refusal, as opposed to
// a device that is merely unavailable.
func NewDeviceProvider(prober DeviceProber, deniedErr error, logger *slog.Logger) *DeviceProvider {
	return &DeviceProvider{
		prober:    prober,
		deniedErr: deniedErr,
		logger:    logger,
	}
}

// Probe attempts a capture open and maps the result to a status.
func (p *DeviceProvider) Probe(ctx context.Context) Status {
	err := p.prober.ProbeCapture(ctx)
	if err == nil {
		return StatusGranted
	}
	if p.deniedErr != nil && errors.Is(err, p.deniedErr) {
		return StatusDenied
	}
	p.logger.Debug("Capture probe inconclusive", slog.String("error", err.Error()))
	return StatusUnknown
}

// Request performs the same open as Probe. Opening the device is what
// triggers the OS prompt on platforms that have one, so a successful open
// means the prompt resolved to granted.
func (p *DeviceProvider) Request(ctx context.Context) (Status, error) {
	err := p.prober.ProbeCapture(ctx)
	if err == nil {
		return StatusGranted, nil
	}
	if p.deniedErr != nil && errors.Is(err, p.deniedErr) {
		return StatusDenied, nil
	}
	return StatusUnknown, err
}

// StaticProvider always answers with a fixed status. Useful for
// deployments where access is managed out of band.
type StaticProvider struct {
	status Status
}

// NewStaticProvider creates a provider pinned to the given status.
func NewStaticProvider(status Status) *StaticProvider {
	return &StaticProvider{status: status}
}

// Probe returns the pinned status.
func (p *StaticProvider) Probe(context.Context) Status {
	return p.status
}

// Request returns the pinned status.
func (p *StaticProvider) Request(context.Context) (Status, error) {
	return p.status, nil
}
