// Package intake runs the full anonymization pipeline for one inbound
// check-in: identity resolution, region hashing, and note sanitization.
// The caller persists only what comes out of here — token, region hash,
// redacted note — never the raw signals.
package intake

import (
	"context"
	"log/slog"

	"anonid/internal/identity"
	"anonid/internal/region"
	"anonid/internal/sanitize"
)

// Request carries the raw client material for one check-in.
type Request struct {
	Signals identity.ClientSignals
	Tokens  identity.TokenPair

	HasLocation bool
	Lat         float64
	Lng         float64

	Note string
}

// Result is everything the platform is allowed to keep.
type Result struct {
	Device     identity.DeviceInfo
	RegionHash string
	Note       string
	NoteHadPII bool
}

// Processor composes the anonymization services. All of them are
// fail-open, so Process never returns an error: the worst case is an
// ephemeral identity with a global region.
type Processor struct {
	devices *identity.Manager
	regions *region.Anonymizer
	logger  *slog.Logger
}

// NewProcessor wires the pipeline.
func NewProcessor(devices *identity.Manager, regions *region.Anonymizer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{devices: devices, regions: regions, logger: logger}
}

// Process anonymizes one check-in request.
func (p *Processor) Process(ctx context.Context, req Request) Result {
	res := Result{
		Device: p.devices.ResolveOrCreate(ctx, req.Signals, req.Tokens),
	}

	if req.HasLocation {
		res.RegionHash = p.regions.AnonymizeCoordinates(ctx, req.Lat, req.Lng)
		if err := p.devices.UpdateDeviceRegion(ctx, res.Device.DeviceID, res.RegionHash); err != nil {
			// Advisory update; the check-in itself proceeds.
			p.logger.Debug("device region update failed", "error", err)
		}
		res.Device.Region = res.RegionHash
	}

	if req.Note != "" {
		res.NoteHadPII = sanitize.ContainsPII(req.Note)
		res.Note = sanitize.Sanitize(req.Note)
	}
	return res
}
