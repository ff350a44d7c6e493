package sdhx_hand

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	DiagnosticsSensorModel = resource.NewModel("devrel", "sdhx", "diagnostics")
)

func init() {
	resource.RegisterComponent(sensor.API, DiagnosticsSensorModel,
		resource.Registration[sensor.Sensor, *HandConfig]{
			Constructor: newDiagnosticsSensor,
		},
	)
}

// diagnosticsSensor reports the health and joint state of the bridge on its
// port. It shares the bridge with a hand configured on the same port.
type diagnosticsSensor struct {
	resource.AlwaysRebuild

	name     resource.Name
	logger   logging.Logger
	registry *BridgeRegistry
	bridge   *Bridge
	port     string
}

func newDiagnosticsSensor(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	cfg, err := resource.NativeConfig[*HandConfig](conf)
	if err != nil {
		return nil, err
	}
	return newDiagnosticsSensorWithRegistry(conf.ResourceName(), cfg, globalRegistry, logger)
}

func newDiagnosticsSensorWithRegistry(name resource.Name, cfg *HandConfig, registry *BridgeRegistry, logger logging.Logger) (*diagnosticsSensor, error) {
	bridge, err := registry.Acquire(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get bridge for diagnostics: %w", err)
	}
	logger.Infof("hand diagnostics sensor initialized for %s", cfg.Port)
	return &diagnosticsSensor{
		name:     name,
		logger:   logger,
		registry: registry,
		bridge:   bridge,
		port:     cfg.Port,
	}, nil
}

func (ds *diagnosticsSensor) Name() resource.Name {
	return ds.name
}

// Readings returns the diagnostics reports, the lifecycle snapshot and the
// last joint state.
func (ds *diagnosticsSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	readings := map[string]any{}

	worst := DiagOK
	reports := ds.bridge.Diagnostics()
	diag := make(map[string]any, len(reports))
	for _, r := range reports {
		diag[r.Name] = r.AsMap()
		if r.Level > worst {
			worst = r.Level
		}
	}
	readings["diagnostics"] = diag
	readings["level"] = worst.String()
	readings["status"] = ds.bridge.Snapshot().AsMap()

	if js, ok := ds.bridge.JointStates(); ok {
		readings["joint_states"] = js.AsMap()
	}

	return readings, nil
}

func (ds *diagnosticsSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	if out, handled, err := ds.bridge.DoCommand(ctx, cmd); handled {
		return out, err
	}
	return nil, fmt.Errorf("unknown command: %v", cmd["command"])
}

func (ds *diagnosticsSensor) Close(ctx context.Context) error {
	return ds.registry.Release(ctx, ds.port)
}
