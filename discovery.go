package sdhx_hand

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var HandDiscoveryModel = resource.NewModel("devrel", "sdhx", "discovery")

const probeTimeout = 300 * time.Millisecond

func init() {
	resource.RegisterService(
		discovery.API,
		HandDiscoveryModel,
		resource.Registration[discovery.Service, *HandDiscoveryConfig]{
			Constructor: newHandDiscovery,
		})
}

// HandDiscoveryConfig is the configuration for the discovery service.
type HandDiscoveryConfig struct {
	// Driver to probe with, "sdhx" by default.
	Driver   string `json:"driver,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`
	// Skip probing and propose every candidate port.
	NoProbe bool `json:"no_probe,omitempty"`
}

func (cfg *HandDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	switch cfg.Driver {
	case "":
		cfg.Driver = DriverSDHx
	case DriverSDHx, DriverFeetech:
	default:
		return nil, nil, fmt.Errorf("%s: unknown driver %q", path, cfg.Driver)
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	return nil, nil, nil
}

// portProber reports whether a finger controller answers on a port.
type portProber func(ctx context.Context, port string, baudRate int, logger logging.Logger) bool

type handDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
	cfg    *HandDiscoveryConfig

	listPorts func() []string
	probe     portProber
}

func newHandDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*HandDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	dis := &handDiscovery{
		Named:     conf.ResourceName().AsNamed(),
		logger:    logger,
		cfg:       cfg,
		listPorts: enumerateSerialPorts,
		probe:     proberForDriver(cfg.Driver),
	}
	return dis, nil
}

// DiscoverResources scans the serial ports for finger controllers and proposes
// a hand and a diagnostics sensor for each.
func (dis *handDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting hand discovery")

	allPorts := dis.listPorts()
	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered %d serial ports to %d candidates", len(allPorts), len(candidates))

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if !dis.cfg.NoProbe && !dis.probe(ctx, portPath, dis.cfg.Baudrate, dis.logger) {
			dis.logger.Debugf("No finger controller answered on %s", portPath)
			continue
		}
		dis.logger.Infof("Discovered finger controller on %s", portPath)
		allConfigs = append(allConfigs, generateConfigs(portPath, dis.cfg)...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No finger controllers discovered")
	}
	return allConfigs, nil
}

func generateConfigs(portPath string, cfg *HandDiscoveryConfig) []resource.Config {
	suffix := extractPortSuffix(portPath)
	attrs := func() map[string]interface{} {
		return map[string]interface{}{
			"port":        portPath,
			"baudrate":    cfg.Baudrate,
			"driver":      cfg.Driver,
			"joint_names": []interface{}{"finger_" + suffix + "_joint_1", "finger_" + suffix + "_joint_2"},
		}
	}
	return []resource.Config{
		{
			Name:       "hand-" + suffix,
			API:        gripper.API,
			Model:      HandModel,
			Attributes: attrs(),
		},
		{
			Name:       "hand-diagnostics-" + suffix,
			API:        sensor.API,
			Model:      DiagnosticsSensorModel,
			Attributes: attrs(),
		},
	}
}

func proberForDriver(driver string) portProber {
	if driver == DriverFeetech {
		return probeFeetech
	}
	return probeSDHx
}

func probeSDHx(ctx context.Context, port string, baudRate int, logger logging.Logger) bool {
	err := newSDHxLink(logger).Probe(ctx, port, baudRate, probeTimeout)
	if err != nil {
		logger.Debugf("SDHx probe of %s failed: %v", port, err)
	}
	return err == nil
}

// probeFeetech pings the default joint servo IDs.
func probeFeetech(ctx context.Context, port string, baudRate int, logger logging.Logger) bool {
	params := LinkParams{Port: port, BaudRate: baudRate}
	copy(params.ServoIDs[:], defaultServoIDs)

	bus, servos, err := openFeetechServos(params)
	if err != nil {
		logger.Debugf("Failed to open port %s: %v", port, err)
		return false
	}
	defer bus.Close()

	for _, s := range servos {
		if _, err := s.Ping(ctx); err != nil {
			return false
		}
	}
	return true
}

func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port looks like a USB serial adapter.
func isCandidatePort(port string) bool {
	// Linux
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS
	for _, prefix := range []string{"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	// Windows
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
