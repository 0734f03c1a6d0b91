// Package devicefactory selects the BLE backend named in the configuration.
package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/device/go-ble"
	"github.com/srg/heartflot/internal/device/sim"
	"github.com/srg/heartflot/internal/device/tinygo"
	"github.com/srg/heartflot/pkg/config"
)

// CentralFactory creates the device.Central for cfg.
// This is a variable so that it can be overridden in tests.
var CentralFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Central, error) {
	switch cfg.Backend {
	case config.BackendGoBLE, "":
		return goble.NewCentral(logger), nil
	case config.BackendTinyGo:
		return tinygo.NewCentral(logger), nil
	case config.BackendSim:
		return sim.New(cfg.Sim, logger), nil
	default:
		return nil, device.NewError(device.KindUnsupportedPlatform, "unknown BLE backend %q", cfg.Backend)
	}
}

// NewCentral creates the configured BLE central.
func NewCentral(cfg *config.Config, logger *logrus.Logger) (device.Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	central, err := CentralFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s central: %w", cfg.Backend, err)
	}
	logger.WithField("backend", cfg.Backend).Debug("BLE central created")
	return central, nil
}
