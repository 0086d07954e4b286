package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/machine"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
	"github.com/binkynet/SpindleWorker/pkg/service/devices"
	"github.com/binkynet/SpindleWorker/pkg/service/spindles"
)

// Service contains the API exposed by the worker service
type Service interface {
	// Run the worker service until the given context is cancelled.
	Run(ctx context.Context) error
	// GetSpindleService returns the spindle service once it is running,
	// nil otherwise.
	GetSpindleService() spindles.Service
	// GetDeviceService returns the device service once it is running,
	// nil otherwise.
	GetDeviceService() devices.Service
}

type Config struct {
	model.LocalConfiguration
	ProgramVersion    string
	ModuleID          string
	MQTTBrokerAddress string
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
	// Machine state shared with the command surfaces
	Machine *machine.State
}

// NewService instantiates a new Service.
func NewService(config Config, deps Dependencies) (Service, error) {
	if deps.Machine == nil {
		deps.Machine = machine.New()
	}
	return &service{
		config:       config,
		Dependencies: deps,
	}, nil
}

type service struct {
	config Config
	Dependencies

	mutex      sync.RWMutex
	devService devices.Service
	spService  spindles.Service
}

// needsI2CBus returns true if any configured device is attached to I2C.
func (s *service) needsI2CBus() bool {
	return lo.ContainsBy(s.config.Devices, func(d model.HWDevice) bool {
		return d.Type == model.HWDeviceTypePCA9685
	})
}

// Run the worker service until the given context is cancelled.
func (s *service) Run(ctx context.Context) error {
	log := s.Log
	// Open I2C bus
	var bus bridge.I2CBus
	if s.needsI2CBus() {
		log.Debug().Msg("open I2C bus")
		var err error
		bus, err = s.Bridge.I2CBus()
		if err != nil {
			log.Debug().Err(err).Msg("Open I2CBus failed")
			return fmt.Errorf("failed to open I2C bus: %w", err)
		}
	}
	// Build devices service
	log.Debug().Msg("build devices service")
	devService, err := devices.NewService(s.config.ModuleID, s.config.MQTTBrokerAddress,
		s.config.Devices, s.Bridge, bus, s.Log)
	if err != nil {
		log.Debug().Err(err).Msg("devices.NewService failed")
		return fmt.Errorf("devices.NewService failed: %w", err)
	}

	defer func() {
		log.Debug().Msg("closing devices service")
		devService.Close(context.Background())
	}()

	// Configure devices
	log.Debug().Msg("configure devices")
	configured := true
	if err := devService.Configure(ctx); err != nil {
		// Log error
		log.Error().Err(err).Msg("Not all devices are configured")
		configured = false
	}
	// Stop fast if context canceled
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Build spindle service
	log.Debug().Msg("build spindle service")
	spService, err := spindles.NewService(spindles.Config{
		ModuleID:          s.config.ModuleID,
		MQTTBrokerAddress: s.config.MQTTBrokerAddress,
	}, s.config.Spindles, spindles.Dependencies{
		Log:     s.Log.With().Str("component", "worker.spindles").Logger(),
		Devices: devService,
		Machine: s.Machine,
	})
	if err != nil {
		log.Debug().Err(err).Msg("spindles.NewService failed")
		return fmt.Errorf("spindles.NewService failed: %w", err)
	}

	defer func() {
		log.Debug().Msg("closing spindle service")
		spService.Close(context.Background())
	}()

	// Configure spindles
	log.Debug().Msg("configure spindles")
	if err := spService.Configure(ctx); err != nil {
		// Log error
		log.Error().Err(err).Msg("Not all spindles are configured")
		configured = false
	}
	// Stop fast if context canceled
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Green led is on while running, blinking when not everything is configured.
	// Red is used by the devices service to signal activity.
	if configured {
		s.Bridge.SetGreenLED(true)
	} else {
		s.Bridge.BlinkGreenLED(time.Millisecond * 250)
	}
	defer func() {
		s.Bridge.SetGreenLED(false)
		s.Bridge.SetRedLED(false)
	}()

	s.mutex.Lock()
	s.devService, s.spService = devService, spService
	s.mutex.Unlock()
	defer func() {
		s.mutex.Lock()
		s.devService, s.spService = nil, nil
		s.mutex.Unlock()
	}()

	// Run devices & spindles
	g, lctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Debug().Msg("run devices")
		if err := devService.Run(lctx); err != nil {
			log.Error().Err(err).Msg("Run devices failed")
			return fmt.Errorf("failed to run devices: %w", err)
		}
		log.Debug().Msg("run devices ended")
		return nil
	})
	g.Go(func() error {
		log.Debug().Msg("run spindles")
		if err := spService.Run(lctx); err != nil {
			log.Error().Err(err).Msg("Run spindles failed")
			return fmt.Errorf("failed to run spindles: %w", err)
		}
		log.Debug().Msg("run spindles ended")
		return nil
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "Wait failed")
	}

	return nil
}

// GetSpindleService returns the spindle service once it is running.
func (s *service) GetSpindleService() spindles.Service {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.spService
}

// GetDeviceService returns the device service once it is running.
func (s *service) GetDeviceService() devices.Service {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.devService
}
