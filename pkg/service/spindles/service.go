// Copyright 2025 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package spindles

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/mattn/go-pubsub"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/machine"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
	"github.com/binkynet/SpindleWorker/pkg/spindle"
)

var (
	UnknownSpindleError = errors.New("unknown spindle")
)

// IsUnknownSpindle returns true if the cause of the given error is UnknownSpindleError.
func IsUnknownSpindle(err error) bool {
	return errors.Cause(err) == UnknownSpindleError
}

// Service contains the API that is exposed by the spindle service.
type Service interface {
	// Names returns the sorted names of all spindles.
	Names() []string
	// Status returns the status of the spindle with given name.
	Status(name string) (spindle.Status, error)
	// Statuses returns the status of all spindles, sorted by name.
	Statuses() []spindle.Status
	// Configure initializes all spindles.
	Configure(ctx context.Context) error
	// Run the service until the given context is canceled.
	Run(ctx context.Context) error
	// Close stops all spindles and releases their lines.
	Close(ctx context.Context) error

	// SetState changes direction & speed of the spindle with given name.
	// Commands for a single spindle are executed one at a time.
	SetState(ctx context.Context, name string, state model.SpindleState, speed uint32) error
	// SetSpeedFromISR writes a precomputed duty to the spindle with given name.
	SetSpeedFromISR(name string, duty uint32) error
	// Abort activates a machine abort.
	Abort() bool
	// ResetAbort clears a machine abort and stops all spindles
	// configured with off_on_alarm.
	ResetAbort(ctx context.Context) bool
	// AbortActive returns true while an abort is active.
	AbortActive() bool
	// SetSpeedOverride sets the speed override (in percent) used for
	// subsequent state changes. Returns the value that was set.
	SetSpeedOverride(percent uint32) uint32
	// SpeedOverride returns the speed override in percent.
	SpeedOverride() uint32

	// Subscribe registers a callback that is invoked with the status of a
	// spindle after each change. Statuses of a spindle are delivered in the
	// order of the changes; a status that is overtaken by a newer one may be
	// skipped, the latest status is always delivered.
	// Call the returned function to unsubscribe; it must not be called
	// from within the callback.
	Subscribe(cb func(spindle.Status)) context.CancelFunc
}

// Config of the spindle service.
type Config struct {
	ModuleID          string
	MQTTBrokerAddress string
	// Prefix of all MQTT topics. Defaults to the module ID.
	MQTTTopicPrefix string
}

// Dependencies of the spindle service.
type Dependencies struct {
	Log     zerolog.Logger
	Devices pins.DeviceSource
	Machine *machine.State
	// Optional, defaults to spindle.Sleep
	Suspend spindle.SuspendFunc
}

const (
	// Capacity of the command queue of a spindle
	commandQueueSize = 32
)

type entry struct {
	mutex   sync.Mutex
	spindle spindle.Spindle
	config  model.SpindleConfig
	// Commands received from MQTT, executed in order by a single worker
	queue   chan StateCommand
	pending atomic.Int32
}

// statusChange is published after every change of a spindle.
type statusChange struct {
	seq    uint64
	status spindle.Status
}

type subscriber struct {
	mutex  sync.Mutex
	cb     func(spindle.Status)
	closed bool
	// Changes up to this sequence number are not delivered
	from uint64
	// Last delivered sequence number per spindle
	last map[string]uint64
}

type service struct {
	Config
	log      zerolog.Logger
	machine  *machine.State
	spindles map[string]*entry
	changes  *pubsub.PubSub
	// Sequence number of the last status change
	seq atomic.Uint64

	subMutex    sync.Mutex
	subscribers map[uint64]*subscriber
	lastSubID   uint64
}

// NewService instantiates a new Service and Spindle's for the given
// spindle configurations.
// Spindles that cannot be created are logged and skipped.
func NewService(config Config, configs []model.SpindleConfig, deps Dependencies) (Service, error) {
	if deps.Machine == nil {
		return nil, model.InvalidArgument("Spindle service requires machine state")
	}
	if config.MQTTTopicPrefix == "" {
		config.MQTTTopicPrefix = config.ModuleID
	}
	s := &service{
		Config:   config,
		log:      deps.Log.With().Str("component", "spindle-service").Logger(),
		machine:  deps.Machine,
		spindles:    make(map[string]*entry),
		changes:     pubsub.New(),
		subscribers: make(map[uint64]*subscriber),
	}
	if err := s.changes.Sub(s.dispatch); err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to status changes")
	}
	for _, c := range configs {
		log := s.log.With().
			Str("spindle", c.Name).
			Str("type", c.Type).
			Logger()
		log.Debug().Msg("creating spindle...")
		sp, err := s.newSpindle(c, deps)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create spindle")
			continue
		}
		s.spindles[c.Name] = &entry{
			spindle: sp,
			config:  c,
			queue:   make(chan StateCommand, commandQueueSize),
		}
	}
	s.log.Debug().Msgf("created %d spindles", len(s.spindles))
	spindlesCreatedTotal.Set(float64(len(s.spindles)))
	return s, nil
}

// newSpindle resolves the lines of the given configuration and
// creates the spindle through the registry.
func (s *service) newSpindle(c model.SpindleConfig, deps Dependencies) (spindle.Spindle, error) {
	resolve := func(p model.Pin) (pins.Pin, error) {
		if deps.Devices == nil {
			return pins.Pin{}, nil
		}
		return pins.Resolve(p, deps.Devices)
	}
	output, err := resolve(c.OutputPin)
	if err != nil {
		return nil, errors.Wrap(err, "output_pin")
	}
	enable, err := resolve(c.EnablePin)
	if err != nil {
		return nil, errors.Wrap(err, "enable_pin")
	}
	direction, err := resolve(c.DirectionPin)
	if err != nil {
		return nil, errors.Wrap(err, "direction_pin")
	}
	return spindle.New(c, spindle.Dependencies{
		Log:     deps.Log,
		Machine: deps.Machine,
		Modal:   deps.Machine,
		Suspend: deps.Suspend,
		Lines: spindle.Lines{
			Output:    output,
			Enable:    enable,
			Direction: direction,
		},
	})
}

// Names returns the sorted names of all spindles.
func (s *service) Names() []string {
	result := lo.Keys(s.spindles)
	slices.Sort(result)
	return result
}

// get returns the entry of the spindle with given name.
func (s *service) get(name string) (*entry, error) {
	if e, found := s.spindles[name]; found {
		return e, nil
	}
	return nil, errors.Wrapf(UnknownSpindleError, "'%s'", name)
}

// Status returns the status of the spindle with given name.
func (s *service) Status(name string) (spindle.Status, error) {
	e, err := s.get(name)
	if err != nil {
		return spindle.Status{}, err
	}
	return e.spindle.Status(), nil
}

// Statuses returns the status of all spindles, sorted by name.
func (s *service) Statuses() []spindle.Status {
	return lo.Map(s.Names(), func(name string, _ int) spindle.Status {
		return s.spindles[name].spindle.Status()
	})
}

// Configure initializes all spindles.
// Configuration problems are reported, the spindles remain usable.
func (s *service) Configure(ctx context.Context) error {
	var ae aerr.AggregateError
	configured := 0
	for _, name := range s.Names() {
		e := s.spindles[name]
		log := s.log.With().Str("spindle", name).Logger()
		log.Debug().Msg("configuring spindle ...")
		e.mutex.Lock()
		e.spindle.Init(ctx)
		status := s.publish(e)
		e.mutex.Unlock()
		if status.ConfigError != "" {
			ae.Add(errors.Errorf("spindle '%s': %s", name, status.ConfigError))
		} else {
			configured++
			log.Debug().Msg("configured spindle")
		}
	}
	spindlesConfiguredTotal.Set(float64(configured))
	return ae.AsError()
}

// Run the service until the given context is canceled.
func (s *service) Run(ctx context.Context) error {
	defer func() {
		s.log.Debug().Msg("Run spindles ended")
	}()
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.Names() {
		name := name
		e := s.spindles[name]
		g.Go(func() error {
			s.runCommands(ctx, name, e)
			return nil
		})
	}
	g.Go(func() error {
		if s.MQTTBrokerAddress == "" {
			s.log.Info().Msg("No MQTT broker configured")
			<-ctx.Done()
			return nil
		}
		return s.runMQTT(ctx)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("Run spindles failed")
		return err
	}
	return nil
}

// Close stops all spindles and releases their lines.
func (s *service) Close(ctx context.Context) error {
	for _, name := range s.Names() {
		e := s.spindles[name]
		e.mutex.Lock()
		e.spindle.Deinit(ctx)
		s.publish(e)
		e.mutex.Unlock()
	}
	return nil
}

// SetState changes direction & speed of the spindle with given name.
func (s *service) SetState(ctx context.Context, name string, state model.SpindleState, speed uint32) error {
	e, err := s.get(name)
	if err != nil {
		return err
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	commandsTotal.WithLabelValues(name).Inc()
	// The modal mode follows the commands that are executed.
	if !s.machine.AbortActive() {
		s.machine.SetSpindleMode(name, state)
	}
	e.spindle.SetState(ctx, state, speed)
	s.publish(e)
	return nil
}

// enqueueCommand adds a command to the queue of the spindle with given name.
// Returns an error when the queue is full.
func (s *service) enqueueCommand(name string, cmd StateCommand) error {
	e, err := s.get(name)
	if err != nil {
		return err
	}
	e.pending.Add(1)
	select {
	case e.queue <- cmd:
		commandQueueGauge.WithLabelValues(name).Set(float64(len(e.queue)))
		return nil
	default:
		e.pending.Add(-1)
		commandsDroppedTotal.WithLabelValues(name).Inc()
		return errors.Errorf("command queue of spindle '%s' is full", name)
	}
}

// runCommands executes the queued commands of a spindle until
// the given context is canceled.
func (s *service) runCommands(ctx context.Context, name string, e *entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.queue:
			commandQueueGauge.WithLabelValues(name).Set(float64(len(e.queue)))
			if err := s.SetState(ctx, name, cmd.State, cmd.Speed); err != nil {
				s.log.Warn().Err(err).Str("spindle", name).Msg("Failed to execute spindle command")
			}
			e.pending.Add(-1)
		}
	}
}

// publish notifies subscribers of the current status of the given spindle.
// The caller must hold the entry mutex.
func (s *service) publish(e *entry) spindle.Status {
	status := e.spindle.Status()
	s.changes.Pub(statusChange{seq: s.seq.Add(1), status: status})
	return status
}

// dispatch delivers a status change to all subscribers.
// It may be called concurrently and out of order.
func (s *service) dispatch(change statusChange) {
	s.subMutex.Lock()
	subs := lo.Values(s.subscribers)
	s.subMutex.Unlock()
	for _, sub := range subs {
		s.deliver(sub, change)
	}
}

// deliver calls the callback of the subscriber unless a newer status
// of the same spindle has already been delivered.
func (s *service) deliver(sub *subscriber, change statusChange) {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()
	name := change.status.Name
	if sub.closed || change.seq <= sub.from || change.seq <= sub.last[name] {
		return
	}
	sub.last[name] = change.seq
	defer func() {
		if err := recover(); err != nil {
			s.log.Error().Interface("error", err).Str("spindle", name).Msg("Status subscriber failed")
		}
	}()
	sub.cb(change.status)
}

// SetSpeedFromISR writes a precomputed duty to the spindle with given name.
func (s *service) SetSpeedFromISR(name string, duty uint32) error {
	e, err := s.get(name)
	if err != nil {
		return err
	}
	e.spindle.SetSpeedFromISR(duty)
	return nil
}

// Abort activates a machine abort.
func (s *service) Abort() bool {
	if !s.machine.Abort() {
		return false
	}
	s.log.Warn().Msg("Abort activated")
	return true
}

// ResetAbort clears a machine abort.
func (s *service) ResetAbort(ctx context.Context) bool {
	if !s.machine.Reset() {
		return false
	}
	s.log.Info().Msg("Abort cleared")
	for _, name := range s.Names() {
		if e := s.spindles[name]; e.config.OffOnAlarm {
			if err := s.SetState(ctx, name, model.SpindleDisabled, 0); err != nil {
				s.log.Warn().Err(err).Str("spindle", name).Msg("Failed to stop spindle after alarm")
			}
		}
	}
	return true
}

// AbortActive returns true while an abort is active.
func (s *service) AbortActive() bool {
	return s.machine.AbortActive()
}

// SetSpeedOverride sets the speed override in percent.
func (s *service) SetSpeedOverride(percent uint32) uint32 {
	result := s.machine.SetSpeedOverride(percent)
	s.log.Info().Uint32("override", result).Msg("Speed override changed")
	return result
}

// SpeedOverride returns the speed override in percent.
func (s *service) SpeedOverride() uint32 {
	return s.machine.SpeedOverride()
}

// Subscribe registers a status change callback.
func (s *service) Subscribe(cb func(spindle.Status)) context.CancelFunc {
	sub := &subscriber{
		cb:   cb,
		from: s.seq.Load(),
		last: make(map[string]uint64),
	}
	s.subMutex.Lock()
	s.lastSubID++
	id := s.lastSubID
	s.subscribers[id] = sub
	s.subMutex.Unlock()
	return func() {
		s.subMutex.Lock()
		delete(s.subscribers, id)
		s.subMutex.Unlock()
		sub.mutex.Lock()
		sub.closed = true
		sub.mutex.Unlock()
	}
}
