// Package security holds the alarm decision engine: the rules that turn
// sensor, arming and camera events into an alarm status, and the fan-out
// of those changes to registered listeners.
package security

import (
	"context"
	"errors"
	"fmt"
	"image"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/home_security/state"
)

const DefaultConfidenceThreshold float32 = 50.0

var ErrNilImage = errors.New("nil image")

type Option func(*Engine)

func WithConfidenceThreshold(threshold float32) Option {
	return func(e *Engine) {
		e.threshold = threshold
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine is the alarm state machine. Every public method runs its whole
// read, decide, write and notify sequence under one lock.
type Engine struct {
	store     StateStore
	detector  CatDetector
	threshold float32
	logger    zerolog.Logger

	mu        sync.Mutex
	listeners []StatusListener
}

func NewEngine(store StateStore, detector CatDetector, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		detector:  detector,
		threshold: DefaultConfidenceThreshold,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sameListener compares listeners by identity. Listeners of a
// non-comparable type are never equal, so they are not deduplicated and
// cannot be removed; register pointers.
func sameListener(a, b StatusListener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

// AddStatusListener registers a listener once. Listeners should be pointer
// types.
func (e *Engine) AddStatusListener(listener StatusListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.listeners {
		if sameListener(l, listener) {
			return
		}
	}
	e.listeners = append(e.listeners, listener)
}

func (e *Engine) RemoveStatusListener(listener StatusListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if sameListener(l, listener) {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// SetArmingStatus stores the new arming status. Disarming clears the
// alarm; arming resets every active sensor to inactive without running
// the deactivation rules.
func (e *Engine) SetArmingStatus(status state.ArmingStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SetArmingStatus(status); err != nil {
		return fmt.Errorf("set arming status %v: %w", status, err)
	}
	e.logger.Info().Msgf("arming status set to %v", status)

	if status == state.Disarmed {
		return e.setAlarmStatus(state.NoAlarm)
	}

	sensors, err := e.store.Sensors()
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	for _, sensor := range sensors {
		if !sensor.Active {
			continue
		}
		sensor.Active = false
		if err := e.store.UpdateSensor(sensor); err != nil {
			return fmt.Errorf("reset sensor %v: %w", sensor.Key(), err)
		}
		e.logger.Debug().Msgf("sensor %v reset on arming", sensor.Key())
	}
	return nil
}

// ChangeSensorActivationStatus records a sensor turning on or off and moves
// the alarm status accordingly. Redundant changes are ignored. The caller's
// copy of the sensor decides redundancy; use SetSensorActive to go by the
// stored state instead.
func (e *Engine) ChangeSensorActivationStatus(sensor state.Sensor, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeSensor(sensor, active)
}

// SetSensorActive looks the sensor up in the store and applies the change
// under the same lock, so two callers racing on one sensor can only raise
// the alarm once. It returns the sensor as stored afterwards.
func (e *Engine) SetSensorActive(key state.SensorKey, active bool) (state.Sensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sensors, err := e.store.Sensors()
	if err != nil {
		return state.Sensor{}, fmt.Errorf("read sensors: %w", err)
	}
	for _, sensor := range sensors {
		if sensor.Key() != key {
			continue
		}
		if err := e.changeSensor(sensor, active); err != nil {
			return sensor, err
		}
		sensor.Active = active
		return sensor, nil
	}
	return state.Sensor{}, fmt.Errorf("%w: %v", state.ErrUnknownSensor, key)
}

func (e *Engine) changeSensor(sensor state.Sensor, active bool) error {
	if sensor.Active == active {
		e.logger.Trace().Msgf("sensor %v already active=%v", sensor.Key(), active)
		return nil
	}

	sensor.Active = active
	if err := e.store.UpdateSensor(sensor); err != nil {
		return fmt.Errorf("update sensor %v: %w", sensor.Key(), err)
	}

	if active {
		arming, err := e.store.ArmingStatus()
		if err != nil {
			return fmt.Errorf("read arming status: %w", err)
		}
		if arming == state.Disarmed {
			return nil
		}
		return e.handleSensorActivated()
	}
	return e.handleSensorDeactivated()
}

func (e *Engine) handleSensorActivated() error {
	current, err := e.store.AlarmStatus()
	if err != nil {
		return fmt.Errorf("read alarm status: %w", err)
	}
	switch current {
	case state.NoAlarm:
		return e.setAlarmStatus(state.PendingAlarm)
	case state.PendingAlarm:
		return e.setAlarmStatus(state.Alarm)
	}
	return nil
}

// handleSensorDeactivated steps ALARM down to PENDING_ALARM unconditionally;
// PENDING_ALARM only clears once no sensor is active.
func (e *Engine) handleSensorDeactivated() error {
	current, err := e.store.AlarmStatus()
	if err != nil {
		return fmt.Errorf("read alarm status: %w", err)
	}
	switch current {
	case state.Alarm:
		return e.setAlarmStatus(state.PendingAlarm)
	case state.PendingAlarm:
		sensors, err := e.store.Sensors()
		if err != nil {
			return fmt.Errorf("read sensors: %w", err)
		}
		if !state.AnyActive(sensors) {
			return e.setAlarmStatus(state.NoAlarm)
		}
	}
	return nil
}

// ProcessImage runs a camera frame through the cat detector. A cat while
// armed at home raises the alarm; an empty frame with every sensor quiet
// clears it.
func (e *Engine) ProcessImage(ctx context.Context, img image.Image) error {
	if img == nil {
		return ErrNilImage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cat, err := e.detector.ImageContainsCat(ctx, img, e.threshold)
	if err != nil {
		return fmt.Errorf("detect cat: %w", err)
	}
	e.logger.Debug().Msgf("cat detected: %v", cat)
	for _, l := range e.listeners {
		l.CatDetected(cat)
	}

	if cat {
		arming, err := e.store.ArmingStatus()
		if err != nil {
			return fmt.Errorf("read arming status: %w", err)
		}
		if arming == state.ArmedHome {
			return e.setAlarmStatus(state.Alarm)
		}
		return nil
	}

	sensors, err := e.store.Sensors()
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	if !state.AnyActive(sensors) {
		return e.setAlarmStatus(state.NoAlarm)
	}
	return nil
}

func (e *Engine) AlarmStatus() (state.AlarmStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.AlarmStatus()
}

func (e *Engine) ArmingStatus() (state.ArmingStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ArmingStatus()
}

func (e *Engine) Sensors() ([]state.Sensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Sensors()
}

func (e *Engine) AddSensor(sensor state.Sensor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.AddSensor(sensor)
}

func (e *Engine) RemoveSensor(sensor state.Sensor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.RemoveSensor(sensor)
}

// setAlarmStatus must be called with e.mu held.
func (e *Engine) setAlarmStatus(status state.AlarmStatus) error {
	if err := e.store.SetAlarmStatus(status); err != nil {
		return fmt.Errorf("set alarm status %v: %w", status, err)
	}
	e.logger.Info().Msgf("alarm status set to %v", status)
	for _, l := range e.listeners {
		l.Notify(status)
	}
	return nil
}
