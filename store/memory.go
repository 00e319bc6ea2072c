// Package store provides the state stores the alarm engine persists into.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/elijahnyp/home_security/state"
)

var ErrUnknownSensor = state.ErrUnknownSensor

// Memory keeps everything in process memory. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	arming  state.ArmingStatus
	alarm   state.AlarmStatus
	sensors map[state.SensorKey]state.Sensor
}

func NewMemory() *Memory {
	return &Memory{
		sensors: make(map[state.SensorKey]state.Sensor),
	}
}

func (m *Memory) ArmingStatus() (state.ArmingStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arming, nil
}

func (m *Memory) SetArmingStatus(status state.ArmingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arming = status
	return nil
}

func (m *Memory) AlarmStatus() (state.AlarmStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alarm, nil
}

func (m *Memory) SetAlarmStatus(status state.AlarmStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarm = status
	return nil
}

// Sensors returns a copy of every sensor ordered by name, then type.
func (m *Memory) Sensors() ([]state.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedSensors(), nil
}

// AddSensor stores a sensor. Adding a sensor that already exists replaces it.
func (m *Memory) AddSensor(sensor state.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors[sensor.Key()] = sensor
	return nil
}

func (m *Memory) RemoveSensor(sensor state.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sensors[sensor.Key()]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownSensor, sensor.Key())
	}
	delete(m.sensors, sensor.Key())
	return nil
}

func (m *Memory) UpdateSensor(sensor state.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sensors[sensor.Key()]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownSensor, sensor.Key())
	}
	m.sensors[sensor.Key()] = sensor
	return nil
}

// Sensor looks up a single sensor by identity.
func (m *Memory) Sensor(key state.SensorKey) (state.Sensor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[key]
	return s, ok
}

func (m *Memory) sortedSensors() []state.Sensor {
	out := make([]state.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}
