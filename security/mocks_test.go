package security

import (
	"context"
	"errors"
	"image"
	"sort"

	"github.com/elijahnyp/home_security/state"
)

var errStoreDown = errors.New("store unavailable")

// MockStore records every write so tests can assert on calls the same way
// they assert on MQTT publishes.
type MockStore struct {
	arming  state.ArmingStatus
	alarm   state.AlarmStatus
	sensors map[state.SensorKey]state.Sensor

	setAlarmCalls  []state.AlarmStatus
	setArmingCalls []state.ArmingStatus
	updateCalls    []state.Sensor
	addCalls       []state.Sensor
	removeCalls    []state.Sensor

	failSensors bool
	failUpdate  bool
}

func NewMockStore(arming state.ArmingStatus, alarm state.AlarmStatus, sensors ...state.Sensor) *MockStore {
	m := &MockStore{
		arming:  arming,
		alarm:   alarm,
		sensors: make(map[state.SensorKey]state.Sensor),
	}
	for _, s := range sensors {
		m.sensors[s.Key()] = s
	}
	return m
}

func (m *MockStore) ArmingStatus() (state.ArmingStatus, error) { return m.arming, nil }

func (m *MockStore) SetArmingStatus(s state.ArmingStatus) error {
	m.setArmingCalls = append(m.setArmingCalls, s)
	m.arming = s
	return nil
}

func (m *MockStore) AlarmStatus() (state.AlarmStatus, error) { return m.alarm, nil }

func (m *MockStore) SetAlarmStatus(s state.AlarmStatus) error {
	m.setAlarmCalls = append(m.setAlarmCalls, s)
	m.alarm = s
	return nil
}

func (m *MockStore) Sensors() ([]state.Sensor, error) {
	if m.failSensors {
		return nil, errStoreDown
	}
	out := make([]state.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockStore) AddSensor(s state.Sensor) error {
	m.addCalls = append(m.addCalls, s)
	m.sensors[s.Key()] = s
	return nil
}

func (m *MockStore) RemoveSensor(s state.Sensor) error {
	m.removeCalls = append(m.removeCalls, s)
	delete(m.sensors, s.Key())
	return nil
}

func (m *MockStore) UpdateSensor(s state.Sensor) error {
	if m.failUpdate {
		return errStoreDown
	}
	m.updateCalls = append(m.updateCalls, s)
	m.sensors[s.Key()] = s
	return nil
}

func (m *MockStore) sensor(name string) state.Sensor {
	for k, s := range m.sensors {
		if k.Name == name {
			return s
		}
	}
	return state.Sensor{}
}

func (m *MockStore) updatesFor(name string) int {
	count := 0
	for _, s := range m.updateCalls {
		if s.Name == name {
			count++
		}
	}
	return count
}

type MockDetector struct {
	answer     bool
	err        error
	calls      int
	thresholds []float32
}

func (m *MockDetector) ImageContainsCat(_ context.Context, _ image.Image, threshold float32) (bool, error) {
	m.calls++
	m.thresholds = append(m.thresholds, threshold)
	return m.answer, m.err
}

type MockListener struct {
	notified []state.AlarmStatus
	cats     []bool
}

func (m *MockListener) Notify(s state.AlarmStatus) { m.notified = append(m.notified, s) }
func (m *MockListener) CatDetected(cat bool)       { m.cats = append(m.cats, cat) }

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}
