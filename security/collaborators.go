package security

import (
	"context"
	"image"

	"github.com/elijahnyp/home_security/state"
)

// StateStore holds the sensors and the two global statuses. It carries no
// behaviour of its own.
type StateStore interface {
	ArmingStatus() (state.ArmingStatus, error)
	SetArmingStatus(state.ArmingStatus) error
	AlarmStatus() (state.AlarmStatus, error)
	SetAlarmStatus(state.AlarmStatus) error
	Sensors() ([]state.Sensor, error)
	AddSensor(state.Sensor) error
	RemoveSensor(state.Sensor) error
	// UpdateSensor persists the active flag of an existing sensor.
	UpdateSensor(state.Sensor) error
}

// CatDetector decides whether a camera frame shows a cat.
// confidenceThreshold is a percentage.
type CatDetector interface {
	ImageContainsCat(ctx context.Context, img image.Image, confidenceThreshold float32) (bool, error)
}

// StatusListener is told about alarm status changes and camera results.
// Callbacks run synchronously while the engine is locked; they must not
// call back into the engine.
type StatusListener interface {
	Notify(status state.AlarmStatus)
	CatDetected(cat bool)
}
