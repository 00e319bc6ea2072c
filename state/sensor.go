package state

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownSensorType = errors.New("unknown sensor type")
	ErrUnknownSensor     = errors.New("unknown sensor")
)

type SensorType int

const (
	Door SensorType = iota
	Window
	Motion
)

var sensorTypeNames = map[SensorType]string{
	Door:   "DOOR",
	Window: "WINDOW",
	Motion: "MOTION",
}

func (t SensorType) String() string {
	if name, ok := sensorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SensorType(%d)", int(t))
}

func (t SensorType) MarshalText() ([]byte, error) {
	name, ok := sensorTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSensorType, int(t))
	}
	return []byte(name), nil
}

func (t *SensorType) UnmarshalText(text []byte) error {
	parsed, err := ParseSensorType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseSensorType(text string) (SensorType, error) {
	wanted := strings.ToUpper(strings.TrimSpace(text))
	for t, name := range sensorTypeNames {
		if name == wanted {
			return t, nil
		}
	}
	return Door, fmt.Errorf("%w: %q", ErrUnknownSensorType, text)
}

// SensorKey identifies a sensor. Two sensors with the same name and type
// are the same sensor.
type SensorKey struct {
	Name string
	Type SensorType
}

func (k SensorKey) String() string {
	return k.Name + "/" + k.Type.String()
}

// Sensor is a binary door, window or motion input.
type Sensor struct {
	Name   string     `json:"name" yaml:"name" mapstructure:"name"`
	Type   SensorType `json:"type" yaml:"type" mapstructure:"type"`
	Active bool       `json:"active" yaml:"active" mapstructure:"active"`
}

func NewSensor(name string, sensorType SensorType) Sensor {
	return Sensor{Name: name, Type: sensorType}
}

func (s Sensor) Key() SensorKey {
	return SensorKey{Name: s.Name, Type: s.Type}
}

// AnyActive reports whether at least one sensor is active.
func AnyActive(sensors []Sensor) bool {
	for _, s := range sensors {
		if s.Active {
			return true
		}
	}
	return false
}
