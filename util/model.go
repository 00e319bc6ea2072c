package util

import (
	"fmt"

	"github.com/elijahnyp/home_security/state"
)

const ( //message types
	PIC = iota
	SENSOR
	ARMING
)

// Model is the house as configured: which MQTT topics carry which sensor
// or camera, and where the engine's own status goes.
type Model struct {
	Sensors []SensorConfig `mapstructure:"sensors"`
	Cameras []CameraConfig `mapstructure:"cameras"`
	Topics  Topics         `mapstructure:"topics"`
}

type SensorConfig struct {
	Name  string           `mapstructure:"name"`
	Type  state.SensorType `mapstructure:"type"`
	Topic string           `mapstructure:"topic"`
}

func (s SensorConfig) Sensor() state.Sensor {
	return state.NewSensor(s.Name, s.Type)
}

type CameraConfig struct {
	Name  string `mapstructure:"name"`
	Topic string `mapstructure:"topic"`
}

type Topics struct {
	Arming      string `mapstructure:"arming"`
	ArmingState string `mapstructure:"arming_state"`
	AlarmStatus string `mapstructure:"alarm_status"`
	CatDetected string `mapstructure:"cat_detected"`
}

func (m Model) FindSensorByTopic(topic string) (SensorConfig, bool) {
	for _, entry := range m.Sensors {
		if entry.Topic == topic {
			return entry, true
		}
	}
	return SensorConfig{}, false
}

func (m Model) FindCameraByTopic(topic string) (CameraConfig, bool) {
	for _, entry := range m.Cameras {
		if entry.Topic == topic {
			return entry, true
		}
	}
	return CameraConfig{}, false
}

func (m Model) FindTopicType(topic string) int {
	if topic != "" && topic == m.Topics.Arming {
		return ARMING
	}
	if _, ok := m.FindSensorByTopic(topic); ok {
		return SENSOR
	}
	if _, ok := m.FindCameraByTopic(topic); ok {
		return PIC
	}
	return -1
}

func (m *Model) BuildModel() error {
	next := Model{}
	if err := Config.UnmarshalKey("sensors", &next.Sensors, DecodeHook); err != nil {
		Logger.Error().Msgf("error unmarshaling sensors: %v", err)
		return fmt.Errorf("unmarshal sensors: %w", err)
	}
	if err := Config.UnmarshalKey("cameras", &next.Cameras, DecodeHook); err != nil {
		Logger.Error().Msgf("error unmarshaling cameras: %v", err)
		return fmt.Errorf("unmarshal cameras: %w", err)
	}
	if err := Config.UnmarshalKey("topics", &next.Topics, DecodeHook); err != nil {
		Logger.Error().Msgf("error unmarshaling topics: %v", err)
		return fmt.Errorf("unmarshal topics: %w", err)
	}
	*m = next
	return nil
}

func (m Model) SubscribeTopics() []string {
	var topics []string
	if m.Topics.Arming != "" {
		topics = append(topics, m.Topics.Arming)
	}
	for _, s := range m.Sensors {
		if s.Topic != "" {
			topics = append(topics, s.Topic)
		}
	}
	for _, c := range m.Cameras {
		if c.Topic != "" {
			topics = append(topics, c.Topic)
		}
	}
	return topics
}
