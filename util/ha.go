package util

import (
	"encoding/json"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

const haDiscoveryPrefix = "homeassistant"

type HAAvdvertisementAvailability struct {
	Topic               string `json:"topic"`                 // : "hab/online"
	PayloadAvailable    string `json:"payload_available"`     // : "online"
	PayloadNotAvailable string `json:"payload_not_available"` // : "offline"
}

type HADeviceSpec struct {
	Name        string   `json:"name"` // : "home_security"
	Identifiers []string `json:"ids"`  // : ["home_security"]
}

type HAAdvertisement struct { //nolint:govet // struct layout optimized for JSON field order
	HAAvdvertisementAvailability []HAAvdvertisementAvailability `json:"availability"`
	Device                       HADeviceSpec                   `json:"device"`
	UniqueID                     string                         `json:"uniq_id"`
	Name                         string                         `json:"name"`
	StateTopic                   string                         `json:"state_topic"`
	PayloadOn                    string                         `json:"payload_on,omitempty"`
	PayloadOff                   string                         `json:"payload_off,omitempty"`
	DeviceClass                  string                         `json:"device_class,omitempty"`
	Options                      []string                       `json:"options,omitempty"`
	Icon                         string                         `json:"icon,omitempty"`
	Platform                     string                         `json:"platform"`
	Qos                          int                            `json:"qos"`
}

func (ha HAAdvertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		Logger.Error().Msgf("Error marshalling HAAdvertisement: %v", err)
		return ""
	}
	return string(data)
}

func haBase(name, uniqueID, stateTopic, platform string) HAAdvertisement {
	return HAAdvertisement{
		Name:       name,
		StateTopic: stateTopic,
		UniqueID:   uniqueID,
		Platform:   platform,
		HAAvdvertisementAvailability: []HAAvdvertisementAvailability{
			{
				Topic:               Config.GetString("availability_topic"),
				PayloadAvailable:    "online",
				PayloadNotAvailable: "offline",
			},
		},
		Qos: 0,
		Device: HADeviceSpec{
			Name:        "home_security",
			Identifiers: []string{"home_security"},
		},
	}
}

// ConstructAlarmAdvertisement describes the alarm status topic as an enum
// sensor.
func ConstructAlarmAdvertisement(stateTopic string) HAAdvertisement {
	ha := haBase("Alarm status", "home_security-alarm_status", stateTopic, "sensor")
	ha.DeviceClass = "enum"
	ha.Options = []string{"NO_ALARM", "PENDING_ALARM", "ALARM"}
	ha.Icon = "mdi:shield-home"
	return ha
}

func ConstructArmingAdvertisement(stateTopic string) HAAdvertisement {
	ha := haBase("Arming status", "home_security-arming_status", stateTopic, "sensor")
	ha.DeviceClass = "enum"
	ha.Options = []string{"DISARMED", "ARMED_HOME", "ARMED_AWAY"}
	ha.Icon = "mdi:shield-lock"
	return ha
}

// ConstructCatAdvertisement describes the cat detection topic as a binary
// sensor.
func ConstructCatAdvertisement(stateTopic string) HAAdvertisement {
	ha := haBase("Cat detected", "home_security-cat_detected", stateTopic, "binary_sensor")
	ha.PayloadOn = "true"
	ha.PayloadOff = "false"
	ha.DeviceClass = "occupancy"
	ha.Icon = "mdi:cat"
	return ha
}

func AdvertiseHA(topics Topics, client MQTT.Client) {
	ads := map[string]HAAdvertisement{}
	if topics.AlarmStatus != "" {
		ads[haDiscoveryPrefix+"/sensor/home_security/alarm_status/config"] = ConstructAlarmAdvertisement(topics.AlarmStatus)
	}
	if topics.ArmingState != "" {
		ads[haDiscoveryPrefix+"/sensor/home_security/arming_status/config"] = ConstructArmingAdvertisement(topics.ArmingState)
	}
	if topics.CatDetected != "" {
		ads[haDiscoveryPrefix+"/binary_sensor/home_security/cat_detected/config"] = ConstructCatAdvertisement(topics.CatDetected)
	}
	for topic, ha := range ads {
		if token := client.Publish(topic, 0, false, ha.ToJson()); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Publishing %s: %v", topic, token.Error())
		}
	}
}
