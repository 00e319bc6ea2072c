package util

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

func TestConstructAlarmAdvertisement(t *testing.T) {
	Config.Set("availability_topic", "hab/online")
	stateTopic := "security/alarm"

	advertisement := ConstructAlarmAdvertisement(stateTopic)

	if advertisement.StateTopic != stateTopic {
		t.Errorf("StateTopic = %s, expected %s", advertisement.StateTopic, stateTopic)
	}
	if advertisement.Platform != "sensor" {
		t.Errorf("Platform = %s, expected 'sensor'", advertisement.Platform)
	}
	if advertisement.DeviceClass != "enum" {
		t.Errorf("DeviceClass = %s, expected 'enum'", advertisement.DeviceClass)
	}
	if strings.Join(advertisement.Options, ",") != "NO_ALARM,PENDING_ALARM,ALARM" {
		t.Errorf("Options = %v", advertisement.Options)
	}
	if advertisement.PayloadOn != "" || advertisement.PayloadOff != "" {
		t.Error("enum sensor should not carry on/off payloads")
	}
	if advertisement.UniqueID != "home_security-alarm_status" {
		t.Errorf("UniqueID = %s", advertisement.UniqueID)
	}

	if len(advertisement.HAAvdvertisementAvailability) != 1 {
		t.Errorf("Expected 1 availability item, got %d", len(advertisement.HAAvdvertisementAvailability))
	} else {
		avail := advertisement.HAAvdvertisementAvailability[0]
		if avail.Topic != "hab/online" {
			t.Errorf("Availability topic = %s, expected 'hab/online'", avail.Topic)
		}
		if avail.PayloadAvailable != "online" || avail.PayloadNotAvailable != "offline" {
			t.Errorf("unexpected availability payloads %+v", avail)
		}
	}

	if advertisement.Device.Name != "home_security" {
		t.Errorf("Device name = %s, expected 'home_security'", advertisement.Device.Name)
	}
	if len(advertisement.Device.Identifiers) != 1 || advertisement.Device.Identifiers[0] != "home_security" {
		t.Errorf("Device identifiers = %v, expected ['home_security']", advertisement.Device.Identifiers)
	}
}

func TestConstructArmingAdvertisement(t *testing.T) {
	advertisement := ConstructArmingAdvertisement("security/arming")

	if advertisement.Platform != "sensor" {
		t.Errorf("Platform = %s, expected 'sensor'", advertisement.Platform)
	}
	if strings.Join(advertisement.Options, ",") != "DISARMED,ARMED_HOME,ARMED_AWAY" {
		t.Errorf("Options = %v", advertisement.Options)
	}
}

func TestConstructCatAdvertisement(t *testing.T) {
	advertisement := ConstructCatAdvertisement("security/cat")

	if advertisement.Platform != "binary_sensor" {
		t.Errorf("Platform = %s, expected 'binary_sensor'", advertisement.Platform)
	}
	if advertisement.PayloadOn != "true" || advertisement.PayloadOff != "false" {
		t.Errorf("payloads = %q/%q, expected true/false", advertisement.PayloadOn, advertisement.PayloadOff)
	}
	if len(advertisement.Options) != 0 {
		t.Error("binary sensor should not list options")
	}
}

func TestHAAdvertisement_ToJson(t *testing.T) {
	advertisement := ConstructCatAdvertisement("security/cat")

	jsonStr := advertisement.ToJson()
	if jsonStr == "" {
		t.Fatal("ToJson returned empty string")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		t.Fatalf("ToJson produced invalid JSON: %v", err)
	}
	for _, key := range []string{"availability", "device", "uniq_id", "state_topic", "payload_on", "platform"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in %s", key, jsonStr)
		}
	}
	if _, ok := raw["options"]; ok {
		t.Error("empty options should be omitted")
	}
}

func TestAdvertiseHA(t *testing.T) {
	mockClient := &MockMQTTClient{}

	AdvertiseHA(Topics{
		Arming:      "security/arming/set",
		ArmingState: "security/arming",
		AlarmStatus: "security/alarm",
		CatDetected: "security/cat",
	}, mockClient)

	if len(mockClient.publishCalls) != 3 {
		t.Fatalf("Expected 3 publish calls, got %d", len(mockClient.publishCalls))
	}

	published := make(map[string]string)
	for _, call := range mockClient.publishCalls {
		published[call.Topic] = call.Payload.(string) //nolint:errcheck // test helper
	}

	expected := map[string]string{
		"homeassistant/sensor/home_security/alarm_status/config":         "security/alarm",
		"homeassistant/sensor/home_security/arming_status/config":        "security/arming",
		"homeassistant/binary_sensor/home_security/cat_detected/config": "security/cat",
	}
	for topic, stateTopic := range expected {
		payload, ok := published[topic]
		if !ok {
			t.Errorf("Expected publish to %s", topic)
			continue
		}
		var advertisement HAAdvertisement
		if err := json.Unmarshal([]byte(payload), &advertisement); err != nil {
			t.Errorf("Invalid JSON payload for %s: %v", topic, err)
			continue
		}
		if advertisement.StateTopic != stateTopic {
			t.Errorf("%s state topic = %s, expected %s", topic, advertisement.StateTopic, stateTopic)
		}
	}
}

func TestAdvertiseHA_SkipsEmptyTopics(t *testing.T) {
	mockClient := &MockMQTTClient{}

	AdvertiseHA(Topics{AlarmStatus: "security/alarm"}, mockClient)

	if len(mockClient.publishCalls) != 1 {
		t.Fatalf("Expected 1 publish call, got %d", len(mockClient.publishCalls))
	}
	if mockClient.publishCalls[0].Topic != "homeassistant/sensor/home_security/alarm_status/config" {
		t.Errorf("unexpected topic %s", mockClient.publishCalls[0].Topic)
	}
}

type failingPublishClient struct {
	MockMQTTClient
}

func (f *failingPublishClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	f.MockMQTTClient.Publish(topic, qos, retained, payload)
	return &MockToken{err: errors.New("broker said no")}
}

func TestAdvertiseHA_ErrorHandling(t *testing.T) {
	client := &failingPublishClient{}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("AdvertiseHA should not panic on publish errors: %v", r)
		}
	}()

	AdvertiseHA(Topics{AlarmStatus: "security/alarm", CatDetected: "security/cat"}, client)

	if len(client.publishCalls) != 2 {
		t.Errorf("every advertisement should still be attempted, got %d", len(client.publishCalls))
	}
}
