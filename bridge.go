package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/home_security/detector"
	"github.com/elijahnyp/home_security/state"
	. "github.com/elijahnyp/home_security/util"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const frameTimeout = 15 * time.Second

var errUnknownPayload = errors.New("unrecognised sensor payload")

type MQTT_Item struct {
	Data  []byte
	Topic string
	Type  int
}

// channels
var image_channel = make(chan MQTT_Item, 10)
var sensor_channel = make(chan MQTT_Item, 10)
var arming_channel = make(chan MQTT_Item, 10)

var last_processed = make(map[string]int64)

type cachedFrame struct {
	at    time.Time
	frame detector.Frame
}

var framesMu sync.RWMutex
var frames = make(map[string]cachedFrame)

// lastFramer is implemented by detectors that keep their latest results.
type lastFramer interface {
	Last() (detector.Frame, bool)
}

/* ***************************************
Message Router
*/

func subscribeSecurityTopics() {
	ClearMQTTSubscriptions()
	for _, topic := range currentModel().SubscribeTopics() {
		RegisterMQTTSubscription(topic, receiver)
	}
}

func receiver(client MQTT.Client, message MQTT.Message) {
	Logger.Debug().Msgf("Message Received on topic %s", message.Topic())
	item := MQTT_Item{Data: message.Payload(), Topic: message.Topic()}
	switch currentModel().FindTopicType(message.Topic()) {
	case PIC:
		item.Type = PIC
		select {
		case image_channel <- item:
		default:
			Logger.Warn().Msgf("image queue full, dropping frame from %s", item.Topic)
		}
	case SENSOR:
		item.Type = SENSOR
		sensor_channel <- item
	case ARMING:
		item.Type = ARMING
		arming_channel <- item
	default:
		Logger.Debug().Msgf("topic %s not found in model.  Fix subscription or add to model", message.Topic())
	}
}

/* ***************************************
Routines
*/

// image processing
func ProcessImageRoutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-image_channel:
			if !shouldProcess(item.Topic, time.Now().Unix()) {
				Logger.Debug().Msgf("Skipping image from %s", item.Topic)
				continue
			}
			Logger.Debug().Msgf("Processing image from %s", item.Topic)
			if err := processFrame(ctx, item); err != nil {
				Logger.Warn().Msgf("Unable to process image from %s: %v", item.Topic, err)
			}
		}
	}
}

// shouldProcess throttles each camera topic to one frame per frequency
// seconds.
func shouldProcess(topic string, now int64) bool {
	if last_processed[topic] >= now-Config.GetInt64("frequency") {
		return false
	}
	last_processed[topic] = now
	return true
}

func decodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	Logger.Trace().Msgf("decoded %s image %v", format, img.Bounds())
	return img, nil
}

func processFrame(ctx context.Context, item MQTT_Item) error {
	img, err := decodeImage(item.Data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()
	if err := engine.ProcessImage(ctx, img); err != nil {
		return err
	}
	cacheFrame(item.Topic, img)
	return nil
}

// cacheFrame remembers img under id for the /image view, along with the
// detector's predictions when it kept them for this very image.
func cacheFrame(id string, img image.Image) {
	frame := detector.Frame{Image: img}
	if lf, ok := catDetector.(lastFramer); ok {
		if last, ok := lf.Last(); ok && last.Image == img {
			frame = last
		}
	}
	framesMu.Lock()
	frames[id] = cachedFrame{at: time.Now(), frame: frame}
	framesMu.Unlock()
}

func cachedFrameByID(id string) (cachedFrame, bool) {
	framesMu.RLock()
	defer framesMu.RUnlock()
	f, ok := frames[id]
	return f, ok
}

// parseActivation understands the payloads zigbee2mqtt style bridges and
// home automation hubs send for contact and motion sensors.
func parseActivation(payload []byte) (bool, error) {
	text := strings.ToUpper(strings.TrimSpace(string(payload)))
	if numd, err := strconv.Atoi(text); err == nil {
		return numd != 0, nil
	}
	switch text {
	case "ON", "OPEN", "TRUE", "ACTIVE":
		return true, nil
	case "OFF", "CLOSED", "FALSE", "INACTIVE":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", errUnknownPayload, payload)
}

func SensorRoutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-sensor_channel:
			if err := handleSensorMessage(item); err != nil {
				Logger.Warn().Msgf("sensor message on %s: %v", item.Topic, err)
			}
		}
	}
}

func handleSensorMessage(item MQTT_Item) error {
	cfg, ok := currentModel().FindSensorByTopic(item.Topic)
	if !ok {
		return fmt.Errorf("no sensor configured for %s", item.Topic)
	}
	active, err := parseActivation(item.Data)
	if err != nil {
		return err
	}
	key := cfg.Sensor().Key()
	Logger.Debug().Msgf("%s active=%v", key, active)
	_, err = engine.SetSensorActive(key, active)
	return err
}

// findSensor returns the stored copy of the sensor.
func findSensor(key state.SensorKey) (state.Sensor, error) {
	sensors, err := engine.Sensors()
	if err != nil {
		return state.Sensor{}, err
	}
	for _, s := range sensors {
		if s.Key() == key {
			return s, nil
		}
	}
	return state.Sensor{}, fmt.Errorf("%w: %v", state.ErrUnknownSensor, key)
}

func ArmingRoutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-arming_channel:
			status, err := state.ParseArmingStatus(string(item.Data))
			if err != nil {
				Logger.Warn().Msgf("arming message on %s: %v", item.Topic, err)
				continue
			}
			if err := setArming(status); err != nil {
				Logger.Error().Msgf("Error setting arming status: %v", err)
			}
		}
	}
}

// seedSensors adds every configured sensor the store does not know yet.
// Sensors already stored keep their activation state.
func seedSensors(m Model) {
	for _, cfg := range m.Sensors {
		if _, err := findSensor(cfg.Sensor().Key()); err == nil {
			continue
		}
		if err := engine.AddSensor(cfg.Sensor()); err != nil {
			Logger.Error().Msgf("Error adding sensor %s: %v", cfg.Name, err)
			continue
		}
		Logger.Info().Msgf("registered sensor %s", cfg.Sensor().Key())
	}
}
