package main

import (
	"strconv"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/home_security/security"
	"github.com/elijahnyp/home_security/state"
	. "github.com/elijahnyp/home_security/util"
	"github.com/rs/zerolog"
)

// armingListener hears about arming changes made through MQTT or the API.
// The engine itself only reports alarm and cat events.
type armingListener interface {
	ArmingChanged(status state.ArmingStatus)
}

var armingListeners []armingListener

// armingMu keeps the fan-out in the order the engine applied the changes.
var armingMu sync.Mutex

func setArming(status state.ArmingStatus) error {
	armingMu.Lock()
	defer armingMu.Unlock()
	if err := engine.SetArmingStatus(status); err != nil {
		return err
	}
	for _, l := range armingListeners {
		l.ArmingChanged(status)
	}
	return nil
}

// MQTTPublisher mirrors the engine's state onto retained MQTT topics.
type MQTTPublisher struct {
	client func() MQTT.Client
	topics func() Topics
}

var _ security.StatusListener = (*MQTTPublisher)(nil)

func NewMQTTPublisher(client func() MQTT.Client, topics func() Topics) *MQTTPublisher {
	return &MQTTPublisher{client: client, topics: topics}
}

func (p *MQTTPublisher) Notify(status state.AlarmStatus) {
	p.publish(p.topics().AlarmStatus, status.String())
}

func (p *MQTTPublisher) CatDetected(cat bool) {
	p.publish(p.topics().CatDetected, strconv.FormatBool(cat))
}

func (p *MQTTPublisher) ArmingChanged(status state.ArmingStatus) {
	p.publish(p.topics().ArmingState, status.String())
}

// PublishState pushes the current alarm and arming status, used after a
// (re)connect.
func (p *MQTTPublisher) PublishState(e *security.Engine) {
	if alarm, err := e.AlarmStatus(); err == nil {
		p.Notify(alarm)
	} else {
		Logger.Error().Msgf("Error reading alarm status: %v", err)
	}
	if arming, err := e.ArmingStatus(); err == nil {
		p.ArmingChanged(arming)
	} else {
		Logger.Error().Msgf("Error reading arming status: %v", err)
	}
}

func (p *MQTTPublisher) publish(topic, payload string) {
	if topic == "" {
		return
	}
	client := p.client()
	if client == nil || !client.IsConnected() {
		Logger.Debug().Msgf("not connected, skipping publish of %s to %s", payload, topic)
		return
	}
	token := client.Publish(topic, 0, true, payload)
	// listeners run under the engine lock
	go func() {
		if token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error publishing %s: %v", topic, token.Error())
		}
	}()
}

type logListener struct {
	logger zerolog.Logger
}

func (l *logListener) Notify(status state.AlarmStatus) {
	l.logger.Info().Str("alarm", status.String()).Msg(status.Description())
}

func (l *logListener) CatDetected(cat bool) {
	l.logger.Debug().Bool("cat", cat).Msg("image scanned")
}

func (l *logListener) ArmingChanged(status state.ArmingStatus) {
	l.logger.Info().Str("arming", status.String()).Msg(status.Description())
}
