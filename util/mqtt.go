package util

import (
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const connectWait = 5 * time.Second

var Client MQTT.Client

var mqttMu sync.Mutex

var subscriptions map[string]MQTT.MessageHandler

var connectHandlers map[string]func(MQTT.Client)

var connectHandler MQTT.OnConnectHandler = func(client MQTT.Client) {
	Logger.Info().Msg("Connected")
	subscribe(client)
	client.Publish(Config.GetString("availability_topic"), 0, false, "online").Wait()
	mqttMu.Lock()
	handlers := make([]func(MQTT.Client), 0, len(connectHandlers))
	for _, handler := range connectHandlers {
		handlers = append(handlers, handler)
	}
	mqttMu.Unlock()
	for _, handler := range handlers {
		handler(client)
	}
}

// RegisterMQTTConnectHook runs handler on every (re)connect. A nil handler
// removes the hook.
func RegisterMQTTConnectHook(name string, handler func(MQTT.Client)) {
	mqttMu.Lock()
	defer mqttMu.Unlock()
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	if handler == nil {
		delete(connectHandlers, name)
	} else {
		connectHandlers[name] = handler
	}
}

func subscribe(client MQTT.Client) {
	mqttMu.Lock()
	subs := make(map[string]MQTT.MessageHandler, len(subscriptions))
	for topic, handler := range subscriptions {
		subs[topic] = handler
	}
	mqttMu.Unlock()
	for topic, handler := range subs {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Subscribing to %s: %v", topic, token.Error())
		}
	}
}

// RegisterMQTTSubscription subscribes handler to topic on the next
// connect. A nil handler removes the subscription.
func RegisterMQTTSubscription(topic string, handler MQTT.MessageHandler) {
	mqttMu.Lock()
	defer mqttMu.Unlock()
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	if handler == nil {
		delete(subscriptions, topic)
	} else {
		subscriptions[topic] = handler
	}
}

// ClearMQTTSubscriptions forgets every registered subscription, used before
// re-registering after a config change.
func ClearMQTTSubscriptions() {
	mqttMu.Lock()
	defer mqttMu.Unlock()
	subscriptions = make(map[string]MQTT.MessageHandler)
}

func receiver(client MQTT.Client, message MQTT.Message) {
	Logger.Warn().Msgf("Received message on %v but no handler", message.Topic())
}

var connectLostHandler MQTT.ConnectionLostHandler = func(client MQTT.Client, err error) {
	Logger.Info().Msgf("Connect lost: %v", err)
}

func ClientID() string {
	return Config.GetString("id_base") + "_" + uuid.NewString()[:8]
}

func MqttOptions() *MQTT.ClientOptions {
	availability := Config.GetString("availability_topic")
	opts := MQTT.NewClientOptions()
	opts.AddBroker(Config.GetString("broker_uri"))
	opts.SetClientID(ClientID())
	opts.SetUsername(Config.GetString("username"))
	opts.SetPassword(Config.GetString("password"))
	opts.SetCleanSession(Config.GetBool("cleansess"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(availability, "offline", 0, false)
	opts.OnConnectionLost = connectLostHandler
	opts.OnConnect = connectHandler
	opts.SetDefaultPublishHandler(receiver)
	return opts
}

// closeClient tears down the current client. Disconnect also stops a
// client that is still retrying its first connection.
func closeClient() {
	if Client == nil {
		return
	}
	Logger.Debug().Msg("Client exists - destroying")
	Client.Disconnect(1000)
	Client = nil
}

func MqttInit() {
	closeClient()

	Client = MQTT.NewClient(MqttOptions())

	token := Client.Connect()
	if !token.WaitTimeout(connectWait) {
		Logger.Warn().Msgf("broker %s not reachable yet, retrying in background", Config.GetString("broker_uri"))
		return
	}
	if token.Error() != nil {
		Logger.Error().Msgf("Error connecting to broker: %v", token.Error())
	}
}
