package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/home_security/detector"
	"github.com/elijahnyp/home_security/security"
	"github.com/elijahnyp/home_security/store"
	. "github.com/elijahnyp/home_security/util"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var engine *security.Engine

var catDetector security.CatDetector

var modelMu sync.RWMutex
var model Model

var cam_forwarder CamForwarder

func currentModel() Model {
	modelMu.RLock()
	defer modelMu.RUnlock()
	return model
}

func rebuildModel() {
	var next Model
	if err := next.BuildModel(); err != nil {
		Logger.Error().Msgf("Error building model: %v", err)
		return
	}
	modelMu.Lock()
	model = next
	modelMu.Unlock()
	seedSensors(next)
}

// openStore keeps state in memory when path is empty or ":memory:", and in
// a YAML file otherwise.
func openStore(path string) (security.StateStore, error) {
	if path == "" || path == ":memory:" {
		Logger.Warn().Msg("state is kept in memory only")
		return store.NewMemory(), nil
	}
	f, err := store.OpenFile(path)
	if err != nil {
		return nil, err
	}
	Logger.Info().Msgf("state stored in %s", f.Path())
	return f, nil
}

func newDetector(kind string) (security.CatDetector, error) {
	switch strings.ToLower(kind) {
	case "", "http":
		return detector.NewHTTP(Config.GetString("detection_url"), nil), nil
	case "fake":
		return detector.NewFake(uint64(time.Now().UnixNano())), nil
	default:
		return nil, fmt.Errorf("unknown detector %q", kind)
	}
}

func configureTLS() {
	if Config.GetBool("insecure_tls") {
		Logger.Debug().Msg("disabling tls")
		if transport, ok := http.DefaultTransport.(*http.Transport); ok {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // intentional for testing environments
		} else {
			Logger.Warn().Msg("Failed to configure insecure TLS: transport type assertion failed")
		}
	}
}

func currentClient() MQTT.Client {
	return Client
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "home_security",
		Short:        "Home security alarm engine with MQTT and web front ends",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, cmd.Flags())
		},
	}
	flags := cmd.Flags()
	// --log-level and --log_level both land on the log_level key
	flags.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
	})
	flags.StringVarP(&configFile, "config", "c", "", "config file (default searches ./, ./config, /etc)")
	flags.String("log-level", "", "trace, debug, info, warn or error")
	flags.String("store-path", "", "state file, or :memory:")
	flags.Int("details-port", 0, "dashboard and API port")
	flags.String("detector", "", "cat detector: http or fake")
	return cmd
}

func run(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	LogInit("info")
	if err := BindFlags(flags); err != nil {
		return err
	}
	SetupConfig(configFile)
	LogInit(Config.GetString("log_level"))
	configureTLS()

	stateStore, err := openStore(Config.GetString("store_path"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	catDetector, err = newDetector(Config.GetString("detector"))
	if err != nil {
		return err
	}
	engine = security.NewEngine(stateStore, catDetector,
		security.WithConfidenceThreshold(float32(Config.GetFloat64("confidence_threshold"))),
		security.WithLogger(Component("engine")),
	)

	wsHub = NewHub()
	go wsHub.Run()
	publisher := NewMQTTPublisher(currentClient, func() Topics { return currentModel().Topics })
	statusLog := &logListener{logger: Component("status")}
	engine.AddStatusListener(statusLog)
	engine.AddStatusListener(publisher)
	engine.AddStatusListener(wsHub)
	armingListeners = []armingListener{statusLog, publisher, wsHub}

	RegisterNewConfigListener(func() { LogInit(Config.GetString("log_level")) })
	RegisterNewConfigListener(rebuildModel)
	RegisterNewConfigListener(subscribeSecurityTopics)
	RegisterMQTTConnectHook("haadvertise", func(client MQTT.Client) {
		AdvertiseHA(currentModel().Topics, client)
	})
	RegisterMQTTConnectHook("publishstate", func(client MQTT.Client) {
		publisher.PublishState(engine)
	})
	RegisterNewConfigListener(MqttInit)
	OnNewConfig()

	go ProcessImageRoutine(ctx)
	go SensorRoutine(ctx)
	go ArmingRoutine(ctx)

	monitor := NewMonitorServer()
	registerHandlers(monitor)
	if err := monitor.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	RegisterNewConfigListener(func() { monitor.Restart() })
	cam_forwarder.MakeCamForwarder(currentClient)
	cam_forwarder.Start()
	Logger.Info().Msg("ready")
	go OnlinePinger(ctx)
	go HAAdvertiser(ctx)

	<-ctx.Done()
	Logger.Info().Msg("shutting down")
	cam_forwarder.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	monitor.Shutdown(shutdownCtx)
	if Client != nil && Client.IsConnected() {
		Client.Publish(Config.GetString("availability_topic"), 0, false, "offline").WaitTimeout(time.Second)
		Client.Disconnect(1000)
	}
	return nil
}

// online pinger
func OnlinePinger(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		if Client != nil && Client.IsConnected() {
			if token := Client.Publish(Config.GetString("availability_topic"), 0, false, "online"); token.Wait() && token.Error() != nil {
				Logger.Error().Msgf("Error publishing online message: %v", token.Error())
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HAAdvertiser - advertises Home Assistant discovery messages every 5 minutes
func HAAdvertiser(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if Client != nil && Client.IsConnected() {
				Logger.Debug().Msg("Advertising Home Assistant discovery messages")
				AdvertiseHA(currentModel().Topics, Client)
			}
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
