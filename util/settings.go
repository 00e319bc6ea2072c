package util

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ENV_PREFIX = ""

const CONFIG_NAME = "home_security"

var Config = viper.New()

var config_listeners []func()

// DecodeHook lets config structs use the status and sensor type enums
// directly, since they all implement encoding.TextUnmarshaler.
var DecodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.TextUnmarshallerHookFunc(),
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

func RegisterNewConfigListener(new_listener func()) {
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	for _, listener := range config_listeners {
		listener()
	}
}

func SetDefaults() {
	Config.SetDefault("Broker_URI", "tcp://mqtt")
	Config.SetDefault("Cleansess", false)
	Config.SetDefault("Id_base", "home_security")
	Config.SetDefault("Username", "")
	Config.SetDefault("Password", "")
	Config.SetDefault("Log_level", "info")
	Config.SetDefault("Details_port", 8080)
	Config.SetDefault("Store_path", "home_security_state.yaml")
	Config.SetDefault("Detector", "http")
	Config.SetDefault("Detection_url", "http://localhost:32168/v1/vision/detection")
	Config.SetDefault("Confidence_threshold", 50.0)
	Config.SetDefault("Frequency", 5)
	Config.SetDefault("Availability_topic", "hab/online")
	Config.SetDefault("Topics.arming", "security/arming/set")
	Config.SetDefault("Topics.arming_state", "security/arming")
	Config.SetDefault("Topics.alarm_status", "security/alarm")
	Config.SetDefault("Topics.cat_detected", "security/cat")
}

// LoadDotEnv reads KEY=value pairs from the given files into the process
// environment before viper looks at it. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// BindFlags makes command line flags override file and environment values.
func BindFlags(flags *pflag.FlagSet) error {
	if err := Config.BindPFlags(flags); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

// SetupConfig loads defaults, the config file and the environment, and
// watches the file for changes. configFile overrides the search paths.
func SetupConfig(configFile string) {
	Config.SetEnvPrefix(ENV_PREFIX)
	SetDefaults()

	if err := LoadDotEnv(); err != nil {
		Logger.Warn().Msgf("unable to read .env: %v", err)
	}

	// config file
	if configFile != "" {
		Config.SetConfigFile(configFile)
	} else {
		Config.SetConfigName(CONFIG_NAME)
		Config.AddConfigPath("./")
		Config.AddConfigPath("./config")
		Config.AddConfigPath("/etc")
		Config.AddConfigPath("/home_security")
		Config.AddConfigPath("/home_security/config")
	}

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Error().Msgf("unable to read config file: %v", err)
	}

	// environment variables
	Config.AutomaticEnv()

	// watch for changes
	if err == nil {
		Config.OnConfigChange(func(e fsnotify.Event) {
			Logger.Info().Msgf("Config file changed: %v", e.Name)
			Logger.Debug().Msgf("Config Additional Info: %v", e.String())
			OnNewConfig()
		})
		Config.WatchConfig()
	}
}
