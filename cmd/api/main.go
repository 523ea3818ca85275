package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/zenfleet2mqtt/internal/adapter/actor"
	"github.com/berfenger/zenfleet2mqtt/internal/config"
	"github.com/berfenger/zenfleet2mqtt/internal/core/actor"
	"github.com/berfenger/zenfleet2mqtt/internal/server"
	"github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"
	"github.com/berfenger/zenfleet2mqtt/pkg/gridmeter_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init Meter actor provider (modbus source only)
	meterProv, err := meterActorProvider(cfg, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, mqttActorProvider(cfg, logger), meterProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => ZENFLEET_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ZENFLEET_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("zenfleet")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.PowerManagerConfig.ControlIntervalMillis < 2000 {
		return nil, errors.New("config param power_manager.control_interval_millis should be >= 2000ms")
	}
	if cfg.PowerManagerConfig.TelemetryMaxAgeMillis < cfg.PowerManagerConfig.ControlIntervalMillis {
		return nil, errors.New("config param power_manager.telemetry_max_age_millis should be >= power_manager.control_interval_millis")
	}
	if cfg.PowerManagerConfig.MeterMaxAgeMillis <= 0 {
		return nil, errors.New("config param power_manager.meter_max_age_millis should be > 0")
	}
	switch cfg.MeterConfig.Source {
	case config.METER_SOURCE_NONE:
	case config.METER_SOURCE_MQTT:
		if cfg.MeterConfig.Topic == "" {
			return nil, errors.New("config param meter.topic is required when meter.source is mqtt")
		}
	case config.METER_SOURCE_MODBUS:
		if cfg.MeterConfig.ModbusTcp.Host == "" {
			return nil, errors.New("config param meter.modbus_tcp.host is required when meter.source is modbus")
		}
		if cfg.MeterConfig.ModbusTcp.PollIntervalMillis < 1000 {
			return nil, errors.New("config param meter.modbus_tcp.poll_interval_millis should be >= 1000")
		}
		if w := cfg.MeterConfig.ModbusTcp.PowerRegisterWidth; w != 16 && w != 32 {
			return nil, errors.New("config param meter.modbus_tcp.power_register_width should be 16 or 32")
		}
	default:
		return nil, errors.New("config param meter.source should be one of none, mqtt, modbus")
	}
	for _, d := range cfg.TopologyConfig.Devices {
		phase := d.Phase
		if phase == "" {
			phase = cfg.TopologyConfig.DefaultPhase
		}
		if cfg.TopologyConfig.Phase(phase) == nil {
			return nil, fmt.Errorf("config: device %s references unknown phase %s", d.Id, phase)
		}
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func meterActorProvider(cfg *config.Config, logger *zap.Logger) (actor.MeterActorProvider, error) {

	if cfg.MeterConfig.Source != config.METER_SOURCE_MODBUS {
		return nil, nil
	}

	reader, err := gridmeter_modbus.CreateTCPPowerMeterReader(cfg.MeterConfig.ModbusTcp.Host,
		cfg.MeterConfig.ModbusTcp.Port, uint8(cfg.MeterConfig.ModbusTcp.UnitId),
		cfg.MeterConfig.ModbusTcp.PowerRegister, cfg.MeterConfig.ModbusTcp.PowerRegisterWidth,
		1*time.Second, logger, nil)
	if err != nil {
		return nil, err
	}

	pollInterval := time.Duration(cfg.MeterConfig.ModbusTcp.PollIntervalMillis) * time.Millisecond

	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(reader, pollInterval, logger)
	}, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "zenfleet")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("power_manager.control_interval_millis", 10000)
	viper.SetDefault("power_manager.min_meter_trigger_millis", 2000)
	viper.SetDefault("power_manager.telemetry_max_age_millis", 60000)
	viper.SetDefault("power_manager.meter_max_age_millis", 15000)
	viper.SetDefault("meter.source", "none")
	viper.SetDefault("meter.modbus_tcp.power_register_width", 32)
	viper.SetDefault("meter.modbus_tcp.poll_interval_millis", 5000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
