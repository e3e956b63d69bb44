package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/pulseview/pulseview/internal/bt"
	"github.com/pulseview/pulseview/internal/display"
	"github.com/pulseview/pulseview/internal/hrm"
)

func main() {
	pflag.String("config", "", "path to config file (default ~/.pulseview/config.yaml)")
	pflag.String("log-file", "", "log file path (default ~/.pulseview/pulseview.log)")
	pflag.Bool("simulate", false, "use the simulated adapter instead of real hardware")
	pflag.Int("sim-port", 8880, "HTTP control port for the simulated adapter (0 disables)")
	pflag.Duration("scan-timeout", hrm.DefaultScanTimeout, "how long to scan before giving up")
	pflag.Bool("auto-rescan", false, "rescan automatically after an unexpected disconnect")
	pflag.Parse()

	v := viper.New()
	must("bind flags", v.BindPFlags(pflag.CommandLine))
	v.SetDefault("heart-rate-min", hrm.DefaultHeartRateMin)
	v.SetDefault("heart-rate-max", hrm.DefaultHeartRateMax)
	v.SetEnvPrefix("PULSEVIEW")
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		must("read config", v.ReadInConfig())
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		// Missing default config is fine; flags and env still apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				must("read config", err)
			}
		}
	}

	logPath := v.GetString("log-file")
	if logPath == "" {
		logPath = filepath.Join(configDir(), "pulseview.log")
	}
	logger := log.New(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
	}, "", log.LstdFlags)
	logger.Printf("pulseview starting")

	cfg := hrm.Config{
		HeartRateMin:           v.GetInt("heart-rate-min"),
		HeartRateMax:           v.GetInt("heart-rate-max"),
		ScanTimeout:            v.GetDuration("scan-timeout"),
		AutoRescanOnDisconnect: v.GetBool("auto-rescan"),
	}

	var adapter bt.Adapter
	if v.GetBool("simulate") {
		adapter = bt.NewSimulator(bt.SimulatorConfig{
			DeviceID:    "AA:BB:CC:DD:EE:FF",
			LocalName:   "PulseSim HRM",
			ServiceUUID: hrm.ServiceUUIDHeartRate,
			CharUUID:    hrm.CharUUIDHeartRateMeasurement,
			HTTPPort:    v.GetInt("sim-port"),
		}, logger)
	} else {
		adapter = bt.NewTinygoAdapter(bluetooth.DefaultAdapter, logger)
	}
	must("enable BLE stack", adapter.Enable())

	controller, err := hrm.NewController(adapter, hrm.GrantedPermissions{}, cfg, logger)
	must("create controller", err)

	bt.SafeGo(logger, func() {
		if err := controller.Start(); err != nil {
			logger.Printf("initial start: %v", err)
		}
	})

	view := display.NewView(controller, logger)
	if err := view.Run(); err != nil {
		logger.Printf("UI error: %v", err)
	}

	if err := controller.Destroy(); err != nil {
		logger.Printf("destroy: %v", err)
	}
	logger.Printf("pulseview stopped")
}

func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".pulseview")
}

func must(action string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to %s: %v\n", action, err)
		os.Exit(1)
	}
}
