// Command cellagent is the long-running telemetry agent: it attaches a
// host to a cellular network through an external modem, publishes
// radio and location measurements to an MQTT broker or MQTT-SN
// gateway, and accepts remote control commands over MQTT.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fisaks/cellagent/internal/agentrun"
	"github.com/fisaks/cellagent/internal/cli"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

// serialBaud is the AT-command line rate used against every supported
// module; none of the recognised module types need a different rate.
const serialBaud = 115200

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, err := cli.Parse(argv)
	if err != nil {
		if err == cli.ErrHelp {
			fmt.Fprint(os.Stdout, cli.Usage())
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, cli.Usage())
		return cli.ExitBadParameters
	}

	logging.Init()

	configPath := args.ConfigPath
	if configPath == "" {
		configPath = config.DefaultFileName
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Error("configuration load failed", "path", configPath, "err", err)
		return cli.ExitStartupFailed
	}

	logging.SetLevelFromCode(cfg.GetInt(config.KeyLogLevel, 2))

	if cfg.Has(config.KeyTestStartup) {
		logging.Info("TEST_STARTUP present, exiting after config load")
		return cli.ExitTestStartup
	}

	topicHeader := cfg.GetDefault(config.KeyAppTopicHeader, hostnameOrDefault())

	session := modem.NewSerial(args.Device, serialBaud)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Open(ctx); err != nil {
		logging.Error("modem open failed", "device", args.Device, "err", err)
		return cli.ExitStartupFailed
	}
	defer session.Close()

	code := agentrun.Run(ctx, cancel, session, cfg, agentrun.Options{
		TopicHeader:    topicHeader,
		CellModuleType: args.CellModuleType,
		GNSSModuleType: args.GNSSModuleType,
	})
	if code == -2 {
		return cli.ExitStartupFailed
	}
	return code
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "cellagent"
	}
	return h
}
