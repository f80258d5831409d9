// Command modemsim runs the agent's full task spine against a scripted
// modem.Sim instead of a real serial device, driven by a YAML fixture.
// It shares all task-wiring logic with cmd/agent via internal/agentrun,
// so a fixture exercises the exact same code path an operator would see
// against real hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fisaks/cellagent/internal/agentrun"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: modemsim --fixture FIXTURE.yaml [flags]

  --fixture    (string)  path to the YAML fixture the simulated modem replays (required)
  --config     (string)  path to the agent configuration file (default app.conf)
  --topic      (string)  APP_TOPIC_HEADER override, e.g. U-BLOX
  --cell-type  (string)  cell module type reported in log lines (default SARA-R5)
  --gnss-type  (string)  gnss module type reported in log lines (default M10)

`)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("modemsim", flag.ContinueOnError)
	fs.Usage = usage
	fixturePath := fs.String("fixture", "", "YAML fixture path (required)")
	configPath := fs.String("config", config.DefaultFileName, "agent configuration file")
	topicHeader := fs.String("topic", "", "APP_TOPIC_HEADER override")
	cellType := fs.String("cell-type", "SARA-R5", "cell module type")
	gnssType := fs.String("gnss-type", "M10", "gnss module type")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "--fixture is required")
		usage()
		return 2
	}

	logging.Init()

	f, err := os.Open(*fixturePath)
	if err != nil {
		logging.Error("fixture open failed", "path", *fixturePath, "err", err)
		return 1
	}
	fixture, err := modem.LoadFixture(f)
	f.Close()
	if err != nil {
		logging.Error("fixture parse failed", "path", *fixturePath, "err", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("configuration load failed", "path", *configPath, "err", err)
		return 1
	}
	logging.SetLevelFromCode(cfg.GetInt(config.KeyLogLevel, 2))

	header := *topicHeader
	if header == "" {
		header = cfg.GetDefault(config.KeyAppTopicHeader, "cellagent-sim")
	}

	session := modem.NewSim(fixture)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := session.Open(ctx); err != nil {
		logging.Error("sim open failed", "err", err)
		return 1
	}
	defer session.Close()

	code := agentrun.Run(ctx, cancel, session, cfg, agentrun.Options{
		TopicHeader:    header,
		CellModuleType: *cellType,
		GNSSModuleType: *gnssType,
	})
	return code
}
