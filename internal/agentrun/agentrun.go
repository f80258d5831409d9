// Package agentrun wires the task spine, the MQTT client, and the
// supervisor together against an already-open modem.Session and an
// already-loaded configuration. cmd/agent and cmd/tools/modemsim both
// drive this, differing only in how they construct the Session (a
// real serial link vs. a scripted in-memory fixture).
package agentrun

import (
	"context"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
	"github.com/fisaks/cellagent/internal/mqttclient"
	"github.com/fisaks/cellagent/internal/supervisor"
	"github.com/fisaks/cellagent/internal/tasks"
)

// Options carries everything Run needs beyond the session and config:
// the resolved topic header and the cell/gnss module identifiers that
// are only used for the startup log line (the modem driver they'd
// otherwise configure is the external collaborator in §6).
type Options struct {
	TopicHeader    string
	CellModuleType string
	GNSSModuleType string
}

// Run opens the task spine against session, subscribes the control
// topics, and blocks in the housekeeping loop until the agent is asked
// to exit (SIGINT/SIGTERM or a remote EXIT_APP). It returns the
// process exit code to use.
func Run(ctx context.Context, cancel context.CancelFunc, session modem.Session, cfg *config.Store, opts Options) int {
	state := appstate.New()
	state.SetPhase(appstate.PhaseInitDevice)

	info, err := session.Info(ctx)
	if err != nil {
		logging.Error("modem info query failed", "err", err)
		return -2
	}
	state.SetPhase(appstate.PhaseInitDeviceDone)
	logging.Info("modem ready", "imei", info.IMEI, "model", info.Model,
		"cellModuleType", opts.CellModuleType, "gnssModuleType", opts.GNSSModuleType)

	registry := apptask.NewRegistry()

	// onNetworkUp is wired below via SetOnNetworkUp once the supervisor
	// (its target) exists.
	registration := tasks.NewRegistration(session, state, cfg, nil)
	registry.Register(registration.Task)

	mqttCfg := BuildMQTTConfig(cfg)
	mode := mqttclient.ModeMQTT
	var transport mqttclient.Transport
	if mqttCfg.ShortNameMSN {
		mode = mqttclient.ModeMQTTSN
		transport = mqttclient.NewModemTransport(session, mqttCfg)
	} else {
		transport = mqttclient.NewPahoTransport(mqttCfg.BrokerName, mqttCfg, nil)
	}
	client := mqttclient.New(transport, state, mode, 1)
	registry.Register(client.Task())

	sigTask := tasks.NewSignalQuality(session, state, client, opts.TopicHeader, info.IMEI, registration.OperatorInfo)
	registry.Register(sigTask.Task)

	locTask := tasks.NewLocation(session, state, client, opts.TopicHeader, info.IMEI)
	registry.Register(locTask.Task)

	super := supervisor.New(registry, state, client, info, opts.TopicHeader, info.IMEI, cfg)
	registration.SetOnNetworkUp(super.TryPublishModuleInfo)

	cellScan := tasks.NewCellScan(session, state, client, super, opts.TopicHeader, info.IMEI)
	registry.Register(cellScan.Task)

	example := tasks.NewExample()
	registry.Register(example.Task)

	for _, initer := range []interface{ Init() error }{registration, client, sigTask, locTask, cellScan, example} {
		if err := initer.Init(); err != nil {
			logging.Error("task init failed", "err", err)
			return -2
		}
	}

	supervisor.InstallSignalHandler(state, cancel)

	if err := registration.Run(ctx); err != nil {
		logging.Error("registration start failed", "err", err)
		return -2
	}
	waitReady(ctx, state, state.NetworkUp)

	if err := client.Run(ctx); err != nil {
		logging.Error("mqtt client start failed", "err", err)
		return -2
	}
	waitReady(ctx, state, client.Connected)

	subscribeControlTopics(ctx, client, super, sigTask, locTask, cellScan, example, opts.TopicHeader, info.IMEI)

	if err := sigTask.Run(ctx); err != nil {
		logging.Error("signal quality task start failed", "err", err)
	}
	if err := locTask.Run(ctx); err != nil {
		logging.Error("location task start failed", "err", err)
	}
	if err := cellScan.Run(ctx); err != nil {
		logging.Error("cell scan task start failed", "err", err)
	}
	if err := example.Run(ctx); err != nil {
		logging.Error("example task start failed", "err", err)
	}

	super.Run(ctx)

	finalizers := map[apptask.ID]func() error{
		apptask.RegistrationTask:  registration.Finalize,
		apptask.MQTTClientTask:    client.Finalize,
		apptask.SignalQualityTask: sigTask.Finalize,
		apptask.LocationTask:      locTask.Finalize,
		apptask.CellScanTask:      cellScan.Finalize,
		apptask.ExampleTask:       example.Finalize,
	}
	if err := supervisor.Shutdown(context.Background(), state, registry, finalizers); err != nil {
		logging.Warn("finalize reported errors", "err", err)
	}

	logging.Info("agent exited", "code", state.ExitCode())
	return state.ExitCode()
}

func subscribeControlTopics(ctx context.Context, client *mqttclient.Client, super *supervisor.Supervisor,
	sigTask *tasks.SignalQuality, locTask *tasks.Location, cellScan *tasks.CellScan, example *tasks.Example,
	topicHeader, imei string) {

	if err := client.Subscribe(ctx, topicHeader, imei, "AppControl", 1, super.Commands()); err != nil {
		logging.Error("AppControl subscribe failed", "err", err)
	}
	if err := client.Subscribe(ctx, topicHeader, imei, "SignalQualityControl", 1, sigTask.Commands()); err != nil {
		logging.Warn("SignalQualityControl subscribe failed", "err", err)
	}
	if err := client.Subscribe(ctx, topicHeader, imei, "LocationControl", 1, locTask.Commands()); err != nil {
		logging.Warn("LocationControl subscribe failed", "err", err)
	}
	if err := client.Subscribe(ctx, topicHeader, imei, "CellScanControl", 1, cellScan.Commands()); err != nil {
		logging.Warn("CellScanControl subscribe failed", "err", err)
	}
	if err := client.Subscribe(ctx, topicHeader, imei, "ExampleControl", 1, example.Commands()); err != nil {
		logging.Warn("ExampleControl subscribe failed", "err", err)
	}
}

// waitReady polls ready at 1s intervals until it returns true or the
// app is asked to exit, matching §4.1's readiness gate.
func waitReady(ctx context.Context, state *appstate.State, ready func() bool) {
	for !ready() && !state.ExitRequested() && ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// BuildMQTTConfig reads the MQTT/security configuration keys into the
// shape modem.Session's MQTT primitives (and the plain-MQTT transport)
// expect.
func BuildMQTTConfig(cfg *config.Store) modem.MQTTConfig {
	return modem.MQTTConfig{
		BrokerName:   cfg.GetDefault(config.KeyMQTTBrokerName, ""),
		Username:     cfg.GetDefault(config.KeyMQTTUsername, ""),
		Password:     cfg.GetDefault(config.KeyMQTTPassword, ""),
		ClientID:     cfg.GetDefault(config.KeyMQTTClientID, "cellagent"),
		TimeoutSecs:  cfg.GetInt(config.KeyMQTTTimeout, 30),
		KeepAlive:    cfg.GetBool(config.KeyMQTTKeepAlive),
		ShortNameMSN: cfg.GetDefault(config.KeyMQTTType, config.MQTTTypePlain) == config.MQTTTypeSN,
		Security:     cfg.GetBool(config.KeyMQTTSecurity),
		TLSVersion:   cfg.GetDefault(config.KeySecurityTLSVersion, ""),
		CipherSuite:  cfg.GetDefault(config.KeySecurityCipherSuite, ""),
		ClientName:   cfg.GetDefault(config.KeySecurityClientName, ""),
		ClientKey:    cfg.GetDefault(config.KeySecurityClientKey, ""),
		ServerNameID: cfg.GetDefault(config.KeySecurityServerNameInd, ""),
	}
}
