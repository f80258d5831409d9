package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/dispatch"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

// Publisher is the narrow surface every sampler needs from the MQTT
// client: publish one already-formatted payload on a full topic name.
type Publisher interface {
	Publish(topic, payload string, qos int, retain bool) error
}

// sampleTopic builds the full <appTopicHeader>/<IMEI>/<suffix> topic
// name every sampler publishes on, per §6's topic layout.
func sampleTopic(topicHeader, imei, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", topicHeader, imei, suffix)
}

// SignalQuality samples RSRP/RSRQ/RSSI/SNR/cell info on a timer and
// publishes one JSON line per sample.
type SignalQuality struct {
	Task *apptask.Task

	session     modem.Session
	state       *appstate.State
	publisher   Publisher
	topicHeader string
	imei        string
	operator    func() (name, mcc, mnc string)
}

func NewSignalQuality(session modem.Session, state *appstate.State, publisher Publisher, topicHeader, imei string, operator func() (string, string, string)) *SignalQuality {
	return &SignalQuality{
		Task:        apptask.New(apptask.SignalQualityTask, "SignalQuality", 5, 60, false),
		session:     session,
		state:       state,
		publisher:   publisher,
		topicHeader: topicHeader,
		imei:        imei,
		operator:    operator,
	}
}

func (s *SignalQuality) Init() error { return s.Task.Init(func() error { return nil }) }

func (s *SignalQuality) Run(ctx context.Context) error {
	return s.Task.StartLoop(ctx, s.runOnce)
}

// Commands exposes the handler table for SignalQualityControl:
// MEASURE_NOW, START_TASK [dwellSeconds], STOP_TASK.
func (s *SignalQuality) Commands() dispatch.Table {
	return dispatch.Table{
		"MEASURE_NOW": func(params []string) error {
			return s.Task.Send(apptask.Message{Tag: "MEASURE_NOW"})
		},
		"START_TASK": func(params []string) error {
			dwell := dispatch.GetParamValue(params, 1, 5, 3600, int(s.Task.DwellSeconds()))
			s.Task.SetDwellSeconds(int64(dwell))
			return nil
		},
		"STOP_TASK": func(params []string) error {
			s.Task.StopLoop()
			return nil
		},
	}
}

func (s *SignalQuality) runOnce(ctx context.Context) {
	select {
	case msg := <-s.Task.Receive():
		if msg.Tag == "MEASURE_NOW" {
			s.measure(ctx)
		}
	default:
		s.measure(ctx)
	}
}

func (s *SignalQuality) measure(ctx context.Context) {
	release, ok := s.Task.TryAcquireWork()
	if !ok {
		return // a measurement is already in flight; skip this tick
	}
	defer release()

	reading, err := s.session.SignalQuality(ctx)
	if err != nil {
		logging.Warn("signal quality read failed", "err", err)
		return
	}
	s.state.SetSignalValid(reading.Valid())

	name, mcc, mnc := "", "", ""
	if s.operator != nil {
		name, mcc, mnc = s.operator()
	}

	payload := formatSignalQuality(reading, name, mcc, mnc)
	topic := sampleTopic(s.topicHeader, s.imei, "SignalQuality")
	if err := s.publisher.Publish(topic, payload, 1, false); err != nil {
		logging.Warn("signal quality publish failed", "err", err)
	}
}

func formatSignalQuality(r modem.SignalReading, operator, mcc, mnc string) string {
	plmn := mcc + mnc
	return fmt.Sprintf(
		`{"Timestamp":"%s","CellQuality":{"RSRP":%d,"RSRQ":%d,"RSSI":%d,"SNR":%d,"RxQual":%d},"CellInfo":{"LogicalCellID":"0x%08x","PhysicalCellID":%d,"EARFCN":%d,"PLMN":%s,"Operator":"%s"}}`,
		time.Now().UTC().Format("15:04:05.000"),
		r.RSRP, r.RSRQ, r.RSSI, r.SNR, r.RxQual,
		uint32(r.LogicalCellID), r.PhysicalCellID, r.EARFCN,
		plmn, operator,
	)
}

func (s *SignalQuality) Finalize() error { return nil }
