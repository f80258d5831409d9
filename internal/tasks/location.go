package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/dispatch"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

// Location brings up the GNSS interface at init and samples one fix per
// iteration. A one-shot stop flag cancels exactly the in-flight
// acquisition, not subsequent ones.
type Location struct {
	Task *apptask.Task

	session     modem.Session
	state       *appstate.State
	publisher   Publisher
	topicHeader string
	imei        string
	stopCurrent atomic.Bool
}

func NewLocation(session modem.Session, state *appstate.State, publisher Publisher, topicHeader, imei string) *Location {
	return &Location{
		Task:        apptask.New(apptask.LocationTask, "Location", 5, 300, false),
		session:     session,
		state:       state,
		publisher:   publisher,
		topicHeader: topicHeader,
		imei:        imei,
	}
}

func (l *Location) Init() error {
	return l.Task.Init(func() error {
		return l.session.GNSSOpen(context.Background())
	})
}

func (l *Location) Run(ctx context.Context) error { return l.Task.StartLoop(ctx, l.runOnce) }

func (l *Location) Commands() dispatch.Table {
	return dispatch.Table{
		"LOCATION_NOW": func(params []string) error {
			return l.Task.Send(apptask.Message{Tag: "LOCATION_NOW"})
		},
		"START_TASK": func(params []string) error {
			dwell := dispatch.GetParamValue(params, 1, 10, 3600, int(l.Task.DwellSeconds()))
			l.Task.SetDwellSeconds(int64(dwell))
			return nil
		},
		"STOP_TASK": func(params []string) error {
			l.stopCurrent.Store(true)
			return nil
		},
	}
}

// keepGoing cancels only the in-flight acquisition when stopCurrent is
// set; the task loop's own running/exit state already gates whether
// runOnce is invoked at all.
func (l *Location) keepGoing() bool {
	return !l.stopCurrent.Load()
}

func (l *Location) runOnce(ctx context.Context) {
	release, ok := l.Task.TryAcquireWork()
	if !ok {
		return
	}
	defer release()

	fix, err := l.session.GNSSFix(ctx, l.keepGoing)
	// the stop flag only cancels the acquisition that was in flight
	// when it was set; clear it here so later iterations are unaffected
	l.stopCurrent.Store(false)
	if err != nil {
		logging.Warn("gnss fix failed or timed out", "err", err)
		return
	}

	payload := formatLocation(fix)
	topic := sampleTopic(l.topicHeader, l.imei, "Location")
	if err := l.publisher.Publish(topic, payload, 1, false); err != nil {
		logging.Warn("location publish failed", "err", err)
	}
}

func formatLocation(f modem.Fix) string {
	lat := formatSignedFraction(f.LatitudeE7)
	lon := formatSignedFraction(f.LongitudeE7)
	return fmt.Sprintf(
		`{"Timestamp":"%s","Location":{"Altitude":%d,"Latitude":%s,"Longitude":%s,"Accuracy":%d,"Speed":%d,"utcTime":"%d"}}`,
		time.Now().UTC().Format("15:04:05.000"),
		f.AltitudeMM, lat, lon, f.AccuracyMM, f.SpeedMMPS, f.UTCUnix,
	)
}

// formatSignedFraction renders a value scaled by 1e7 as a signed
// integer part plus a 7-digit fraction, e.g. -1234567 -> "-0.1234567".
func formatSignedFraction(scaled int64) string {
	sign := ""
	if scaled < 0 {
		sign = "-"
		scaled = -scaled
	}
	whole := scaled / 10_000_000
	frac := scaled % 10_000_000
	return fmt.Sprintf("%s%d.%07d", sign, whole, frac)
}

func (l *Location) Finalize() error {
	return l.session.GNSSClose(context.Background())
}
