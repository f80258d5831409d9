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

// HousekeepingPauser is the one capability CellScan needs from the
// supervisor: pause/resume the periodic housekeeping loop for the
// duration of a scan, so no other modem operation interleaves with it.
type HousekeepingPauser interface {
	PauseHousekeeping(bool)
}

// CellScan is the one-shot operator scan triggered by START_CELL_SCAN. A
// second START while a scan is in progress is treated as STOP.
type CellScan struct {
	Task *apptask.Task

	session     modem.Session
	state       *appstate.State
	publisher   Publisher
	pauser      HousekeepingPauser
	topicHeader string
	imei        string

	scanning atomic.Bool
	stopFlag atomic.Bool
}

func NewCellScan(session modem.Session, state *appstate.State, publisher Publisher, pauser HousekeepingPauser, topicHeader, imei string) *CellScan {
	return &CellScan{
		Task:        apptask.New(apptask.CellScanTask, "CellScan", 2, 0, false),
		session:     session,
		state:       state,
		publisher:   publisher,
		pauser:      pauser,
		topicHeader: topicHeader,
		imei:        imei,
	}
}

func (c *CellScan) Init() error { return c.Task.Init(func() error { return nil }) }
func (c *CellScan) Run(ctx context.Context) error {
	return c.Task.StartLoop(ctx, c.runOnce)
}

// Commands exposes the CellScanControl handler table. START_CELL_SCAN
// toggles: start when idle, cancel the in-flight scan when running.
func (c *CellScan) Commands() dispatch.Table {
	return dispatch.Table{
		"START_CELL_SCAN": func(params []string) error {
			if c.scanning.Load() {
				c.stopFlag.Store(true)
				return nil
			}
			return c.Task.Send(apptask.Message{Tag: "START_SCAN"})
		},
	}
}

func (c *CellScan) runOnce(ctx context.Context) {
	select {
	case msg := <-c.Task.Receive():
		if msg.Tag == "START_SCAN" {
			c.runScan(ctx)
		}
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
		// re-check the loop's keep-going predicate periodically rather
		// than blocking on the queue forever
	}
}

func (c *CellScan) keepGoing() bool { return !c.stopFlag.Load() }

func (c *CellScan) runScan(ctx context.Context) {
	release, ok := c.Task.TryAcquireWork()
	if !ok {
		return
	}
	defer release()

	c.scanning.Store(true)
	c.stopFlag.Store(false)
	priorPhase := c.state.Phase()
	c.pauser.PauseHousekeeping(true)
	c.state.SetPhase(appstate.PhaseCopsQuery)
	defer func() {
		c.state.SetPhase(priorPhase)
		c.pauser.PauseHousekeeping(false)
		c.scanning.Store(false)
	}()

	if err := c.session.ScanStart(ctx); err != nil {
		logging.Warn("cell scan start failed", "err", err)
		return
	}
	for {
		op, ok, err := c.session.ScanNext(ctx, c.keepGoing)
		if err != nil {
			logging.Warn("cell scan read failed", "err", err)
			return
		}
		if !ok {
			if c.stopFlag.Load() {
				logging.Info("cell scan cancelled")
			}
			return
		}
		payload := formatCellScan(op)
		topic := sampleTopic(c.topicHeader, c.imei, "CellScan")
		if err := c.publisher.Publish(topic, payload, 1, false); err != nil {
			logging.Warn("cell scan publish failed", "err", err)
		}
	}
}

func formatCellScan(op modem.Operator) string {
	return fmt.Sprintf(
		`{"Timestamp":"%s","CellScan":{"Name":"%s","ubxlibRAT":"%s","MCCMNC":"%s"}}`,
		time.Now().UTC().Format("15:04:05.000"), op.Name, op.RAT, op.MCCMNC,
	)
}

func (c *CellScan) Finalize() error { return nil }
