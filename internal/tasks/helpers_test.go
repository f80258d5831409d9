package tasks

import (
	"context"

	"github.com/fisaks/cellagent/internal/appstate"
)

func newTestState() *appstate.State {
	s := appstate.New()
	s.SetNetworkUp(true)
	s.SetSignalValid(true)
	return s
}

func contextBG() context.Context { return context.Background() }
