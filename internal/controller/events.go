package controller

import (
	"log"

	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

// Hook observes phase transitions. The progress event stream is the only
// side effect visible to callers before the terminal report.
type Hook interface {
	OnTransition(ev task.ProgressEvent)
}

// ChannelHook bridges controller progress to a channel consumer.
type ChannelHook struct{ Ch chan<- task.ProgressEvent }

func (h ChannelHook) OnTransition(ev task.ProgressEvent) {
	h.Ch <- ev
}

// LogHook prints transitions with the standard logger.
type LogHook struct{}

func (LogHook) OnTransition(ev task.ProgressEvent) {
	log.Printf("[%s] iteration=%d %s", ev.Phase, ev.Iteration, ev.Message)
}
