package events

import (
	"fmt"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/mqtt"
)

// Controller executes remote commands.
type Controller interface {
	StopAll()
	CancelRun(runID string) error
	PauseRun(runID string) error
	ResumeRun(runID string) error
	PauseBackground(name string) error
	ResumeBackground(name string) error
	CancelQueue() error
}

// MQTTSubscriber is the subset of *mqtt.Client used by SubscribeCommands.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeCommands routes macroforge/command/# messages to ctrl.
// Unknown command topics are ignored.
func SubscribeCommands(client MQTTSubscriber, qos byte, ctrl Controller) error {
	return client.Subscribe(mqtt.Topics{}.AllCommands(), qos, func(topic string, _ []byte) error {
		cmd, ok := mqtt.ParseCommand(topic)
		if !ok {
			return nil
		}
		return Dispatch(cmd, ctrl)
	})
}

// Dispatch runs one parsed command against ctrl.
func Dispatch(cmd mqtt.Command, ctrl Controller) error {
	switch cmd.Action {
	case "stop-all":
		ctrl.StopAll()
		return nil
	case "cancel-run":
		return ctrl.CancelRun(cmd.RunID)
	case "pause-run":
		return ctrl.PauseRun(cmd.RunID)
	case "resume-run":
		return ctrl.ResumeRun(cmd.RunID)
	case "pause-background":
		return ctrl.PauseBackground(cmd.Name)
	case "resume-background":
		return ctrl.ResumeBackground(cmd.Name)
	case "cancel-queue":
		return ctrl.CancelQueue()
	default:
		return fmt.Errorf("unknown command %q", cmd.Action)
	}
}
