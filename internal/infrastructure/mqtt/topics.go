package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every MacroForge topic.
const TopicPrefix = "macroforge"

// Topics builds MacroForge topic names.
//
//	mqtt.Topics{}.RunStatus("9f1c...")        // macroforge/status/run/9f1c...
//	mqtt.Topics{}.CancelRun("9f1c...")        // macroforge/command/run/9f1c.../cancel
type Topics struct{}

// SystemStatus carries the retained online/offline presence (and the LWT).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Status returns macroforge/status/{kind}/{subject}.
func (Topics) Status(kind, subject string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefix, kind, subject)
}

// RunStatus is the status topic for one engine run.
func (t Topics) RunStatus(runID string) string { return t.Status("run", runID) }

// BackgroundStatus is the status topic for one background action.
func (t Topics) BackgroundStatus(name string) string { return t.Status("background", name) }

// QueueStatus is the progress topic for one queue run.
func (t Topics) QueueStatus(queueID string) string { return t.Status("queue", queueID) }

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/#"
}

// StopAll is the command topic that stops everything.
func (Topics) StopAll() string {
	return TopicPrefix + "/command/stop-all"
}

// CancelRun is the command topic that cancels one run.
func (Topics) CancelRun(runID string) string {
	return fmt.Sprintf("%s/command/run/%s/cancel", TopicPrefix, runID)
}

// PauseRun is the command topic that pauses one run.
func (Topics) PauseRun(runID string) string {
	return fmt.Sprintf("%s/command/run/%s/pause", TopicPrefix, runID)
}

// ResumeRun is the command topic that resumes one run.
func (Topics) ResumeRun(runID string) string {
	return fmt.Sprintf("%s/command/run/%s/resume", TopicPrefix, runID)
}

// PauseBackground is the command topic that pauses one background action.
func (Topics) PauseBackground(name string) string {
	return fmt.Sprintf("%s/command/background/%s/pause", TopicPrefix, name)
}

// ResumeBackground is the command topic that resumes one background action.
func (Topics) ResumeBackground(name string) string {
	return fmt.Sprintf("%s/command/background/%s/resume", TopicPrefix, name)
}

// CancelQueue is the command topic that cancels the active queue.
func (Topics) CancelQueue() string {
	return TopicPrefix + "/command/queue/cancel"
}

// Command identifies a parsed command topic.
type Command struct {
	// Action is one of stop-all, cancel-queue, cancel-run, pause-run,
	// resume-run, pause-background or resume-background.
	Action string
	RunID  string // set for the run commands
	Name   string // background action, set for the background commands
}

// ParseCommand interprets a concrete command topic. ok is false for topics
// outside the command tree or with an unknown shape.
func ParseCommand(topic string) (cmd Command, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !found {
		return Command{}, false
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] == "stop-all":
		return Command{Action: "stop-all"}, true
	case len(parts) == 2 && parts[0] == "queue" && parts[1] == "cancel":
		return Command{Action: "cancel-queue"}, true
	case len(parts) == 3 && parts[0] == "run" && parts[1] != "":
		switch parts[2] {
		case "cancel", "pause", "resume":
			return Command{Action: parts[2] + "-run", RunID: parts[1]}, true
		}
	case len(parts) == 3 && parts[0] == "background" && parts[1] != "":
		switch parts[2] {
		case "pause", "resume":
			return Command{Action: parts[2] + "-background", Name: parts[1]}, true
		}
	}
	return Command{}, false
}
