package mqtt

import "testing"

func TestTopics(t *testing.T) {
	tp := Topics{}
	tests := []struct {
		got, want string
	}{
		{tp.SystemStatus(), "macroforge/system/status"},
		{tp.RunStatus("r1"), "macroforge/status/run/r1"},
		{tp.BackgroundStatus("heal"), "macroforge/status/background/heal"},
		{tp.QueueStatus("q1"), "macroforge/status/queue/q1"},
		{tp.StopAll(), "macroforge/command/stop-all"},
		{tp.CancelRun("r1"), "macroforge/command/run/r1/cancel"},
		{tp.CancelQueue(), "macroforge/command/queue/cancel"},
		{tp.PauseRun("r1"), "macroforge/command/run/r1/pause"},
		{tp.ResumeRun("r1"), "macroforge/command/run/r1/resume"},
		{tp.PauseBackground("heal"), "macroforge/command/background/heal/pause"},
		{tp.ResumeBackground("heal"), "macroforge/command/background/heal/resume"},
		{tp.AllCommands(), "macroforge/command/#"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		topic string
		want  Command
		ok    bool
	}{
		{"macroforge/command/stop-all", Command{Action: "stop-all"}, true},
		{"macroforge/command/queue/cancel", Command{Action: "cancel-queue"}, true},
		{"macroforge/command/run/abc/cancel", Command{Action: "cancel-run", RunID: "abc"}, true},
		{"macroforge/command/run/abc/pause", Command{Action: "pause-run", RunID: "abc"}, true},
		{"macroforge/command/run/abc/resume", Command{Action: "resume-run", RunID: "abc"}, true},
		{"macroforge/command/background/heal/pause", Command{Action: "pause-background", Name: "heal"}, true},
		{"macroforge/command/background/heal/resume", Command{Action: "resume-background", Name: "heal"}, true},
		{"macroforge/command/background/heal/cancel", Command{}, false},
		{"macroforge/command/background//pause", Command{}, false},
		{"macroforge/command/run/abc/explode", Command{}, false},
		{"macroforge/command/run//cancel", Command{}, false},
		{"macroforge/command/run/abc", Command{}, false},
		{"macroforge/status/run/abc", Command{}, false},
		{"other/command/stop-all", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := ParseCommand(tt.topic)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, %v; want %+v, %v", tt.topic, got, ok, tt.want, tt.ok)
			}
		})
	}
}
