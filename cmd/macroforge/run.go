package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/logging"
	"github.com/nerrad567/macroforge-core/internal/macro"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

// progressBuffer is the CLI's status stream subscription depth.
const progressBuffer = 64

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Run one script against the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := macro.LoadScript(args[0])
			if err != nil {
				return err
			}
			c, err := cliCore(cmd, coreOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := runScript(cmd.Context(), c, script, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return resultError(res)
		},
	}
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <queue.yaml>",
		Short: "Run a queue of scripts in order",
		Long: `Run the scripts listed in a queue document. Entries ending in .yaml or
.yml are loaded relative to the queue file; other entries name stored scripts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := queue.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			c, err := cliCore(cmd, coreOptions{scriptsDir: filepath.Dir(args[0])})
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			stop := printProgress(c.bus, out)
			p, err := c.sequencer.Run(cmd.Context(), *def)
			stop()
			if err != nil {
				return err
			}
			if err := writeYAML(out, summarizeQueue(p)); err != nil {
				return err
			}
			if p.Status != queue.StatusCompleted {
				return fmt.Errorf("queue %s", p.Status)
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Check a script, background or queue document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			summary, err := validateFile(kind, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().String("kind", "script", "Document kind: script, background, queue")
	return cmd
}

// validateFile parses and validates path as the given document kind.
func validateFile(kind, path string) (string, error) {
	switch kind {
	case "script":
		s, err := macro.LoadScript(path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ok: script %q, %d steps", s.Name, len(s.Steps)), nil
	case "background":
		set, err := background.LoadActionSet(path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ok: background set %q, %d actions (%d enabled)", set.Name, len(set.Actions), len(set.Enabled())), nil
	case "queue":
		def, err := queue.LoadDefinition(path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ok: queue with %d entries", len(def.Entries)), nil
	default:
		return "", fmt.Errorf("unknown kind %q (use script, background or queue)", kind)
	}
}

// cliCore loads config for a one-shot command. Logs go to stderr so stdout
// carries only command output.
func cliCore(cmd *cobra.Command, opts coreOptions) (*core, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Output = "stderr"
	log := logging.New(cfg.Logging, version)
	return newCore(cmd.Context(), cfg, log, opts)
}

// runScript starts script, prints its status events and returns the final
// result. Ending ctx cancels the run.
func runScript(ctx context.Context, c *core, script *macro.Script, out io.Writer) (macro.RunResult, error) {
	stop := printProgress(c.bus, out)
	defer stop()

	h, err := c.engine.Start(ctx, script)
	if err != nil {
		return macro.RunResult{}, err
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
	}
	res, err := h.Wait(context.Background())
	if err != nil {
		return res, err
	}
	stop()
	return res, writeYAML(out, summarize(res))
}

// resultError turns a non-completed run into a command error.
func resultError(res macro.RunResult) error {
	switch res.Status {
	case macro.StatusCompleted:
		return nil
	case macro.StatusCancelled:
		return errors.New("run cancelled")
	default:
		return fmt.Errorf("run failed: %s", res.Reason)
	}
}

// printProgress prints status events until the returned stop func is called.
// stop is idempotent and waits for the printer to drain.
func printProgress(bus *events.Bus, out io.Writer) func() {
	ch, unsubscribe := bus.Subscribe(progressBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fmt.Fprintln(out, formatEvent(ev))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

func formatEvent(ev events.Event) string {
	line := fmt.Sprintf("%s [%s] %s %s", ev.Time.Format(time.TimeOnly), ev.Kind.Topic(), ev.Subject, ev.State)
	if ev.Step != nil {
		line += fmt.Sprintf(" step=%d", *ev.Step)
	}
	if ev.Reason != "" {
		line += ": " + ev.Reason
	}
	return line
}

// runSummary is the YAML shape printed after a run.
type runSummary struct {
	RunID      string         `yaml:"run_id"`
	Script     string         `yaml:"script"`
	Status     string         `yaml:"status"`
	Reason     string         `yaml:"reason,omitempty"`
	FailedStep *int           `yaml:"failed_step,omitempty"`
	Duration   string         `yaml:"duration"`
	Stats      map[string]int `yaml:"stats,omitempty"`
}

func summarize(res macro.RunResult) runSummary {
	s := runSummary{
		RunID:  res.RunID,
		Script: res.ScriptName,
		Status: string(res.Status),
		Reason: res.Reason,
		Stats:  res.Stats.Map(),
	}
	if res.FailedStep >= 0 && res.Status == macro.StatusFailed {
		step := res.FailedStep
		s.FailedStep = &step
	}
	if res.EndedAt != nil {
		s.Duration = res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond).String()
	}
	return s
}

// queueSummary is the YAML shape printed after a queue.
type queueSummary struct {
	QueueID string              `yaml:"queue_id"`
	Policy  string              `yaml:"policy"`
	Status  string              `yaml:"status"`
	Entries []queueEntrySummary `yaml:"entries"`
}

type queueEntrySummary struct {
	Script   string `yaml:"script"`
	State    string `yaml:"state"`
	Runs     int    `yaml:"runs"`
	Failures int    `yaml:"failures,omitempty"`
	Reason   string `yaml:"reason,omitempty"`
}

func summarizeQueue(p queue.Progress) queueSummary {
	s := queueSummary{QueueID: p.ID, Policy: p.Policy, Status: p.Status}
	for _, e := range p.Entries {
		s.Entries = append(s.Entries, queueEntrySummary{
			Script:   e.Script,
			State:    string(e.State),
			Runs:     e.Runs,
			Failures: e.Failures,
			Reason:   e.Reason,
		})
	}
	return s
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}
