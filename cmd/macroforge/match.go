package main

import (
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/macroforge-core/internal/device"
	"github.com/nerrad567/macroforge-core/internal/matcher"
)

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <frame.png> <template.png>",
		Short: "Match a template against a saved screenshot",
		Long: `Run the template matcher offline, with the configured matching settings,
to tune thresholds and regions before putting an image step in a script.`,
		Args: cobra.ExactArgs(2),
		RunE: runMatch,
	}
	cmd.Flags().Float64("threshold", 0, "Confidence threshold (default matching.confidence_threshold)")
	cmd.Flags().IntSlice("region", nil, "Search region x,y,width,height")
	cmd.Flags().Bool("all", false, "Report every non-overlapping match")
	cmd.Flags().Int("max", 10, "Maximum matches with --all (0 = unlimited)")
	return cmd
}

// matchReport is the YAML shape printed by match.
type matchReport struct {
	Template  string        `yaml:"template"`
	Threshold float64       `yaml:"threshold"`
	Found     bool          `yaml:"found"`
	Matches   []matchResult `yaml:"matches"`
}

type matchResult struct {
	X     int     `yaml:"x"`
	Y     int     `yaml:"y"`
	Score float64 `yaml:"score"`
	Scale float64 `yaml:"scale"`
	Found bool    `yaml:"found"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading frame: %w", err)
	}
	frame, err := device.DecodeFrame(data)
	if err != nil {
		return err
	}
	tmpl, err := matcher.LoadTemplate(args[1])
	if err != nil {
		return err
	}

	opts := matcher.Options{
		Threshold: cfg.Matching.ConfidenceThreshold,
		Grayscale: cfg.Matching.UseGrayscale,
		Scales:    cfg.Matching.Scales,
	}
	if t, _ := cmd.Flags().GetFloat64("threshold"); t > 0 {
		opts.Threshold = t
	}
	region, _ := cmd.Flags().GetIntSlice("region")
	if len(region) > 0 {
		if len(region) != 4 {
			return fmt.Errorf("--region needs x,y,width,height, got %d values", len(region))
		}
		r := image.Rect(region[0], region[1], region[0]+region[2], region[1]+region[3])
		opts.Region = &r
	}

	report := matchReport{Template: args[1], Threshold: opts.Threshold}
	var results []matcher.Result
	if all, _ := cmd.Flags().GetBool("all"); all {
		limit, _ := cmd.Flags().GetInt("max")
		results, err = matcher.FindAll(cmd.Context(), frame, tmpl, opts, limit)
	} else {
		var res matcher.Result
		res, err = matcher.Match(cmd.Context(), frame, tmpl, opts)
		results = []matcher.Result{res}
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		report.Found = report.Found || r.Found
		report.Matches = append(report.Matches, matchResult{
			X:     r.Location.X,
			Y:     r.Location.Y,
			Score: r.Score,
			Scale: r.Scale,
			Found: r.Found,
		})
	}
	return writeYAML(cmd.OutOrStdout(), report)
}
