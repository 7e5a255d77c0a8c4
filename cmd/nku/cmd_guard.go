package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"nku/internal/guard"
)

var guardReport bool

// guardCmd exposes the text boundary for manual checks
var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Run text through the input or output guard",
	Long: `Run text through the same guard the triage pipeline uses.

Text is taken from the arguments, or from stdin when no arguments are given.`,
}

var guardSanitizeCmd = &cobra.Command{
	Use:   "sanitize [text...]",
	Short: "Sanitize patient-entered text",
	RunE:  runGuardSanitize,
}

var guardCheckOutputCmd = &cobra.Command{
	Use:   "check-output [text...]",
	Short: "Validate model output and print its sanitized form",
	RunE:  runGuardCheckOutput,
}

func init() {
	guardSanitizeCmd.Flags().BoolVar(&guardReport, "report", false, "Also print detection counts")
	guardCmd.AddCommand(guardSanitizeCmd, guardCheckOutputCmd)
}

func guardInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if in == nil {
		in = os.Stdin
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func runGuardSanitize(cmd *cobra.Command, args []string) error {
	text, err := guardInput(cmd, args)
	if err != nil {
		return err
	}
	g := guard.NewWithLimits(cfg.Guard.MaxInputChars, cfg.Guard.MaxOutputChars)
	rep := g.Inspect(text)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, rep.Text)

	if guardReport {
		cats := make([]string, 0, len(rep.Detections))
		for c, n := range rep.Detections {
			if n > 0 {
				cats = append(cats, c)
			}
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(out, "  %s: %d\n", c, rep.Detections[c])
		}
		if rep.Truncated {
			fmt.Fprintf(out, "  truncated to %d chars\n", cfg.Guard.MaxInputChars)
		}
	}
	return nil
}

func runGuardCheckOutput(cmd *cobra.Command, args []string) error {
	text, err := guardInput(cmd, args)
	if err != nil {
		return err
	}
	g := guard.NewWithLimits(cfg.Guard.MaxInputChars, cfg.Guard.MaxOutputChars)
	if !g.ValidateOutput(text) {
		return fmt.Errorf("output rejected by guard")
	}
	fmt.Fprintln(cmd.OutOrStdout(), g.SanitizeOutput(text))
	return nil
}
