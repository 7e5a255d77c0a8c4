package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nku/internal/fusion"
	"nku/internal/fusion/mqttsource"
	"nku/internal/logging"
	"nku/internal/translate"
	"nku/internal/types"
	"nku/internal/ux"
)

var (
	triageInput string
	triageLang  string
	triagePlain bool
	triageJSON  bool
)

// triageCmd runs one screening end to end.
var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Screen a patient and print the triage report",
	Long: `Fuses the detector readings, runs on-device reasoning when the device allows
it, and prints the assessment. Any failure on the model path falls back to
rule-based screening.

Readings come from the --input file, or from the MQTT broker when
sensors.mqtt.enabled is set. Symptoms and pregnancy context always come from
the file.

Example:
  nku triage --input patient.yaml --lang twi`,
	RunE: runTriage,
}

func init() {
	triageCmd.Flags().StringVarP(&triageInput, "input", "i", "", "Snapshot YAML file (required)")
	triageCmd.Flags().StringVarP(&triageLang, "lang", "l", "", "Patient language (default: file, then preferences)")
	triageCmd.Flags().BoolVar(&triagePlain, "plain", false, "Print a plain-text report without progress view")
	triageCmd.Flags().BoolVar(&triageJSON, "json", false, "Print the assessment as JSON")
	_ = triageCmd.MarkFlagRequired("input")
}

func runTriage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	file, err := loadSnapshotFile(triageInput)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	lang, err := resolveLanguage(triageLang, file.Language, a.prefs.Get().Language)
	if err != nil {
		return err
	}

	detectors := file.detectors()
	if cfg.Sensors.MQTT.Enabled {
		src, err := connectMQTT(ctx)
		if err != nil {
			return err
		}
		defer src.Close()
		detectors = src.Detectors()
	}

	f := fusion.New(detectors, inclusionThresholds())
	f.SetSymptoms(file.Symptoms)
	f.SetPregnancy(file.Pregnancy)
	snapshot := f.Update(ctx)
	if fusion.HasHighRiskIndicators(snapshot) {
		logging.Fusion("high-risk indicators present in snapshot")
	}

	plain := triagePlain || a.prefs.Get().Plain || triageJSON
	out := cmd.OutOrStdout()

	var assessment types.ClinicalAssessment
	assess := func() { assessment = a.engine.Assess(ctx, snapshot, lang) }
	if !plain && isTerminal(os.Stderr) {
		if err := ux.Follow(os.Stderr, a.cycle, ux.DefaultStyles(), assess); err != nil {
			logging.CLIDebug("progress view: %v", err)
		}
	} else {
		assess()
	}

	a.prefs.RecordAssessment(assessment.Source)
	if err := a.prefs.Save(); err != nil {
		logging.CLIDebug("saving preferences: %v", err)
	}

	return printAssessment(out, assessment, snapshot, plain)
}

func printAssessment(out io.Writer, a types.ClinicalAssessment, s types.VitalsSnapshot, plain bool) error {
	switch {
	case triageJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	case plain:
		_, err := fmt.Fprint(out, ux.Plain(a, s))
		return err
	default:
		report, err := ux.RenderReport(a, s, ux.DefaultStyles(), 80)
		if err != nil {
			logging.CLIDebug("styled report failed, printing plain: %v", err)
			report = ux.Plain(a, s)
		}
		_, err = fmt.Fprint(out, report)
		return err
	}
}

// resolveLanguage picks the first non-empty code of flag, file and
// preference, and normalizes it.
func resolveLanguage(codes ...string) (string, error) {
	for _, c := range codes {
		if c != "" {
			return translate.NormalizeLanguage(c)
		}
	}
	return translate.WorkingLanguage, nil
}

func inclusionThresholds() map[types.Modality]float64 {
	out := make(map[types.Modality]float64, len(cfg.Fusion.InclusionThresholds))
	for name, th := range cfg.Fusion.InclusionThresholds {
		m, err := types.ParseModality(name)
		if err != nil {
			logging.FusionWarn("ignoring threshold for %s: %v", name, err)
			continue
		}
		out[m] = th
	}
	return out
}

// connectMQTT connects to the broker and waits for retained readings.
func connectMQTT(ctx context.Context) (*mqttsource.Source, error) {
	mc := cfg.Sensors.MQTT
	src := mqttsource.New(mqttsource.Options{
		Broker:      mc.Broker,
		ClientID:    mc.ClientID,
		TopicPrefix: mc.TopicPrefix,
		MaxAge:      5 * time.Minute,
	})
	if err := src.Connect(ctx); err != nil {
		return nil, err
	}

	reported, err := settleReadings(ctx, cfg.GetMQTTSettle(), src.Reported)
	if err != nil {
		src.Close()
		return nil, err
	}
	logging.FusionDebug("mqtt settle done, %d/%d modalities reported, %d messages dropped",
		reported, len(types.AllModalities), src.Dropped())
	return src, nil
}

// settleReadings samples the reported-modality count over the settle
// window and returns the last count. Cancellation discards the window.
func settleReadings(ctx context.Context, settle time.Duration, reported func() int) (int, error) {
	counts, err := fusion.CaptureWindow(ctx, settle, settle/10, func(context.Context) (int, error) {
		return reported(), nil
	})
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return reported(), nil
	}
	return counts[len(counts)-1], nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
