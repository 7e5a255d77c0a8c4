package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nku/internal/translate"
	"nku/internal/ux"
)

// prefsCmd manages device preferences
var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change device preferences",
	RunE:  runPrefsShow,
}

var prefsLanguageCmd = &cobra.Command{
	Use:   "set-language <code>",
	Short: "Set the default patient language",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsLanguage,
}

var prefsPlainCmd = &cobra.Command{
	Use:   "set-plain <true|false>",
	Short: "Always print plain-text reports",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsPlain,
}

func init() {
	prefsCmd.AddCommand(prefsLanguageCmd, prefsPlainCmd)
}

func loadPrefs() (*ux.PreferencesManager, error) {
	pm := ux.NewPreferencesManager(prefsDir)
	if err := pm.Load(); err != nil {
		return nil, err
	}
	return pm, nil
}

func runPrefsShow(cmd *cobra.Command, args []string) error {
	pm, err := loadPrefs()
	if err != nil {
		return err
	}
	p := pm.Get()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Language:    %s (%s)\n", p.Language, translate.LanguageName(p.Language))
	fmt.Fprintf(out, "Plain:       %v\n", p.Plain)
	fmt.Fprintf(out, "Assessments: %d (model %d, rule-based %d)\n", p.Metrics.Assessments, p.Metrics.ModelAssessments, p.Metrics.RuleAssessments)
	fmt.Fprintf(out, "Supported:   %s\n", strings.Join(translate.SupportedLanguages(), ", "))
	return nil
}

func runPrefsLanguage(cmd *cobra.Command, args []string) error {
	pm, err := loadPrefs()
	if err != nil {
		return err
	}
	if err := pm.SetLanguage(args[0]); err != nil {
		return err
	}
	if err := pm.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default language set to %s\n", pm.Get().Language)
	return nil
}

func runPrefsPlain(cmd *cobra.Command, args []string) error {
	plain, err := strconv.ParseBool(args[0])
	if err != nil {
		return fmt.Errorf("expected true or false, got %q", args[0])
	}
	pm, err := loadPrefs()
	if err != nil {
		return err
	}
	pm.SetPlain(plain)
	return pm.Save()
}
