package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var thermalJSON bool

// thermalCmd groups thermal gate commands
var thermalCmd = &cobra.Command{
	Use:   "thermal",
	Short: "Inspect the thermal gate",
}

var thermalStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device temperature and whether inference may run",
	RunE:  runThermalStatus,
}

func init() {
	thermalStatusCmd.Flags().BoolVar(&thermalJSON, "json", false, "Print the status as JSON")
	thermalCmd.AddCommand(thermalStatusCmd)
}

func runThermalStatus(cmd *cobra.Command, args []string) error {
	gate := newGate(cfg)
	st := gate.CheckStatus()
	out := cmd.OutOrStdout()

	if thermalJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	verdict := "inference allowed"
	if !st.Safe {
		verdict = "inference blocked"
	}
	fmt.Fprintf(out, "Temperature: %.1fC (limit %.1fC)\n", st.TemperatureC, gate.Throttle())
	fmt.Fprintf(out, "Status:      %s, %s\n", st.Message, verdict)
	return nil
}
