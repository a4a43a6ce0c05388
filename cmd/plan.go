package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/exportmon/exportmon/config"
	"github.com/exportmon/exportmon/core/forecast"
	"github.com/exportmon/exportmon/core/planner"
)

var (
	planInput  string
	planBudget float64
	planMode   string
)

// planCmd previews a discharge plan offline from a saved forecast payload,
// without touching the broker or the battery.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview a plan from a saved forecast payload",
	RunE:  planPreview,
}

func init() {
	planCmd.Flags().StringVarP(&planInput, "input", "i", "", "forecast payload file (JSON)")
	planCmd.Flags().Float64VarP(&planBudget, "budget", "b", 0, "energy budget in kWh")
	planCmd.Flags().StringVarP(&planMode, "mode", "m", "", "planning mode: dirtiest or cleanest")
	_ = planCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(planCmd)
}

func planPreview(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raw, err := os.ReadFile(planInput)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	var payload forecast.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Not a payload document: treat the file as the raw state value.
		payload = forecast.Payload{State: string(raw)}
	}
	periods, ok := forecast.Parse(payload)
	if !ok {
		return fmt.Errorf("no forecast periods in %s", planInput)
	}

	modeName := planMode
	if modeName == "" {
		modeName = cfg.Planner.DischargeMode
	}
	mode, err := planner.ModeFromString(modeName)
	if err != nil {
		return err
	}

	budget := planBudget
	if budget == 0 {
		// Default to a full pack's worth of export.
		budget = cfg.Battery.BatteryCapacityKWh
	}

	now := time.Now()
	from, to := planner.TodayHorizon(now)
	plan := planner.Allocate(periods, budget, cfg.Battery.DischargePowerKW, mode, planner.Constraints{
		NotBefore:   from,
		NotAfter:    to,
		WindowStart: cfg.Battery.ExportWindowStart,
		WindowEnd:   cfg.Battery.ExportWindowEnd,
		SlotMinutes: cfg.Planner.SlotMinutes,
	}, 1)

	out, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
