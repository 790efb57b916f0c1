package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var (
	emergencyForce  bool
	emergencyNotify bool
)

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Inspect or operate the emergency stop",
}

var emergencyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether trading is halted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().EmergencyStatus()
	},
}

var emergencyStopCmd = &cobra.Command{
	Use:   "stop <reason...>",
	Short: "Halt all trading",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().EmergencyStop(strings.Join(args, " "), emergencyNotify)
	},
}

var emergencyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Resume trading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().EmergencyClear(emergencyForce)
	},
}

func init() {
	emergencyClearCmd.Flags().BoolVar(&emergencyForce, "force", false, "Remove the marker files as well")
	emergencyStopCmd.Flags().BoolVar(&emergencyNotify, "notify", false, "Send the emergency notification from this command (when no daemon is running)")
	emergencyCmd.AddCommand(emergencyStatusCmd, emergencyStopCmd, emergencyClearCmd)
}
