package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eswgpio",
	Short: "Interrupt-driven GPIO firmware simulation",
	Long: `eswgpio is a host-side simulation of the tsb0 GPIO exercise: periodic
buzzer tasks toggle their output pins until a button edge interrupt wakes
the control task, which suspends or resumes the whole worker group.

Running 'eswgpio' without a subcommand is equivalent to 'eswgpio run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run the 'run' command
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to eswgpio.json config file (default: search up directory tree)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
