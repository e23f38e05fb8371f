package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/ui"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suppress all new backups until resume",
	Long: `Create the global pause sentinel. Every daemon and manual run
re-checks it immediately before starting, so a pause takes effect even
for backups already debounced.`,
	Run: func(cmd *cobra.Command, args []string) {
		_, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		if err := st.Pause(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitGeneric)
		}
		fmt.Println(ui.Warn("Backups paused (all projects). Run 'checkpoint resume' to re-enable."))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Re-enable backups after a pause",
	Run: func(cmd *cobra.Command, args []string) {
		_, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		if !st.Paused() {
			fmt.Println(ui.Muted("Backups are not paused"))
			return
		}
		if err := st.Resume(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitGeneric)
		}
		fmt.Println(ui.Pass("Backups resumed"))
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
