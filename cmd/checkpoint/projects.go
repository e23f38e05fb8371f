package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/project"
	"github.com/untoldecay/checkpoint/internal/ui"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage the project registry",
	Long: `The registry at ~/.checkpoint/registry.json lists every project
checkpoint manages. The watchdog and 'status' enumerate it; 'now' and
the daemons work on unregistered projects too, but fleet features need
registration.`,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := project.NewRegistry()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		entries, err := reg.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		if len(entries) == 0 {
			fmt.Println(ui.Muted("No projects registered"))
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %s\n", ui.Accent(e.ID), e.Root,
				ui.Muted("registered "+e.RegisteredAt.Format("2006-01-02")))
		}
	},
}

var projectsAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a project (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		backupDir, _ := cmd.Flags().GetString("backup-dir")

		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitGeneric)
		}
		if st, err := os.Stat(abs); err != nil || !st.IsDir() {
			fmt.Fprintf(os.Stderr, "Error: %s is not a directory\n", abs)
			os.Exit(exitGeneric)
		}
		reg, err := project.NewRegistry()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		entry := project.Entry{
			ID:           project.IDForRoot(abs),
			Root:         abs,
			BackupDir:    backupDir,
			RegisteredAt: time.Now(),
		}
		if err := reg.Register(entry); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitGeneric)
		}
		fmt.Println(ui.Pass("Registered " + entry.ID + " at " + abs))
	},
}

var projectsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a project from the registry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := project.NewRegistry()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		if err := reg.Unregister(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitGeneric)
		}
		fmt.Println(ui.Pass("Removed " + args[0] + " (backups on disk are untouched)"))
	},
}

func init() {
	projectsAddCmd.Flags().String("backup-dir", "", "Backup destination for this project")
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsAddCmd)
	projectsCmd.AddCommand(projectsRemoveCmd)
	rootCmd.AddCommand(projectsCmd)
}
