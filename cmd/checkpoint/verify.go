package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/fsutil"
	"github.com/untoldecay/checkpoint/internal/ui"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-verify the current project's backup artifacts",
	Long: `Walk the backup destination and re-check every artifact:
gzip archives must decompress cleanly, encrypted artifacts must carry a
valid header. Corrupt artifacts are reported, never deleted.`,
	Run: func(cmd *cobra.Command, args []string) {
		entry, _, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		backupDir := backupDirFor(entry)
		if _, err := os.Stat(backupDir); err != nil {
			fmt.Println(ui.Muted("No backups found at " + backupDir))
			return
		}

		checked, corrupt := 0, 0
		for _, sub := range []string{"databases", "archived"} {
			root := filepath.Join(backupDir, sub)
			_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				var verr error
				switch {
				case strings.HasSuffix(path, ".age"):
					verr = backup.VerifyEncrypted(path)
				case strings.HasSuffix(path, ".gz"):
					verr = fsutil.VerifyGzip(path)
				default:
					return nil
				}
				checked++
				if verr != nil {
					corrupt++
					rel, _ := filepath.Rel(backupDir, path)
					fmt.Println(ui.Fail("corrupt: " + rel))
				}
				return nil
			})
		}

		if corrupt > 0 {
			fmt.Println(ui.Fail(fmt.Sprintf("%d of %d artifacts failed verification", corrupt, checked)))
			os.Exit(exitBackup)
		}
		fmt.Println(ui.Pass(fmt.Sprintf("All %d artifacts verified", checked)))
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
