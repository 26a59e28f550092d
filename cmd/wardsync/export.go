package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sync diagnostics or back up the database",
	Example: `  wardsync export diagnostics --out queue.json
  wardsync export backup /media/usb/wardsync.db`,
}

var exportDiagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Write the pending queue and stuck changes as JSON",
	Args:  cobra.NoArgs,
	RunE:  runExportDiagnostics,
}

var exportBackupCmd = &cobra.Command{
	Use:   "backup <dest>",
	Short: "Copy the local database to dest",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportBackup,
}

var exportOut string

func init() {
	exportDiagnosticsCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")

	exportCmd.AddCommand(exportDiagnosticsCmd)
	exportCmd.AddCommand(exportBackupCmd)
}

func runExportDiagnostics(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := client.ExportDiagnostics(cmd.Context(), w); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if exportOut != "" {
		printSuccess(cmd.ErrOrStderr(), "Diagnostics written to %s", exportOut)
	}
	return nil
}

func runExportBackup(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	dest := args[0]
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%s already exists", dest)
	}
	if err := client.Store().Backup(cmd.Context(), dest); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"backup": dest})
	}
	printSuccess(cmd.OutOrStdout(), "Backed up to %s", dest)
	return nil
}
