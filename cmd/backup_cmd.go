package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sitememo/internal/backup"
	"github.com/nextlevelbuilder/sitememo/internal/config"
	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/memo"
)

func exportCmd() *cobra.Command {
	var (
		out     string
		encrypt bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memos, templates and positions to a backup file",
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			reply, err := a.call(cmd.Context(), &dispatch.ExportData{})
			exitOnError(err)
			doc := reply.(*dispatch.ExportReply).Data

			key := ""
			if encrypt {
				key, err = backupKey(a.cfg.Backup.Key, "backup.key is not set; the file is sealed with this passphrase")
				exitOnError(err)
			}

			if out == "-" {
				data, err := backup.Encode(doc, key)
				exitOnError(err)
				os.Stdout.Write(data)
				fmt.Println()
				return
			}
			if out == "" {
				out = filepath.Join(config.ExpandHome(a.cfg.Backup.Dir), backup.FileName(time.Now()))
			}
			exitOnError(backup.WriteFile(out, doc, key))

			sum := backup.Summarize(doc)
			fmt.Printf("Exported %d memos, %d templates, %d positions to %s\n", sum.Memos, sum.Templates, sum.Positions, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, or - for stdout (default: backup.dir/sitememo_backup_<date>.json)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "seal the file with backup.key")
	return cmd
}

func importCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a backup file, overwriting the sections it contains",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			a := mustOpenApp(ctx)
			defer a.Close()

			raw, err := os.ReadFile(args[0])
			exitOnError(err)
			key := a.cfg.Backup.Key
			if backup.IsSealed(raw) {
				key, err = backupKey(key, "this backup is encrypted")
				exitOnError(err)
			}
			plain, err := backup.Open(raw, key)
			exitOnError(err)

			reply, err := a.call(ctx, &dispatch.ValidateImport{Data: plain})
			exitOnError(err)
			sum := reply.(*dispatch.ValidateReply).Summary

			fmt.Printf("Backup %s contains %d memos, %d templates, %d positions.\n", args[0], sum.Memos, sum.Templates, sum.Positions)
			if sum.Empty() {
				fmt.Println("Nothing to import.")
				return
			}

			if !yes {
				ok, err := promptConfirm("Overwrite the existing sections with this backup?", false)
				if errors.Is(err, huh.ErrUserAborted) || (err == nil && !ok) {
					fmt.Println("Import cancelled.")
					return
				}
				exitOnError(err)
			}

			reply, err = a.call(ctx, &dispatch.ImportData{Data: json.RawMessage(plain)})
			exitOnError(err)
			got := reply.(*dispatch.ImportReply).Imported
			fmt.Printf("Imported %d memos, %d templates, %d positions.\n", got.Memos, got.Templates, got.Positions)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func migrateCmd() *cobra.Command {
	var (
		purge  bool
		dryRun bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Fold legacy per-origin keys into the unified memo map",
		Run: func(cmd *cobra.Command, args []string) {
			a := mustOpenApp(cmd.Context())
			defer a.Close()

			report, err := a.memos.Migrate(cmd.Context(), memo.MigrateOptions{PurgeLegacy: purge, DryRun: dryRun})
			exitOnError(err)

			if asJSON {
				data, _ := json.MarshalIndent(report, "", "  ")
				fmt.Println(string(data))
				return
			}
			printMigration(report, dryRun)
		},
	}
	cmd.Flags().BoolVar(&purge, "purge-legacy", false, "remove memo_/lastEdited_/position_ keys after migrating")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printMigration(r *memo.MigrationReport, dryRun bool) {
	prefix := ""
	if dryRun {
		prefix = "[dry run] "
	}
	fmt.Printf("%sData format: %s\n", prefix, r.Format)
	fmt.Printf("%sMemos: %d total, %d from legacy keys\n", prefix, r.Total, len(r.Synthesized))
	if len(r.Synthesized) > 0 {
		fmt.Printf("  migrated: %s\n", strings.Join(r.Synthesized, ", "))
	}
	if len(r.Conflicts) > 0 {
		fmt.Printf("  kept unified entry over legacy keys: %s\n", strings.Join(r.Conflicts, ", "))
	}
	if len(r.Purged) > 0 {
		fmt.Printf("%sLegacy keys removed: %d\n", prefix, len(r.Purged))
	}
	if !dryRun && !r.Written && len(r.Purged) == 0 {
		fmt.Println("Nothing to migrate.")
	}
}
