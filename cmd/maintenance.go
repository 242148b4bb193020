/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mautops/qms-gin/internal/api"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/config"
	"github.com/mautops/qms-gin/internal/database"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/mautops/qms-gin/internal/scheduler"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// openEngine 连接数据库并创建不发送通知的引擎
func openEngine(cfg *config.Config) (*gorm.DB, *engine.Engine, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	opts := engine.OptionsFromConfig(cfg)
	opts.Logger = api.GetLogger()
	eng, err := engine.New(db, opts)
	if err != nil {
		database.Close(db)
		return nil, nil, err
	}
	return db, eng, nil
}

// recoverCmd 重放或回滚崩溃遗留的转换
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay transitions interrupted by a crash",
	Long: `Find transition journal entries that were written but never applied,
verify their audit chain and replay them. Entries whose audit chain does not
match are rolled back and the record is quarantined.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		n, err := eng.RecoverPending(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to recover pending transitions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %d pending transitions\n", n)
		return nil
	},
}

// verifyCmd 校验审计哈希链
var verifyCmd = &cobra.Command{
	Use:   "verify [record-id...]",
	Short: "Verify the audit hash chain of records",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if len(args) == 0 && !all {
			return fmt.Errorf("record IDs or --all are required")
		}
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		ids := args
		if all {
			ids, err = allRecordIDs(cmd, eng)
			if err != nil {
				return err
			}
		}

		failed := 0
		for _, id := range ids {
			n, err := eng.VerifyHistory(cmd.Context(), id)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAIL\t%s\n", id, engine.CodeOf(err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tOK\t%d entries\n", id, n)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d records failed verification", failed, len(ids))
		}
		return nil
	},
}

func allRecordIDs(cmd *cobra.Command, eng *engine.Engine) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		records, total, err := eng.ListRecords(cmd.Context(), &repository.RecordFilter{Page: page, PageSize: 100, SortBy: "record_id", Order: "asc"})
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			ids = append(ids, r.RecordID)
		}
		if len(records) == 0 || int64(len(ids)) >= total {
			return ids, nil
		}
	}
}

// sweepCmd 执行一次到期扫描
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Flag overdue periodic reviews and CAPAs once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer database.Close(db)

		sweeper := scheduler.NewSweeper(db, time.Duration(cfg.Scheduler.SweepInterval)*time.Second, api.GetLogger())
		report, err := sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		return writeReport(cmd.OutOrStdout(), output, report)
	},
}

// writeReport 以 json 或 yaml 输出报告
func writeReport(w io.Writer, format string, report interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// fgaModelCmd 输出 OpenFGA 权限模型
var fgaModelCmd = &cobra.Command{
	Use:   "fga-model",
	Short: "Print the OpenFGA authorization model",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(fgaModelCmd)

	verifyCmd.Flags().Bool("all", false, "Verify every record")
	sweepCmd.Flags().StringP("output", "o", "json", "Report format: json or yaml")
}
