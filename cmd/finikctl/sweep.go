package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/platform/db"
	"github.com/studkg/cashier/pkg/logger"
)

func sweepCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired referral links and expire old bonus credits once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			gdb, err := db.NewDB(log, cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}

			res, err := referral.NewService(cfg, gdb, log).RunSweep(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated referrals: %d\nexpired bonuses: %d\n",
				res.DeactivatedReferrals, res.ExpiredBonuses)
			return nil
		},
	}
}
