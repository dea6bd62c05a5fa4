package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/floorline/internal/timecard"
)

func newStationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "station",
		Short: "Station commands",
	}

	cmd.AddCommand(newStationBoardCmd())
	return cmd
}

func newStationBoardCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print the live station board",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			rows, err := timecard.StationBoard(gormDB, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, row := range rows {
				if row.SessionID == 0 {
					fmt.Fprintf(out, "%-20s free\n", row.StationName)
					continue
				}
				state := "held"
				if row.GracePeriod {
					state = "grace"
				}
				status := row.CurrentStatus
				if status == "" {
					status = "(no status)"
				}
				fmt.Fprintf(out, "%-20s %-5s worker=%s status=%s production=%s\n",
					row.StationName, state, row.WorkerID, status,
					row.Summary.Production.Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "floorline.yaml", "path to Floorline config file")
	return cmd
}
