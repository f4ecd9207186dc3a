package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-projections",
	Short: "Rebuild every order read model from the event store",
	RunE:  runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rebuilt, err := a.svc.RebuildAllProjections(context.Background())
	if err != nil {
		return err
	}

	log.Info().Int("rebuilt", rebuilt).Msg("Projection rebuild finished")
	return nil
}
