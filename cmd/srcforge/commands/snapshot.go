package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/srcforge/pkg/config"
	"github.com/Sumatoshi-tech/srcforge/pkg/snapshot"
)

func newSnapshotCommand(a *app) *cobra.Command {
	var input, dir string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage incremental snapshots",
	}

	cmd.PersistentFlags().StringVar(&input, "input", "", "Compiled archive the snapshot belongs to")
	cmd.PersistentFlags().StringVar(&dir, "snapshot-dir", "", "Snapshot directory (default: config or ~/.srcforge/snapshots)")

	manager := func() (*snapshot.Manager, error) {
		if input == "" {
			return nil, fmt.Errorf("%w: --input is required", ErrMissingPath)
		}

		base := dir
		if base == "" {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return nil, err
			}

			base = cfg.Incremental.SnapshotDir
		}

		if base == "" {
			base = snapshot.DefaultDir()
		}

		return snapshot.NewManager(base, snapshot.KeyFor(input)), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Drop the retained snapshot of an input",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := manager()
				if err != nil {
					return err
				}

				existed := m.Exists()

				err = m.Clear()
				if err != nil {
					return err
				}

				if a.quiet {
					return nil
				}

				if !existed {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "no snapshot for %s\n", input)

					return err
				}

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", m.Dir())

				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Describe the retained snapshot of an input",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := manager()
				if err != nil {
					return err
				}

				meta, err := m.LoadMetadata()
				if err != nil {
					return err
				}

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d units, fingerprint %q, created %s\n",
					meta.InputPath, meta.Units, meta.Fingerprint, createdAgo(meta.CreatedAt))

				return err
			},
		},
	)

	return cmd
}

func createdAgo(stamp string) string {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return stamp
	}

	return humanize.Time(t)
}
