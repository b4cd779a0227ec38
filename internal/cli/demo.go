package cli

import (
	"github.com/spf13/cobra"

	"github.com/docmap/docmap/internal/employees"
	"github.com/docmap/docmap/internal/errorkit"
	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/odm"
)

func newDemoCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the employee directory walkthrough",
		Long: `Saves a boss and an employee, links them both ways
and prints what the manager and underling queries return.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (rErr error) {
			ctx := cmd.Context()
			s, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer errorkit.Finish(&rErr, s.close)

			mapper, err := mapping.NewMapper(s.logger, employees.Mapping())
			if err != nil {
				return err
			}
			ds := odm.New(s.store, mapper,
				odm.WithLogger(s.logger),
				odm.WithMaxDepth(s.cfg.Session.MaxDepth))
			return employees.Walkthrough(ctx, ds, cmd.OutOrStdout())
		},
	}
}
