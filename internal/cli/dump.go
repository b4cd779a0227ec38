package cli

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/docmap/docmap/internal/errorkit"
	"github.com/docmap/docmap/port/docstore"
)

func newDumpCommand(opts *options) *cobra.Command {
	var (
		sortKeys []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "dump [collection]",
		Short: "Print the stored documents of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (rErr error) {
			ctx := cmd.Context()
			s, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer errorkit.Finish(&rErr, s.close)

			cfg := spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}
			q := docstore.Query{Sort: docstore.ParseSort(sortKeys...), Limit: limit}
			var n int
			for doc, err := range s.store.Find(ctx, args[0], q) {
				if err != nil {
					return err
				}
				cfg.Fdump(cmd.OutOrStdout(), doc)
				n++
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d document(s) in %s\n", n, args[0])
			return err
		},
	}
	cmd.Flags().StringSliceVar(&sortKeys, "sort", nil, `sort keys, "-" prefixed for descending order`)
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of documents, zero for all")
	return cmd
}
