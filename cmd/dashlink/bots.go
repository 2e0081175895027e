package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rickgao/dashlink/internal/api"
)

func newBotsCmd(opts *rootOptions) *cobra.Command {
	names := make([]string, len(api.BulkActions))
	for i, a := range api.BulkActions {
		names[i] = string(a)
	}

	return &cobra.Command{
		Use:       "bots <" + strings.Join(names, "|") + ">",
		Short:     "Run a bulk bot operation on the backend",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := api.ParseBulkAction(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Backend.AdminToken == "" {
				return errors.New("backend.admin_token is required for bot control")
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			client := newAPIClient(cfg.Backend, uuid.NewString(), logger)
			res, err := client.Bulk(cmd.Context(), action)
			if err != nil {
				return err
			}
			renderBulk(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func renderBulk(w io.Writer, res *api.BulkResult) {
	fmt.Fprintf(w, "%s %s: %d affected\n", okStyle.Render("●"), res.Action, res.Affected)

	ids := make([]string, 0, len(res.Results))
	for id := range res.Results {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		mark := failStyle.Render("unchanged")
		if res.Results[id] {
			mark = okStyle.Render("changed")
		}
		fmt.Fprintln(w, "  "+labelStyle.Render(id)+mark)
	}
}
