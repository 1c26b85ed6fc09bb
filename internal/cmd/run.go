package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/privaxy-core/privaxy/internal/config"
)

// AppInjector builds the fully wired App for a ctx-scoped run. It is
// supplied by main's Wire-generated constructor so this package stays
// free of any generated code.
type AppInjector func(ctx context.Context) (*App, func(), error)

// NewRunCommand returns the "run" subcommand: it builds the App via
// newApp and blocks running it until the command's context is
// canceled.
func NewRunCommand(conf *config.Config, newApp AppInjector) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy and its admin API",
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			app, cleanup, err := newApp(cobraCmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			return app.Run(cobraCmd.Context())
		},
	}

	options := append(append([]config.Option{}, config.ProxyOptions...), config.AdminOptions...)
	if err := conf.BindFlags(c.Flags(), options); err != nil {
		return nil, err
	}

	return c, nil
}
