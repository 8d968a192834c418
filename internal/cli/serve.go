package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"koinonia/internal/config"
	"koinonia/internal/replmap"
	"koinonia/internal/sync"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string
	var noPersist bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a sync hub for replicas to exchange updates through",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var persist *replmap.SQLiteStore
			if !noPersist {
				dataDir := app.DataDir
				if dataDir == "" {
					var err error
					dataDir, err = config.Dir()
					if err != nil {
						return err
					}
				}
				db := replmap.SQLiteStore{Dir: dataDir}
				if err := db.Ensure(); err != nil {
					return fmt.Errorf("data dir: %w", err)
				}
				persist = &db
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hub listening on %s\n", addr)
			return sync.Serve(addr, persist)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "Listen address")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "Keep room state in memory only")
	return cmd
}
