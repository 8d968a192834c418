package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"koinonia/internal/config"
	"koinonia/internal/replmap"
)

func newListsCmd(app *App) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "lists",
		Short: "Show recently opened lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return printSavedRooms(cmd, app)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			recent := cfg.SortedRecent()
			if len(recent) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no lists yet")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, r := range recent {
				opened := time.UnixMilli(r.LastAccessed).Format("2006-01-02 15:04")
				fmt.Fprintf(w, "%s\t%d item(s)\t%s\n", r.RoomID, r.ItemCount, opened)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Show every list with local data, not just recent ones")
	cmd.AddCommand(newListsForgetCmd(app))
	return cmd
}

// printSavedRooms lists rooms straight from the snapshot database, which
// also surfaces lists the recent registry has aged out.
func printSavedRooms(cmd *cobra.Command, app *App) error {
	dataDir := app.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = config.Dir()
		if err != nil {
			return err
		}
	}
	rooms, err := replmap.SQLiteStore{Dir: dataDir}.Rooms(cmd.Context())
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no lists yet")
		return nil
	}
	for _, r := range rooms {
		fmt.Fprintln(cmd.OutOrStdout(), r)
	}
	return nil
}

func newListsForgetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <room>",
		Short: "Drop a list from the recent registry (local data is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.RemoveRecent(args[0])
			return config.Save(cfg)
		},
	}
}
