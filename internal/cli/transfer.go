package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"koinonia/internal/export"
)

func newExportCmd(app *App) *cobra.Command {
	var includeChecked bool
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the list as plain text (children indented)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			text := export.FormatText(s.store.Items(), includeChecked)
			if out == "" || out == "-" {
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}
			if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeChecked, "include-checked", false, "Include checked items")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Add items from plain text (indented lines nest under the line above)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var b []byte
			var err error
			if len(args) == 0 || args[0] == "-" {
				b, err = io.ReadAll(cmd.InOrStdin())
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			var lastRoot *string
			added := 0
			for _, line := range export.ParseText(string(b)) {
				var pid *string
				if line.Nested && lastRoot != nil {
					pid = lastRoot
				}
				it, ok := s.store.Add(line.Name, false, pid)
				if !ok {
					continue
				}
				added++
				if !line.Nested {
					id := it.ID
					lastRoot = &id
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d item(s)\n", added)
			return s.save(cmd.Context())
		},
	}
	return cmd
}
