package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"koinonia/internal/list"
	"koinonia/internal/model"
)

func newItemsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Add, list, and edit items in the current list",
	}
	cmd.AddCommand(newItemsListCmd(app))
	cmd.AddCommand(newItemsAddCmd(app))
	cmd.AddCommand(newItemsToggleCmd(app))
	cmd.AddCommand(newItemsRenameCmd(app))
	cmd.AddCommand(newItemsRmCmd(app))
	cmd.AddCommand(newItemsMoveCmd(app))
	cmd.AddCommand(newItemsClearCmd(app))
	return cmd
}

func newItemsListCmd(app *App) *cobra.Command {
	var showIDs bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the list in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			for _, r := range list.Flatten(s.store.Items(), nil) {
				mark := " "
				if r.Item.Checked {
					mark = "x"
				}
				indent := strings.Repeat("  ", r.Depth)
				line := fmt.Sprintf("%s[%s] %s", indent, mark, r.Item.Name)
				if showIDs {
					line += "  (" + r.Item.ID + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showIDs, "ids", false, "Show item ids")
	return cmd
}

func newItemsAddCmd(app *App) *cobra.Command {
	var parent string
	var checked bool
	cmd := &cobra.Command{
		Use:   "add <name>...",
		Short: "Add one or more items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			var pid *string
			if parent != "" {
				p, err := resolveItem(s, parent)
				if err != nil {
					return err
				}
				pid = &p.ID
			}
			for _, name := range args {
				it, ok := s.store.Add(name, checked, pid)
				if !ok {
					return fmt.Errorf("could not add %q", name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", it.Name, it.ID)
			}
			return s.save(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "Nest under this item (id or unique prefix)")
	cmd.Flags().BoolVar(&checked, "checked", false, "Add already checked")
	return cmd
}

func newItemsToggleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <item>...",
		Short: "Flip checked state (cascades to children)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			for _, arg := range args {
				it, err := resolveItem(s, arg)
				if err != nil {
					return err
				}
				s.store.Toggle(it.ID)
			}
			return s.save(cmd.Context())
		},
	}
}

func newItemsRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <item> <name>",
		Short: "Rename an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			it, err := resolveItem(s, args[0])
			if err != nil {
				return err
			}
			name := args[1]
			s.store.Update(it.ID, list.Updates{Name: &name})
			return s.save(cmd.Context())
		},
	}
}

func newItemsRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <item>...",
		Short: "Delete items (children go with their parent)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			for _, arg := range args {
				it, err := resolveItem(s, arg)
				if err != nil {
					return err
				}
				s.store.Remove(it.ID)
			}
			return s.save(cmd.Context())
		},
	}
}

func newItemsMoveCmd(app *App) *cobra.Command {
	var before string
	var after string
	var parent string

	cmd := &cobra.Command{
		Use:   "move <item>",
		Short: "Reparent and/or reorder an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if before != "" && after != "" {
				return errors.New("provide at most one of --before or --after")
			}
			if before == "" && after == "" && parent == "" {
				return errors.New("nothing to do: provide --parent, --before, or --after")
			}

			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()

			it, err := resolveItem(s, args[0])
			if err != nil {
				return err
			}

			if parent != "" {
				var pid *string
				if parent != "-" {
					p, err := resolveItem(s, parent)
					if err != nil {
						return err
					}
					pid = &p.ID
				}
				if !sameParent(pid, it.ParentID) && !s.store.SetParent(it.ID, pid) {
					return fmt.Errorf("cannot nest %q there", it.Name)
				}
			}

			refArg := before
			if after != "" {
				refArg = after
			}
			if refArg != "" {
				ref, err := resolveItem(s, refArg)
				if err != nil {
					return err
				}
				// Re-read: --parent may have moved it between sibling groups.
				cur, _ := s.store.Get(it.ID)
				order, err := orderRelativeTo(s, cur, ref, after != "")
				if err != nil {
					return err
				}
				s.store.Reorder(it.ID, order)
			}
			return s.save(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Place before this sibling")
	cmd.Flags().StringVar(&after, "after", "", "Place after this sibling")
	cmd.Flags().StringVar(&parent, "parent", "", "New parent (id or unique prefix, '-' for top level)")
	return cmd
}

func newItemsClearCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every item in the list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			s, err := openSession(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer s.store.Close()
			s.store.Clear()
			return s.save(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the clear")
	return cmd
}

// resolveItem finds an item by exact id, unique id prefix, or exact name
// (case-insensitive). Ambiguous references are errors rather than guesses.
func resolveItem(s *session, ref string) (model.Item, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Item{}, errors.New("empty item reference")
	}
	if it, ok := s.store.Get(ref); ok {
		return it, nil
	}

	lower := strings.ToLower(ref)
	var matches []model.Item
	for _, it := range s.store.Items() {
		if strings.HasPrefix(it.ID, lower) || strings.EqualFold(it.Name, ref) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return model.Item{}, fmt.Errorf("no item matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.ID))
		}
		return model.Item{}, fmt.Errorf("%q is ambiguous: %s", ref, strings.Join(names, ", "))
	}
}

// orderRelativeTo computes the order key that places it directly before or
// after ref among ref's siblings.
func orderRelativeTo(s *session, it, ref model.Item, placeAfter bool) (float64, error) {
	if !sameParent(it.ParentID, ref.ParentID) {
		return 0, fmt.Errorf("%q and %q are not siblings", it.Name, ref.Name)
	}

	var sibs []model.Item
	for _, x := range s.store.Items() {
		if x.ID != it.ID && sameParent(x.ParentID, ref.ParentID) {
			sibs = append(sibs, x)
		}
	}
	sort.SliceStable(sibs, func(i, j int) bool { return model.CompareSiblings(sibs[i], sibs[j]) < 0 })

	refIdx := -1
	for i, x := range sibs {
		if x.ID == ref.ID {
			refIdx = i
			break
		}
	}
	if refIdx < 0 {
		return 0, fmt.Errorf("reference item %q not found among siblings", ref.Name)
	}

	if placeAfter {
		if refIdx+1 < len(sibs) {
			return list.OrderBetween(sibs[refIdx].Order, sibs[refIdx+1].Order), nil
		}
		return list.OrderAfter(sibs[refIdx].Order), nil
	}
	if refIdx > 0 {
		return list.OrderBetween(sibs[refIdx-1].Order, sibs[refIdx].Order), nil
	}
	return list.OrderBefore(sibs[refIdx].Order), nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
