// Package cli wires the command surface: the default invocation opens the
// interactive TUI, subcommands cover scripted use (items, export/import,
// lists, serve).
package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"koinonia/internal/config"
	"koinonia/internal/list"
	"koinonia/internal/replmap"
	"koinonia/internal/sync"
	"koinonia/internal/tui"
)

type App struct {
	Room    string
	DataDir string
	Hub     string
	Name    string
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "koinonia",
		Short:        "Shared lists that sync between replicas",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Open the most recent list in the TUI
  koinonia

  # Open (or create) a named list
  koinonia --room groceries

  # Scriptable commands
  koinonia items add "olive oil"
  koinonia items list

  # Run a sync hub
  koinonia serve --addr :8787
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.HasSubCommands() && len(args) == 0 {
				return runTUI(cmd.Context(), app)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&app.Room, "room", envOr("KOINONIA_ROOM", ""), "List (room) id; defaults to the most recently opened list")
	cmd.PersistentFlags().StringVar(&app.DataDir, "data-dir", envOr("KOINONIA_DATA_DIR", ""), "Directory for local snapshots (default: config dir)")
	cmd.PersistentFlags().StringVar(&app.Hub, "hub", envOr("KOINONIA_HUB", ""), "Sync hub URL (overrides hubUrl in config.yaml)")
	cmd.PersistentFlags().StringVar(&app.Name, "name", envOr("KOINONIA_NAME", ""), "Display name attached to items you add (overrides displayName in config.yaml)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newItemsCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newImportCmd(app))
	cmd.AddCommand(newListsCmd(app))

	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// session is one opened list: the replicated doc loaded from the local
// snapshot, a store over it, and the config it was resolved from.
type session struct {
	app   *App
	cfg   config.Config
	room  string
	doc   *replmap.Doc
	store *list.Store
	db    replmap.SQLiteStore
}

// openSession loads config, resolves the room, and loads the local snapshot
// into a fresh doc. The config is saved back when a replica id had to be
// generated, so the id stays stable across runs.
func openSession(ctx context.Context, app *App) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = newReplicaID()
		if err := config.Save(cfg); err != nil {
			return nil, fmt.Errorf("save config: %w", err)
		}
	}

	room := strings.TrimSpace(app.Room)
	if room == "" {
		if recent := cfg.SortedRecent(); len(recent) > 0 {
			room = recent[0].RoomID
		} else {
			room = "default"
		}
	}

	dataDir := strings.TrimSpace(app.DataDir)
	if dataDir == "" {
		dataDir, err = config.Dir()
		if err != nil {
			return nil, err
		}
	}
	db := replmap.SQLiteStore{Dir: dataDir}
	if err := db.Ensure(); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	doc := replmap.NewDoc(cfg.ReplicaID)
	if err := db.Load(ctx, room, doc); err != nil {
		return nil, fmt.Errorf("load list %q: %w", room, err)
	}

	name := strings.TrimSpace(app.Name)
	if name == "" {
		name = cfg.DisplayName
	}
	store := list.NewStore(doc, list.WithAddedBy(name))

	return &session{app: app, cfg: cfg, room: room, doc: doc, store: store, db: db}, nil
}

// save persists the doc snapshot and touches the recent-lists registry.
func (s *session) save(ctx context.Context) error {
	if err := s.db.Save(ctx, s.room, s.doc); err != nil {
		return fmt.Errorf("save list %q: %w", s.room, err)
	}
	s.cfg.TouchRecent(s.room, len(s.store.Items()), time.Now())
	return config.Save(s.cfg)
}

func (s *session) hubURL() string {
	if u := strings.TrimSpace(s.app.Hub); u != "" {
		return u
	}
	return s.cfg.HubURL
}

func newReplicaID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

func runTUI(ctx context.Context, app *App) error {
	s, err := openSession(ctx, app)
	if err != nil {
		return err
	}
	defer s.store.Close()

	var provider *sync.Provider
	if hub := s.hubURL(); hub != "" {
		provider = sync.NewProvider(hub, s.doc)
		// Offline start is fine; edits sync on the next successful connect.
		if err := provider.Connect(ctx, s.room); err != nil {
			fmt.Fprintf(os.Stderr, "offline: %v\n", err)
		}
		defer provider.Disconnect()
	}

	return tui.Run(ctx, tui.Options{
		RoomID:   s.room,
		Store:    s.store,
		Provider: provider,
		OnExit: func() {
			if err := s.save(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "save: %v\n", err)
			}
		},
	})
}
