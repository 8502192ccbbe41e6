package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"feedrelay/internal/app"
	"feedrelay/internal/bindings"
	"feedrelay/internal/storage"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "Inspect or edit chat bindings without starting the bot",
	Long: "Edits the same store the bot uses. Stop the bot first when using the file driver; " +
		"a running bot does not see offline edits until restart.",
}

var bindingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scope to destination bindings",
	Args:  cobra.NoArgs,
	RunE:  bindingsListAction,
}

var bindingsSetCmd = &cobra.Command{
	Use:   "set <scope_id> <chat_id[:thread_id]>",
	Short: "Bind a scope to a destination",
	Args:  cobra.ExactArgs(2),
	RunE:  bindingsSetAction,
}

var bindingsRemoveCmd = &cobra.Command{
	Use:     "remove <scope_id>",
	Aliases: []string{"rm"},
	Short:   "Remove a scope's binding",
	Args:    cobra.ExactArgs(1),
	RunE:    bindingsRemoveAction,
}

func init() {
	bindingsCmd.AddCommand(bindingsListCmd, bindingsSetCmd, bindingsRemoveCmd)
}

// withRegistry opens the configured store, loads the registry and closes the
// store when fn returns.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, st storage.Store, reg *bindings.Registry) error) error {
	log := logx.NewWriter(cmd.ErrOrStderr(), "WARN")
	st, err := app.OpenStore(configPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	reg, err := bindings.Load(ctx, st, log)
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	return fn(ctx, st, reg)
}

func bindingsListAction(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(_ context.Context, _ storage.Store, reg *bindings.Registry) error {
		snap := reg.Snapshot()
		if len(snap) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no bindings")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCOPE\tDESTINATION")
		for _, scope := range slices.Sorted(maps.Keys(snap)) {
			fmt.Fprintf(w, "%s\t%s\n", scope, snap[scope])
		}
		return w.Flush()
	})
}

func bindingsSetAction(cmd *cobra.Command, args []string) error {
	scope, dest := args[0], args[1]
	target, err := kit.ParseTarget(dest)
	if err != nil {
		return err
	}
	return withRegistry(cmd, func(ctx context.Context, st storage.Store, reg *bindings.Registry) error {
		err := reg.Set(ctx, scope, target.String())
		audit(ctx, st, "bind", scope, target.String(), err)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bound %s -> %s\n", scope, target)
		return nil
	})
}

func bindingsRemoveAction(cmd *cobra.Command, args []string) error {
	scope := args[0]
	return withRegistry(cmd, func(ctx context.Context, st storage.Store, reg *bindings.Registry) error {
		old, _ := reg.Get(ctx, scope)
		removed, err := reg.Remove(ctx, scope)
		if removed || err != nil {
			audit(ctx, st, "unbind", scope, old, err)
		}
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s had no binding\n", scope)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", scope)
		return nil
	})
}

func audit(ctx context.Context, st storage.Store, action, scope, dest string, err error) {
	e := storage.AuditEntry{
		At:            time.Now().UTC(),
		ActorUsername: "cli",
		ScopeID:       scope,
		Action:        action,
		Destination:   dest,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	_ = st.AppendAudit(ctx, e)
}
