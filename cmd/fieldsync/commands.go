package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/fieldsync/internal/bridge"
	"github.com/agentworkforce/fieldsync/internal/docsync"
	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/localstate"
)

const shutdownTimeout = 5 * time.Second

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Shared work-order document sync for supervisors and field workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("bin", "", "remote document id or share URL")
	flags.String("base-url", "", "remote document service base URL")
	flags.Int("retries", 0, "retries for transient remote failures")
	flags.String("local-dsn", "", "local state DSN (file://, memory://, postgres://, redis://)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newBinCommand())
	root.AddCommand(newLoginCommand())
	root.AddCommand(newLogoutCommand())
	root.AddCommand(newRenameCommand())
	root.AddCommand(newShowCommand())
	return root
}

// withApp wires the runtime for one command invocation and tears it down
// afterwards.
func withApp(run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cmd, a, args)
	}
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the poll and heartbeat loops and the local bridge",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			return runServe(ctx, a)
		}),
	}
	cmd.Flags().Duration("poll-interval", 0, "remote poll interval")
	cmd.Flags().Duration("heartbeat-interval", 0, "presence heartbeat interval")
	cmd.Flags().Float64("jitter", 0, "interval jitter ratio (0.0-1.0)")
	cmd.Flags().String("addr", "", "bridge listen address")
	cmd.Flags().Bool("bridge", true, "serve the local bridge")
	cmd.Flags().Bool("metrics", true, "expose /metrics on the bridge")
	cmd.Flags().Bool("watch", true, "reload state when the local mirror file changes")
	cmd.Flags().Bool("supervisor-alerts", false, "alert supervisors for every new task")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	log := a.log("serve")
	a.restore(ctx)
	a.session.LoadData(ctx, "")
	a.session.Start(ctx)

	if path := localstate.FilePath(a.cfg.Local.DSN); path != "" && a.cfg.Local.Watch {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := a.session.WatchMirror(ctx, path); err != nil {
			log.Warnw("watch local mirror failed", "path", path, "error", err)
		}
	}

	var server *bridge.Server
	errCh := make(chan error, 1)
	if a.cfg.Bridge.Enabled {
		server = bridge.New(a.session, a.hub, a.metrics, bridge.Config{Token: a.cfg.Bridge.Token}, a.log("bridge"))
		go func() {
			errCh <- server.Start(a.cfg.Bridge.Addr)
		}()
	}

	snap := a.session.Snapshot()
	log.Infow("fieldsync running", "bin_id", snap.BinID, "source", snap.Source, "bridge", a.cfg.Bridge.Enabled)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	a.session.Stop()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnw("bridge shutdown failed", "error", err)
		}
	}
	log.Infow("fieldsync stopped")
	return runErr
}

func newBinCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bin",
		Short: "Create, check and select the remote document",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Provision a new remote document seeded with rosters",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			amirs, _ := cmd.Flags().GetStringSlice("amir")
			ustas, _ := cmd.Flags().GetStringSlice("usta")
			use, _ := cmd.Flags().GetBool("use")
			id := a.session.CreateNewBin(ctx, members(amirs), members(ustas))
			if id == "" {
				return errors.New("remote store did not create a document")
			}
			if use {
				a.session.SetBinID(ctx, id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	create.Flags().StringSlice("amir", nil, "supervisor names")
	create.Flags().StringSlice("usta", nil, "field worker names")
	create.Flags().Bool("use", true, "switch to the new document")

	check := &cobra.Command{
		Use:   "check <id-or-url>",
		Short: "Check that a remote document is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			id := docsync.ExtractBinID(args[0])
			if !a.session.CheckConnection(ctx, id) {
				return fmt.Errorf("document %q is not reachable", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", id)
			return nil
		}),
	}

	extract := &cobra.Command{
		Use:   "extract <input>",
		Short: "Print the document id contained in a share URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), docsync.ExtractBinID(args[0]))
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use <id-or-url>",
		Short: "Persist the document id used by later commands",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.session.SetBinID(ctx, args[0]))
			return nil
		}),
	}

	cmd.AddCommand(create, check, extract, use)
	return cmd
}

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as a roster member and remember the identity",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			rawRole, _ := cmd.Flags().GetString("role")
			password, _ := cmd.Flags().GetString("password")
			noRemember, _ := cmd.Flags().GetBool("no-remember")
			role, err := document.ParseRole(rawRole)
			if err != nil {
				return fmt.Errorf("role must be AMIR or USTA")
			}

			a.restore(ctx)
			a.session.LoadData(ctx, "")
			if err := a.session.Login(ctx, name, role, password, !noRemember); err != nil {
				return err
			}
			saved := a.session.Beat(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), heartbeat saved=%t\n", document.NormalizeName(name), role, saved)
			return nil
		}),
	}
	cmd.Flags().String("name", "", "member name")
	cmd.Flags().String("role", "USTA", "AMIR or USTA")
	cmd.Flags().String("password", "", "member password, if the roster entry has one")
	cmd.Flags().Bool("no-remember", false, "do not persist the identity")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the remembered identity",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			a.session.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		}),
	}
}

func newRenameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename a member everywhere it is referenced",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			rawRole, _ := cmd.Flags().GetString("role")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			role, err := document.ParseRole(rawRole)
			if err != nil {
				return fmt.Errorf("role must be AMIR or USTA")
			}

			a.restore(ctx)
			a.session.LoadData(ctx, "")
			doc := a.session.State().Document()
			if document.FindMember(doc.Roster(role), from) < 0 {
				return fmt.Errorf("%w: %s", docsync.ErrUnknownMember, from)
			}
			attempted, saved := a.session.Rename(ctx, role, from, to)
			switch {
			case !attempted:
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to rename")
			case !saved:
				return errors.New("renamed locally but the remote save failed")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s\n", from, document.NormalizeName(to))
			}
			return nil
		}),
	}
	cmd.Flags().String("role", "USTA", "AMIR or USTA")
	cmd.Flags().String("from", "", "current name")
	cmd.Flags().String("to", "", "new name")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current document, or the online members",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			online, _ := cmd.Flags().GetBool("online")
			a.restore(ctx)
			a.session.LoadData(ctx, "")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if !online {
				return enc.Encode(a.session.Snapshot())
			}
			out := map[document.Role][]string{}
			for _, role := range []document.Role{document.RoleAmir, document.RoleUsta} {
				names := []string{}
				for _, m := range a.session.OnlineMembers(role) {
					names = append(names, m.Name)
				}
				out[role] = names
			}
			return enc.Encode(out)
		}),
	}
	cmd.Flags().Bool("online", false, "list only members with a recent heartbeat")
	return cmd
}

func members(names []string) []document.Member {
	out := make([]document.Member, 0, len(names))
	for _, name := range names {
		if name = document.NormalizeName(name); name != "" {
			out = append(out, document.Member{Name: name})
		}
	}
	return out
}
