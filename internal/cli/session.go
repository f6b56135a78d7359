package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/pubsub"
	"github.com/bhandras/greeter/internal/session"
	"github.com/spf13/cobra"
)

func (a *app) newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Print the stored greeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancelCause(cmd.Context())
			defer cancel(nil)

			env, err := a.openSession(ctx, abortOnRestart(cancel))
			if err != nil {
				return err
			}
			defer env.Close()

			snap, err := connectAndSettle(ctx, env.ctrl)
			if err != nil {
				return err
			}
			value, _ := snap.Value()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

func (a *app) newWriteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "write <greeting>",
		Short: "Store a new greeting; the wallet asks you to approve the transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancelCause(cmd.Context())
			defer cancel(nil)

			env, err := a.openSession(ctx, abortOnRestart(cancel))
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := connectAndSettle(ctx, env.ctrl); err != nil {
				return err
			}
			snap, err := submitAndSettle(ctx, env.ctrl, strings.Join(args, " "))
			if err != nil {
				return err
			}
			value, _ := snap.Value()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

func (a *app) newWatchCommand() *cobra.Command {
	var noRestart bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the session; each stdin line is submitted as a greeting",
		Long: `watch prints every session state change. Lines read from stdin are
submitted as new greetings, except for these commands:

  :refresh       re-read the greeting
  :connect       ask the wallet for access again
  :draft <text>  set the draft without submitting
  :quit          exit

When the wallet switches networks, watch restarts itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancelCause(cmd.Context())
			defer cancel(nil)

			restart := restartProcess
			if noRestart {
				restart = abortOnRestart(cancel)
			}
			env, err := a.openSession(ctx, restart)
			if err != nil {
				return err
			}
			defer env.Close()
			return watch(ctx, env.ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, "exit instead of restarting on a network change")
	return cmd
}

// watch runs until ctx ends, stdin sends :quit, or the controller stops.
func watch(ctx context.Context, ctrl *session.Controller, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := ctrl.Subscribe(ctx)
	if err := ctrl.Start(); err != nil {
		return err
	}
	if err := ctrl.Connect(); err != nil {
		return err
	}
	fmt.Fprintln(out, formatSnapshot(ctrl.Snapshot()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return causeOf(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == pubsub.Restarting {
				fmt.Fprintln(out, "network changed, restarting")
				continue
			}
			fmt.Fprintln(out, formatSnapshot(ev.Payload))
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			quit, err := dispatchLine(ctrl, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// dispatchLine maps one stdin line onto a controller action.
func dispatchLine(ctrl *session.Controller, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false, nil
	case trimmed == ":quit" || trimmed == ":q":
		return true, nil
	case trimmed == ":refresh":
		return false, ctrl.Refresh()
	case trimmed == ":connect":
		return false, ctrl.Connect()
	case strings.HasPrefix(trimmed, ":draft"):
		return false, ctrl.SetDraft(strings.TrimSpace(strings.TrimPrefix(trimmed, ":draft")))
	default:
		return false, ctrl.Submit(line)
	}
}

// connectAndSettle starts ctrl, asks for wallet access and waits for the
// connect and its follow-up read to finish.
func connectAndSettle(ctx context.Context, ctrl *session.Controller) (session.Snapshot, error) {
	if err := ctrl.Start(); err != nil {
		return session.Snapshot{}, err
	}
	if err := ctrl.Connect(); err != nil {
		return session.Snapshot{}, err
	}
	snap, err := ctrl.Await(ctx, func(s session.Snapshot) bool {
		return !s.Busy && (s.Connection == session.Connected || s.LastError != nil)
	})
	if err != nil {
		return snap, awaitError(ctx, err)
	}
	if snap.LastError != nil {
		return snap, snapshotError(snap)
	}
	return snap, nil
}

// submitAndSettle submits text and waits for the write and the refresh that
// follows it. The first idle snapshot after a busy one marks completion.
func submitAndSettle(ctx context.Context, ctrl *session.Controller, text string) (session.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := ctrl.Subscribe(ctx)
	if err := ctrl.Submit(text); err != nil {
		return session.Snapshot{}, err
	}

	started := false
	for {
		select {
		case <-ctx.Done():
			return ctrl.Snapshot(), awaitError(ctx, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return ctrl.Snapshot(), actor.ErrStopped
			}
			snap := ev.Payload
			switch {
			case snap.Busy:
				started = true
			case snap.LastError != nil:
				return snap, snapshotError(snap)
			case started && snap.PendingInput == "":
				return snap, nil
			}
		}
	}
}

func snapshotError(s session.Snapshot) error {
	return errors.New(s.LastError.String())
}

// awaitError prefers the cancel cause (for example a network change) over
// the bare context error.
func awaitError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func causeOf(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// abortOnRestart is the restart hook for one-shot commands: instead of
// re-running them it fails the command.
func abortOnRestart(cancel context.CancelCauseFunc) func(string) {
	return func(chainID string) {
		cancel(fmt.Errorf("wallet switched to chain %s; run the command again", chainID))
	}
}
