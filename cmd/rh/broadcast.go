package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zulandar/roundhouse/internal/broadcast"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/validate"
)

func newBroadcastCmd() *cobra.Command {
	var (
		flags   configFlags
		taskID  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "broadcast <request>",
		Short: "Start a group-chat task and stream the replies",
		Long: `Posts the request to a shared conversation where every role hears every
message and decides for itself whether to answer. Messages are printed as they
arrive until the conversation goes quiet or hits its depth bound.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(cmd, flags, taskID, strings.Join(args, " "), timeout)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id (generated when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to stream before giving up")
	return cmd
}

func runBroadcast(cmd *cobra.Command, flags configFlags, taskID, request string, timeout time.Duration) error {
	if err := validate.Message(request); err != nil {
		return err
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOpts{Out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()
	a.warnMissingKeys(cmd.ErrOrStderr())

	if taskID == "" {
		taskID = uuid.NewString()
	}
	ctx, cancel := commandContext(timeout)
	defer cancel()

	events, unsubscribe := a.hub.Subscribe(taskID)
	defer unsubscribe()

	if err := a.broadcast.StartTask(ctx, taskID, request); err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout())
	p.header(taskID, conversation.VariantBroadcast)

	waitErr := make(chan error, 1)
	go func() { waitErr <- a.broadcast.Wait(ctx, taskID) }()

	show := func(evt notify.Event) {
		switch evt.Type {
		case notify.EventMessage:
			if evt.Message != nil {
				p.message(*evt.Message)
			}
		case notify.EventDepthExceeded:
			p.notice(evt.Detail)
		}
	}

	for {
		select {
		case evt := <-events:
			show(evt)
		case err := <-waitErr:
			for drained := false; !drained; {
				select {
				case evt := <-events:
					show(evt)
				default:
					drained = true
				}
			}
			return finishBroadcast(cmd, a, p, taskID, err)
		}
	}
}

func finishBroadcast(cmd *cobra.Command, a *app, p *printer, taskID string, waitErr error) error {
	if waitErr != nil && !errors.Is(waitErr, broadcast.ErrBroadcastDepthExceeded) {
		return fmt.Errorf("broadcast %s: %w", taskID, waitErr)
	}
	conv, err := a.broadcast.Context(cmd.Context(), taskID)
	if err != nil {
		return err
	}
	p.footer(conv.Status, len(conv.Messages))
	if waitErr != nil {
		return fmt.Errorf("broadcast %s: %w", taskID, waitErr)
	}
	if conv.Status == conversation.StatusFailed {
		return fmt.Errorf("task %s failed", taskID)
	}
	return nil
}
