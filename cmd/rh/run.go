package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/validate"
)

func newRunCmd() *cobra.Command {
	var (
		flags   configFlags
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run a request through the PM, engineer, QA pipeline",
		Long: `Runs the request through the fixed pipeline and prints the transcript.
Each role answers once, in order; failures are replaced by fallback replies.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags, strings.Join(args, " "), asJSON, timeout)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the conversation as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the task")
	return cmd
}

func runPipeline(cmd *cobra.Command, flags configFlags, request string, asJSON bool, timeout time.Duration) error {
	if err := validate.Message(request); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// Progress lines go to stderr so stdout holds only the transcript.
	a, err := newApp(cfg, appOpts{Out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()
	a.warnMissingKeys(cmd.ErrOrStderr())

	ctx, cancel := commandContext(timeout)
	defer cancel()

	conv := a.pipeline.ProcessTask(ctx, request)
	if asJSON {
		data, err := json.MarshalIndent(conv, "", "  ")
		if err != nil {
			return fmt.Errorf("encode conversation: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		p := newPrinter(out)
		p.header(conv.ID, conv.Variant)
		for _, m := range conv.Messages {
			p.message(m)
		}
		p.footer(conv.Status, len(conv.Messages))
	}

	if conv.Status == conversation.StatusFailed {
		return fmt.Errorf("task %s failed", conv.ID)
	}
	return nil
}
