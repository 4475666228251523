package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanveloso/landale-sub014/internal/daemon"
	"github.com/bryanveloso/landale-sub014/internal/inbox"
	"github.com/bryanveloso/landale-sub014/internal/lifecycle"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/orchestrator"
	"github.com/bryanveloso/landale-sub014/internal/setup"
	"github.com/bryanveloso/landale-sub014/internal/status"
	"github.com/bryanveloso/landale-sub014/internal/uds"
	"github.com/bryanveloso/landale-sub014/internal/yaml"
)

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the orchestrator in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := opts.dataDir()
			if err != nil {
				return err
			}
			cfg, err := daemon.LoadConfig(dir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := daemon.New(dir, cfg, foreground)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			return d.Run()
		},
	}
	cmd.Flags().BoolVar(&foreground, "console", false, "log to stderr instead of logs/daemon.log")
	return cmd
}

func newUpCommand(opts *rootOptions) *cobra.Command {
	var (
		reset bool
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := opts.dataDir()
			if err != nil {
				return err
			}
			return lifecycle.Up(cmd.Context(), cmd.OutOrStdout(), lifecycle.UpOptions{Dir: dir, Reset: reset, Wait: wait})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "discard inbox files left from a previous run")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the daemon to answer")
	return cmd
}

func newDownCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop a background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := opts.dataDir()
			if err != nil {
				return err
			}
			return lifecycle.Down(cmd.Context(), cmd.OutOrStdout(), dir, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "wait", 30*time.Second, "how long to wait for the daemon to exit")
	return cmd
}

func newInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a data directory with the default config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := defaultDirName
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := setup.Run(dir, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", abs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.yaml")
	return cmd
}

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	var (
		req      orchestrator.SubmitRequest
		payload  string
		file     string
		duration time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit content for admission",
		Example: `  landale submit --type raid_alert --payload '{"message":"raid!","username":"avalonstar"}'
  landale submit --type manual_override --payload '{"title":"BRB"}' --duration 0s
  landale submit -f alert.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				fromFile, err := readSubmitFile(file)
				if err != nil {
					return err
				}
				req = fromFile
			} else {
				if req.Type == "" {
					return errors.New("--type is required")
				}
				raw, err := jsonPayload(payload)
				if err != nil {
					return err
				}
				req.Payload = raw
				if cmd.Flags().Changed("duration") {
					ms := duration.Milliseconds()
					req.DurationMs = &ms
				}
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			var item model.ContentItem
			if err := client.Call(cmd.Context(), uds.CmdSubmit, req, &item); err != nil {
				return err
			}
			return printItem(cmd.OutOrStdout(), "submitted", &item, asJSON)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "read the submission from a YAML file (inbox format)")
	f.StringVar(&req.ID, "id", "", "item id (generated when empty)")
	f.StringVarP(&req.Type, "type", "t", "", "content type, e.g. raid_alert, sub_train, manual_override")
	f.StringVarP(&req.Priority, "priority", "p", "", "priority band (derived from the type when empty)")
	f.StringVar(&payload, "payload", "", "payload as JSON")
	f.DurationVar(&duration, "duration", 0, "display duration; 0s means until removed")
	f.BoolVar(&req.Preempt, "preempt", false, "supersede the active item of the same band")
	f.BoolVar(&asJSON, "json", false, "print the admitted item as JSON")
	return cmd
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an active, pending or ticker item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Call(cmd.Context(), uds.CmdRemove, daemon.IDParams{ID: args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newStateCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the current overlay state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			snap, err := status.Fetch(cmd.Context(), client)
			if err != nil {
				return err
			}
			if asJSON {
				return status.RenderJSON(cmd.OutOrStdout(), snap)
			}
			return status.Render(cmd.OutOrStdout(), snap, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <game_id>",
		Short: "Report a category change and switch shows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var res daemon.CategoryResult
			if err := client.Call(cmd.Context(), uds.CmdSetCategory, daemon.CategoryParams{GameID: args[0]}, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current show: %s\n", res.CurrentShow)
			return nil
		},
	}
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the payload of an active or ticker item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := jsonPayload(payload)
			if err != nil {
				return err
			}
			if raw == nil {
				return errors.New("--payload is required")
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			params := daemon.UpdateContentParams{ID: args[0], Payload: raw}
			if err := client.Call(cmd.Context(), uds.CmdUpdateContent, params, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "new payload as JSON")
	return cmd
}

func newTickerCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticker",
		Short: "Manage the background ticker rotation",
	}
	cmd.AddCommand(newTickerAddCommand(opts))
	cmd.AddCommand(newTickerRemoveCommand(opts))
	return cmd
}

func newTickerAddCommand(opts *rootOptions) *cobra.Command {
	var (
		req     orchestrator.SubmitRequest
		text    string
		payload string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an item to the ticker rotation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := tickerPayload(text, payload)
			if err != nil {
				return err
			}
			req.Payload = raw

			client, err := opts.client()
			if err != nil {
				return err
			}
			var item model.ContentItem
			if err := client.Call(cmd.Context(), uds.CmdTickerAdd, req, &item); err != nil {
				return err
			}
			return printItem(cmd.OutOrStdout(), "added", &item, false)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "item id (generated when empty)")
	f.StringVarP(&req.Type, "type", "t", "ticker", "ticker content type, e.g. emote_stats, stream_goals")
	f.StringVar(&text, "text", "", "ticker text")
	f.StringVar(&payload, "payload", "", "full payload as JSON; overrides --text")
	return cmd
}

func newTickerRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an item from the ticker rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Call(cmd.Context(), uds.CmdTickerRemove, daemon.IDParams{ID: args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the landale version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "landale %s\n", version)
		},
	}
}

func readSubmitFile(path string) (orchestrator.SubmitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.SubmitRequest{}, err
	}
	f, err := inbox.Decode(data)
	if err != nil {
		return orchestrator.SubmitRequest{}, fmt.Errorf("%s: %w", path, err)
	}
	if f.FileType != yaml.FileTypeSubmit {
		return orchestrator.SubmitRequest{}, fmt.Errorf("%s: file_type %q is not a submission", path, f.FileType)
	}
	return f.SubmitRequest()
}

// jsonPayload returns s as raw JSON, or nil when s is empty.
func jsonPayload(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, errors.New("--payload is not valid JSON")
	}
	return json.RawMessage(s), nil
}

func tickerPayload(text, payload string) (json.RawMessage, error) {
	if payload != "" {
		return jsonPayload(payload)
	}
	if text == "" {
		return nil, errors.New("one of --text or --payload is required")
	}
	return json.Marshal(model.TickerPayload{Text: text})
}

func printItem(w io.Writer, verb string, item *model.ContentItem, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	}
	_, err := fmt.Fprintf(w, "%s %s (%s, %s): %s\n", verb, item.ID, item.Type, item.Priority, item.Status)
	return err
}
