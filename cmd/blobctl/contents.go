package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sdassow/atomic"
	"github.com/spf13/cobra"
)

func attachCommand(cfg *clientConfig) *cobra.Command {
	var (
		filename string
		length   int64
	)

	cmd := &cobra.Command{
		Use:   "attach [id]",
		Short: "Attach content and start downloading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			view, err := c.doJSON(cmd.Context(), http.MethodPost, "/api/v1/contents", map[string]any{
				"id":       args[0],
				"filename": filename,
				"length":   length,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "Display name of the content")
	cmd.Flags().Int64Var(&length, "length", 0, "Declared length in bytes")

	return cmd
}

func statusCommand(cfg *clientConfig) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show transfer state of attached content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			var view map[string]any
			if wait {
				view, err = waitReady(cmd.Context(), c, args[0], interval)
			} else {
				view, err = c.doJSON(cmd.Context(), http.MethodGet, contentPath(args[0]), nil)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Follow the content until the object is ready or a transfer fails")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval used with --wait when the node has no event stream")

	return cmd
}

func downloadCommand(cfg *clientConfig) *cobra.Command {
	var fallback bool

	cmd := &cobra.Command{
		Use:   "download [id]",
		Short: "Start downloading attached content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			path := contentPath(args[0], "download") + "?fallback=" + strconv.FormatBool(fallback)
			view, err := c.doJSON(cmd.Context(), http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&fallback, "fallback", true, "Sync from peers when the direct download fails")

	return cmd
}

func cancelCommand(cfg *clientConfig) *cobra.Command {
	var upload bool

	cmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel the active download, or upload with --upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			path := contentPath(args[0], "download")
			if upload {
				path = contentPath(args[0], "upload")
			}
			view, err := c.doJSON(cmd.Context(), http.MethodDelete, path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "Cancel the upload instead of the download")

	return cmd
}

func pauseCommand(cfg *clientConfig) *cobra.Command {
	return pauseResumeCommand(cfg, "pause", "Hold the active download, or upload with --upload")
}

func resumeCommand(cfg *clientConfig) *cobra.Command {
	return pauseResumeCommand(cfg, "resume", "Continue a paused download, or upload with --upload")
}

func pauseResumeCommand(cfg *clientConfig, action, short string) *cobra.Command {
	var upload bool

	cmd := &cobra.Command{
		Use:   action + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			path := contentPath(args[0], action) + "?upload=" + strconv.FormatBool(upload)
			view, err := c.doJSON(cmd.Context(), http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "Act on the upload instead of the download")

	return cmd
}

func uploadCommand(cfg *clientConfig) *cobra.Command {
	var filename string

	cmd := &cobra.Command{
		Use:   "upload [id] [file]",
		Short: "Send a local file as content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if filename == "" {
				filename = filepath.Base(args[1])
			}
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			path := contentPath(args[0], "upload") + "?filename=" + url.QueryEscape(filename)
			view, err := c.upload(cmd.Context(), path, data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "Display name; defaults to the file's base name")

	return cmd
}

func getCommand(cfg *clientConfig) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get [id] [dest]",
		Short: "Write the exposed object of attached content to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			var view map[string]any
			if wait {
				view, err = waitReady(cmd.Context(), c, args[0], interval)
			} else {
				view, err = c.doJSON(cmd.Context(), http.MethodGet, contentPath(args[0]), nil)
			}
			if err != nil {
				return err
			}
			objectURL, _ := view["objectUrl"].(string)
			if objectURL == "" {
				return errors.New("content is not ready")
			}

			body, err := c.stream(cmd.Context(), objectURL)
			if err != nil {
				return err
			}
			defer body.Close()

			if err := atomic.WriteFile(args[1], body, atomic.DefaultFileMode(0o644)); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the object is ready")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval used with --wait")

	return cmd
}

func detachCommand(cfg *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "detach [id]",
		Short: "Detach content, cancelling its transfers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			out, err := c.doJSON(cmd.Context(), http.MethodDelete, contentPath(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// waitReady follows the content's event stream until an object is
// exposed, or returns the first terminal error a view reports. Nodes
// without the stream are polled every interval instead.
func waitReady(ctx context.Context, c *client, id string, interval time.Duration) (map[string]any, error) {
	view, done, err := watchReady(ctx, c, id)
	if done || ctx.Err() != nil {
		return view, err
	}
	return pollReady(ctx, c, id, interval)
}

// watchReady reports done=false when the stream is unavailable or ends
// before the content settles.
func watchReady(ctx context.Context, c *client, id string) (map[string]any, bool, error) {
	body, err := c.stream(ctx, contentPath(id, "events"))
	if err != nil {
		return nil, false, err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var view map[string]any
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			return nil, false, fmt.Errorf("decode event: %w", err)
		}
		if done, err := settled(view); done {
			return view, true, err
		}
	}
	return nil, false, scanner.Err()
}

func pollReady(ctx context.Context, c *client, id string, interval time.Duration) (map[string]any, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.doJSON(ctx, http.MethodGet, contentPath(id), nil)
		if err != nil {
			return nil, err
		}
		if done, err := settled(view); done {
			return view, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// settled reports whether view exposes an object or carries a transfer
// error.
func settled(view map[string]any) (bool, error) {
	if ready, _ := view["ready"].(bool); ready {
		return true, nil
	}
	for _, key := range []string{"downloadError", "uploadError", "syncError"} {
		if msg, ok := view[key].(string); ok && msg != "" {
			return true, errors.New(msg)
		}
	}
	return false, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}
