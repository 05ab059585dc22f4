package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playline/internal/board"
	"playline/internal/engine"
	"playline/internal/sessioncode"
	playlinesdk "playline/sdk/go"
)

func boardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "board", Short: "Spectator board"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <code>",
		Short: "Print the current board snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.BoardSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				if snap == nil {
					return fmt.Errorf("board %s not found", args[0])
				}
				return printJSONOrTable(snap)
			})
		},
	})
	cmd.AddCommand(boardWatchCmd())
	return cmd
}

func boardWatchCmd() *cobra.Command {
	var baseURL, basePath string
	var stream bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <code>",
		Short: "Follow a board and print UI state changes",
		Long:  "Without --url the board is read from the local workspace. With --url it polls the API, or subscribes to the websocket stream with --stream.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := sessioncode.Normalize(args[0])
			logger := log.New(os.Stderr, "", log.LstdFlags)
			var last string
			onUpdate := func(v board.View) {
				if viper.GetBool("json") {
					_ = printJSON(v)
					return
				}
				line := formatView(v)
				if line != last {
					fmt.Println(line)
					last = line
				}
			}
			run := func(ctx context.Context, f board.Fetcher, th board.Thresholds) error {
				if stream {
					if baseURL == "" {
						return errors.New("--stream needs --url")
					}
					c := playlinesdk.New(baseURL)
					c.BasePath = basePath
					s := &board.Stream{URL: c.BoardStreamURL(code), Thresholds: th, Logger: logger, OnUpdate: onUpdate}
					return ignoreCancel(s.Run(ctx))
				}
				p := &board.Poller{Fetcher: f, Code: code, Interval: interval, Thresholds: th, Logger: logger, OnUpdate: onUpdate}
				p.Run(ctx)
				return nil
			}
			if baseURL != "" {
				c := playlinesdk.New(baseURL)
				c.BasePath = basePath
				return run(cmd.Context(), c, board.Thresholds{})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if interval <= 0 {
					interval = e.Config.BoardPollInterval()
				}
				return run(ctx, e, board.Thresholds{
					DegradedAfter: e.Config.BoardDegradedAfter(),
					OfflineAfter:  e.Config.BoardOfflineAfter(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "API base URL, e.g. http://127.0.0.1:8080")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&stream, "stream", false, "use the websocket push stream instead of polling")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval")
	return cmd
}

// formatView renders one status line for the terminal.
func formatView(v board.View) string {
	parts := []string{fmt.Sprintf("[%s/%s]", v.UI.Mode, v.UI.Connection)}
	if v.UI.Banner != board.BannerNone && v.UI.Banner != "" {
		parts = append(parts, "banner="+string(v.UI.Banner))
	}
	if snap := v.Snapshot; snap != nil {
		parts = append(parts, fmt.Sprintf("%q", snap.Session.DisplayName))
		if snap.CurrentStep != nil {
			parts = append(parts, fmt.Sprintf("step %d: %s", snap.CurrentStep.Order, snap.CurrentStep.Title))
		}
		if snap.Session.TimerRemaining != nil {
			parts = append(parts, fmt.Sprintf("timer %ds", *snap.Session.TimerRemaining))
		}
		if bs := snap.Session.BoardState; bs != nil && bs.Message != "" {
			parts = append(parts, "msg="+bs.Message)
		}
		parts = append(parts, fmt.Sprintf("players=%d", snap.Session.ParticipantCount))
	}
	if v.LastError != "" {
		parts = append(parts, "error="+v.LastError)
	}
	return strings.Join(parts, " ")
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func codeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "code", Short: "Session join codes"}
	var n int
	gen := &cobra.Command{
		Use:   "gen",
		Short: "Generate join codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 0; i < n; i++ {
				c, err := sessioncode.Generate()
				if err != nil {
					return err
				}
				fmt.Println(sessioncode.FormatDisplay(c))
			}
			return nil
		},
	}
	gen.Flags().IntVarP(&n, "count", "n", 1, "how many codes")
	cmd.AddCommand(gen)
	cmd.AddCommand(&cobra.Command{
		Use:   "check <code>",
		Short: "Normalize a code and report whether it is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			norm := sessioncode.Normalize(args[0])
			return printJSONOrTable(map[string]any{
				"code":         norm,
				"display":      sessioncode.FormatDisplay(norm),
				"valid_format": sessioncode.IsValidFormat(norm),
				"entropy_bits": sessioncode.EntropyBits(),
				"combinations": sessioncode.Combinations(),
			})
		},
	})
	return cmd
}
