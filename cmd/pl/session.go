package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/repo"
	"playline/internal/sessioncode"
	"playline/internal/signals"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Run play sessions"}
	cmd.AddCommand(sessionCreateCmd())
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionStatusCmd())
	cmd.AddCommand(sessionStartCmd())
	cmd.AddCommand(sessionIndexCmd("step"))
	cmd.AddCommand(sessionIndexCmd("phase"))
	cmd.AddCommand(sessionTimerCmd())
	cmd.AddCommand(sessionBoardMessageCmd())
	cmd.AddCommand(sessionArchiveCmd())
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var opts engine.CreateSessionOptions
	var gameKey string
	var maxParticipants int
	var approval, anonymous bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session hosted by the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				opts.HostUserID = viper.GetString("actor-id")
				if gameKey != "" && opts.GameID == "" {
					id, err := e.Repo.GameIDByKey(ctx, opts.TenantID, gameKey)
					if err != nil {
						return fmt.Errorf("game %q: %w", gameKey, err)
					}
					opts.GameID = id
				}
				var settings domain.SessionSettingsInput
				if cmd.Flags().Changed("max-participants") {
					settings.MaxParticipants = &maxParticipants
				}
				if cmd.Flags().Changed("require-approval") {
					settings.RequireApproval = &approval
				}
				if cmd.Flags().Changed("allow-anonymous") {
					settings.AllowAnonymous = &anonymous
				}
				opts.Settings = &settings
				s, err := e.CreateSession(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Session %s created\nJoin code: %s\n", s.ID, sessioncode.FormatDisplay(s.Code))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.GameID, "game-id", "", "game id")
	cmd.Flags().StringVar(&gameKey, "game", "", "game key")
	cmd.Flags().BoolVar(&opts.NoExpiry, "no-expiry", false, "issue participant tokens that never expire (uses tenant quota)")
	cmd.Flags().IntVar(&maxParticipants, "max-participants", 0, "participant limit")
	cmd.Flags().BoolVar(&approval, "require-approval", false, "new participants wait for host approval")
	cmd.Flags().BoolVar(&anonymous, "allow-anonymous", false, "allow joining without a display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var f repo.SessionFilters
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.TenantID = e.Config.Tenant.ID
				if mine {
					f.HostUserID = viper.GetString("actor-id")
				}
				items, err := e.Repo.ListSessions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Code", "Name", "Status", "Host", "Step", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, sessioncode.FormatDisplay(s.Code), s.DisplayName, s.Status, s.HostUserID, s.CurrentStepIndex, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived sessions")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max sessions")
	cmd.Flags().BoolVar(&mine, "mine", false, "only sessions hosted by the acting user")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id|code>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := lookupSession(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionStatusCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:       "status <session-id> <status>",
		Short:     "Change a session status",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{domain.SessionActive, domain.SessionPaused, domain.SessionLocked, domain.SessionEnded, domain.SessionCancelled, domain.SessionArchived},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateSessionStatus(ctx, engine.StatusUpdate{
					ID:     args[0],
					Status: args[1],
					Actor:  hostActor(),
					Force:  force,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip transition checks")
	return cmd
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id>",
		Short: "Start the session runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartSession(ctx, args[0], hostActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionIndexCmd(kind string) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   kind + " <session-id>",
		Short: "Move the session to a " + kind + " index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				update := e.UpdateCurrentStep
				if kind == "phase" {
					update = e.UpdateCurrentPhase
				}
				s, err := update(ctx, args[0], index, hostActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, kind+" index (0-based)")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func sessionTimerCmd() *cobra.Command {
	var seconds int
	cmd := &cobra.Command{
		Use:       "timer <session-id> <start|pause|resume|reset>",
		Short:     "Control the session timer",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"start", "pause", "resume", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					s   domain.Session
					err error
				)
				switch args[1] {
				case "start":
					s, err = e.StartTimer(ctx, args[0], seconds, hostActor())
				case "pause":
					s, err = e.PauseTimer(ctx, args[0], hostActor())
				case "resume":
					s, err = e.ResumeTimer(ctx, args[0], hostActor())
				case "reset":
					s, err = e.ResetTimer(ctx, args[0], hostActor())
				default:
					return fmt.Errorf("invalid timer action %q", args[1])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(s.TimerState)
			})
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 0, "duration for start")
	return cmd
}

func sessionBoardMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board-message <session-id> <message>",
		Short: "Set the message shown on the spectator board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateBoardState(ctx, args[0], domain.BoardState{Message: args[1]}, hostActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(s.BoardState)
			})
		},
	}
}

func sessionArchiveCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive sessions ended more than --days ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("days") {
					days = e.Config.Sessions.ArchiveAfterDays
				}
				n, err := e.ArchiveOldSessions(ctx, days)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"archived": n})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "minimum age in days")
	return cmd
}

// lookupSession accepts a session id or a join code in any display form.
func lookupSession(ctx context.Context, e engine.Engine, ref string) (domain.Session, error) {
	if sessioncode.IsValidFormat(ref) {
		s, err := e.GetSessionByCode(ctx, ref)
		if err != nil {
			return domain.Session{}, err
		}
		if s != nil {
			return *s, nil
		}
	}
	s, err := e.GetSessionByID(ctx, ref)
	if err != nil {
		return domain.Session{}, err
	}
	if s == nil {
		return domain.Session{}, engine.ErrSessionNotFound
	}
	return *s, nil
}

func participantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "participant", Short: "Manage session participants"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <session-id>",
		Short: "List participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListParticipants(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Status", "Role", "Token expires", "Last seen"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.DisplayName, p.Status, deref(p.RoleID), deref(p.TokenExpiresAt), deref(p.LastSeenAt)})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:       "status <session-id> <participant-id> <status>",
		Short:     "Approve, block or kick a participant",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{domain.ParticipantActive, domain.ParticipantBlocked, domain.ParticipantKicked},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetParticipantStatus(ctx, args[0], args[1], args[2], hostActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	var token string
	join := &cobra.Command{
		Use:   "join <code> [display-name]",
		Short: "Join a session locally and print the participant token",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.JoinSession(ctx, engine.JoinOptions{Code: args[0], DisplayName: name, Token: token})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	join.Flags().StringVar(&token, "token", "", "participant token of an earlier join, to rejoin the same seat")
	cmd.AddCommand(join)
	return cmd
}

func signalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "signal", Short: "Send and read session signals"}
	cmd.AddCommand(&cobra.Command{
		Use:   "catalog",
		Short: "List known signal channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := signals.Catalog()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable(table.Row{"Channel", "Label", "Severity", "Origin", "Persistent"})
			for _, c := range items {
				tw.AppendRow(table.Row{c.ID, c.Label, c.Severity, c.Origin, c.Persistent()})
			}
			tw.Render()
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "send <session-id> <channel> [message]",
		Short: "Send a host signal",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := ""
			if len(args) == 3 {
				msg = args[2]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evt, err := e.SendSignal(ctx, engine.SignalOptions{
					SessionID: args[0],
					Channel:   args[1],
					Message:   msg,
					Actor:     hostActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(signals.ExtractMeta(evt))
			})
		},
	})
	var after int64
	var limit int
	list := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List signals of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListSignals(ctx, args[0], after, limit)
				if err != nil {
					return err
				}
				metas := make([]signals.Meta, 0, len(evts))
				for _, evt := range signals.Sorted(evts) {
					metas = append(metas, signals.ExtractMeta(evt))
				}
				if viper.GetBool("json") {
					return printJSON(metas)
				}
				tw := newTable(table.Row{"ID", "Time", "Direction", "Channel", "Severity", "Sender", "Message"})
				for _, m := range metas {
					tw.AppendRow(table.Row{m.EventID, m.Timestamp, m.Direction, m.Label, m.Severity, m.Sender, strings.TrimSpace(m.Message)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&after, "after", 0, "only events after this id")
	list.Flags().IntVar(&limit, "limit", 100, "max signals")
	cmd.AddCommand(list)
	return cmd
}
