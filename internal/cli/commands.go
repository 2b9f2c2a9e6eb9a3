package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/service0427/slot-inquiry/internal/inbox"
	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/render"
	"github.com/service0427/slot-inquiry/internal/thread"
	"github.com/service0427/slot-inquiry/internal/unread"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	var (
		status   string
		slotID   string
		userID   string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inquiries visible to the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, v)
			if err != nil {
				return err
			}
			c := inbox.New(s.repo, s.actor, s.bus, s.log)
			defer c.Close()

			result, err := c.SetFilter(cmd.Context(), model.InquiryFilter{
				Status:   model.Status(status),
				SlotID:   slotID,
				UserID:   userID,
				Page:     page,
				PageSize: pageSize,
			})
			if err != nil {
				return err
			}
			return printPage(s, result)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only inquiries in this status")
	cmd.Flags().StringVar(&slotID, "slot", "", "Only inquiries about this slot")
	cmd.Flags().StringVar(&userID, "owner", "", "Only inquiries filed by this user (admin only)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Inquiries per page")
	return cmd
}

func printPage(s *session, page *model.InquiryPage) error {
	rows := make([][]string, 0, len(page.Inquiries))
	for _, inq := range page.Inquiries {
		last := "-"
		if !inq.LastMessageAt.IsZero() {
			last = humanize.Time(inq.LastMessageAt)
		}
		rows = append(rows, []string{
			inq.ID,
			inq.Code,
			string(inq.Status),
			string(inq.Priority),
			inq.Title,
			strconv.Itoa(inq.MessageCount),
			last,
		})
	}
	if err := writeTable(s.out, []string{"ID", "CODE", "STATUS", "PRIORITY", "TITLE", "MESSAGES", "LAST"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.out, "page %d · %d of %s inquiries\n", page.Page, len(page.Inquiries), humanize.Comma(int64(page.Total)))
	return err
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <inquiry-id>",
		Short: "Print an inquiry thread and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, v)
			if err != nil {
				return err
			}
			c := thread.New(s.repo, s.actor, s.bus, s.log)
			defer c.Close()

			if err := c.Open(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printThread(s, c.Snapshot())
		},
	}
}

func printThread(s *session, snap thread.Snapshot) error {
	if snap.Inquiry != nil {
		inq := snap.Inquiry
		if _, err := fmt.Fprintf(s.out, "%s  %s  [%s]\n\n", inq.Code, inq.Title, inq.Status); err != nil {
			return err
		}
	}
	return render.Text(s.out, render.Group(snap.Messages(), s.actor.UserID, s.loc))
}

func newSendCmd(v *viper.Viper) *cobra.Command {
	var (
		slotID   string
		title    string
		category string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "send [inquiry-id] <message>",
		Short: "Send a message, creating the slot's inquiry when needed",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c := thread.New(s.repo, s.actor, s.bus, s.log)
			defer c.Close()

			var body string
			switch {
			case slotID != "" && len(args) == 1:
				body = args[0]
				err = c.OpenForSlot(ctx, slotID, model.CreateInquiryRequest{
					Title:    title,
					Category: category,
					Priority: model.Priority(priority),
				})
			case slotID == "" && len(args) == 2:
				body = args[1]
				err = c.Open(ctx, args[0])
			default:
				return fmt.Errorf("pass either <inquiry-id> <message> or --slot with <message>")
			}
			if err != nil {
				return err
			}

			c.SetDraft(body)
			if _, err := c.Send(ctx); err != nil {
				return err
			}
			return printThread(s, c.Snapshot())
		},
	}
	cmd.Flags().StringVar(&slotID, "slot", "", "Send about this slot, opening an inquiry if none exists")
	cmd.Flags().StringVar(&title, "title", "", "Title for a new inquiry")
	cmd.Flags().StringVar(&category, "category", "", "Category for a new inquiry")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority for a new inquiry")
	return cmd
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status <inquiry-id> <status>",
		Short: "Move an inquiry to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd, v, args[0], model.Status(args[1]))
		},
	}
}

func newCloseCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "close <inquiry-id>",
		Short: "Close an inquiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd, v, args[0], model.StatusClosed)
		},
	}
}

func changeStatus(cmd *cobra.Command, v *viper.Viper, inquiryID string, status model.Status) error {
	s, err := newSession(cmd, v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c := thread.New(s.repo, s.actor, s.bus, s.log)
	defer c.Close()

	if err := c.Open(ctx, inquiryID); err != nil {
		return err
	}
	updated, err := c.ChangeStatus(ctx, status)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.out, "%s is now %s\n", updated.Code, updated.Status)
	return err
}

func newUnreadCmd(v *viper.Viper) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
		userID   string
	)
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Print the unread message count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, v)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = s.actor.UserID
			}
			ctx := cmd.Context()

			if !watch {
				n, err := s.repo.GetUnreadCount(ctx, userID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(s.out, n)
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			changes := make(chan int, 1)
			p := unread.New(unread.Config{UserID: userID, Interval: interval}, s.repo, s.bus, s.log)
			p.OnChange(func(n int) {
				select {
				case <-changes:
				default:
				}
				changes <- n
			})
			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Stop()

			last := -1
			for {
				select {
				case <-ctx.Done():
					return nil
				case n := <-changes:
					if n == last {
						continue
					}
					last = n
					if _, err := fmt.Fprintf(s.out, "%s unread: %d\n", time.Now().In(s.loc).Format(render.TimestampLayout), n); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep polling and print every change")
	cmd.Flags().DurationVar(&interval, "interval", unread.DefaultInterval, "Polling interval with --watch")
	cmd.Flags().StringVar(&userID, "for", "", "Count for another user (admin only)")
	return cmd
}

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := v.GetString(keyJWTSecret)
			if secret == "" {
				return fmt.Errorf("--%s is required", keyJWTSecret)
			}
			actor := model.Actor{
				UserID: v.GetString(keyUser),
				Role:   model.Role(strings.ToLower(v.GetString(keyRole))),
				Name:   v.GetString(keyName),
				Email:  v.GetString(keyEmail),
			}
			if actor.UserID == "" {
				return fmt.Errorf("--%s is required", keyUser)
			}
			if !actor.Role.Valid() {
				return fmt.Errorf("invalid role %q", actor.Role)
			}
			token, err := middleware.IssueToken(secret, actor, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
