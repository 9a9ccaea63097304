package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/config"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/syncclient"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/spf13/cobra"
)

const envPassword = "CHATCTL_PASSWORD"

func (a *app) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Long: `Log in with email and password. The password is read from --password,
then $CHATCTL_PASSWORD, then the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = config.GetEnv(envPassword, "")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = line
			}

			c := syncclient.NewClient(a.server, "")
			token, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return describe(err)
			}
			if err := a.saveToken(token); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s.\n", email)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Remove(a.tokenFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove token file: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func (a *app) conversationsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recently active first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			convs, err := c.ListConversations(cmd.Context(), types.Page{Limit: limit})
			if err != nil {
				return describe(err)
			}

			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations.")
				return nil
			}

			for _, conv := range convs {
				fmt.Fprintln(out, formatSummary(conv))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max conversations")
	return cmd
}

func formatSummary(c types.ConversationSummary) string {
	var sb strings.Builder
	sb.WriteString(c.Id)
	sb.WriteString("  ")
	sb.WriteString(userLabel(c.OtherUser))
	if c.OtherUser.IsOnline {
		sb.WriteString(" (online)")
	}
	if c.UnreadCount > 0 {
		fmt.Fprintf(&sb, " [%d unread]", c.UnreadCount)
	}
	if c.LatestMessage != nil {
		fmt.Fprintf(&sb, "\n    %s %s", c.LatestMessage.CreatedAt.Local().Format(time.DateTime), preview(c.LatestMessage.Content, 60))
	}
	return sb.String()
}

func userLabel(u types.User) string {
	if u.Username != "" {
		return u.Username
	}
	return "user " + strconv.Itoa(u.Id)
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func (a *app) unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the total unread message count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			n, err := c.UnreadCount(cmd.Context())
			if err != nil {
				return describe(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	var (
		to             int
		conversationId string
		contextRef     string
	)

	cmd := &cobra.Command{
		Use:   "send [flags] <message>",
		Short: "Send one message",
		Long: `Send a message to a conversation, or to a user. Sending to a user
creates the conversation with them if it does not exist yet.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			req := types.SendMessageRequest{
				ConversationId:      conversationId,
				ReceiverId:          to,
				ConversationContext: contextRef,
				Content:             strings.Join(args, " "),
			}
			msg, err := c.SendMessage(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d to conversation %s (%s).\n", msg.Id, msg.ConversationId, msg.Status)
			return nil
		},
	}

	cmd.Flags().IntVar(&to, "to", 0, "recipient user id")
	cmd.Flags().StringVarP(&conversationId, "conversation", "c", "", "conversation id")
	cmd.Flags().StringVar(&contextRef, "context", "", "context reference for a new conversation")
	cmd.MarkFlagsOneRequired("to", "conversation")
	cmd.MarkFlagsMutuallyExclusive("to", "conversation")

	return cmd
}

func (a *app) presenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence <user-id>",
		Short: "Show whether a user is online",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userId, err := strconv.Atoi(args[0])
			if err != nil || userId <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			c, err := a.client()
			if err != nil {
				return err
			}

			p, err := c.Presence(cmd.Context(), userId)
			if err != nil {
				return describe(err)
			}

			state := "offline"
			if p.Online {
				state = fmt.Sprintf("online (%d connections)", p.Connections)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %s\n", p.UserId, state)
			return nil
		},
	}
}
