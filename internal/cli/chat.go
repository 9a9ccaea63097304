package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/syncclient"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/spf13/cobra"
)

func (a *app) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Open a conversation and chat live",
		Long: `Open a conversation, print its history and follow new messages as
they arrive. Every line typed is sent as a message. End a line with a
backslash to continue the message on the next line; the other participant
sees you typing meanwhile.

Commands:
  /retry    resend messages that failed
  /discard  drop messages that failed
  /quit     leave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			user, err := c.Session(ctx)
			if err != nil {
				return describe(err)
			}

			engine, err := syncclient.NewEngine(user.Id)
			if err != nil {
				return err
			}
			socket := syncclient.NewSocket(a.log, a.server, c.Token(), user.Id)
			session := syncclient.NewSession(a.log, engine, c, socket, syncclient.SessionOptions{})

			return runChat(ctx, session, socket, args[0], user.Id, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// socketRunner is the part of *syncclient.Socket the chat loop uses.
type socketRunner interface {
	Run(ctx context.Context, h syncclient.SocketHandler) error
}

func runChat(ctx context.Context, session *syncclient.Session, socket socketRunner, conversationId string, self int, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		session.Run(ctx)
	}()

	var socketErr error
	go func() {
		defer wg.Done()
		if err := socket.Run(ctx, session); err != nil {
			socketErr = err
			cancel()
		}
	}()

	session.Open(conversationId)
	fmt.Fprintf(out, "Joined %s. Type a message and press enter; /quit to leave.\n", conversationId)

	// stdin is not closed on cancel, so this goroutine is left behind
	go readInput(ctx, session, in, out, cancel)

	r := newRenderer(out, self)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-session.Updates():
			snap, err := session.Snapshot()
			if err != nil {
				break loop
			}
			r.render(snap)
		}
	}

	cancel()
	wg.Wait()

	if err := session.Err(); err != nil {
		return describe(err)
	}
	return describe(socketErr)
}

func readInput(ctx context.Context, session *syncclient.Session, in io.Reader, out io.Writer, quit func()) {
	scanner := bufio.NewScanner(in)
	var draft []string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		if cont, ok := strings.CutSuffix(line, `\`); ok {
			draft = append(draft, cont)
			session.Keystroke()
			continue
		}

		if len(draft) == 0 {
			switch strings.TrimSpace(line) {
			case "/quit":
				quit()
				return
			case "/retry":
				eachFailed(session, out, session.Retry)
				continue
			case "/discard":
				eachFailed(session, out, session.Discard)
				continue
			case "":
				continue
			}
		}

		content := strings.Join(append(draft, line), "\n")
		draft = draft[:0]
		if _, err := session.Send(content, nil); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}

	quit()
}

func eachFailed(session *syncclient.Session, out io.Writer, f func(clientId string) error) {
	snap, err := session.Snapshot()
	if err != nil {
		return
	}
	for _, it := range snap.Items {
		if !it.Failed {
			continue
		}
		if err := f(it.ClientId); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

// renderer prints the parts of successive snapshots not printed before.
type renderer struct {
	out  io.Writer
	self int

	printed   map[int64]bool
	failed    map[string]bool
	typing    []int
	lastState syncclient.ViewState
	unread    int
}

func newRenderer(out io.Writer, self int) *renderer {
	return &renderer{
		out:     out,
		self:    self,
		printed: make(map[int64]bool),
		failed:  make(map[string]bool),
		unread:  -1,
	}
}

func (r *renderer) render(snap syncclient.Snapshot) {
	if snap.State != r.lastState {
		r.lastState = snap.State
		if snap.State == syncclient.StateError {
			fmt.Fprintf(r.out, "! could not load messages: %v\n", snap.Err)
		}
	}

	names := make(map[int]string)
	for _, c := range snap.Conversations {
		names[c.OtherUser.Id] = userLabel(c.OtherUser)
	}

	for _, it := range snap.Items {
		switch {
		case !it.Local():
			if !r.printed[it.Message.Id] {
				r.printed[it.Message.Id] = true
				fmt.Fprintln(r.out, r.formatMessage(it.Message, names))
			}
		case it.Failed:
			if !r.failed[it.ClientId] {
				r.failed[it.ClientId] = true
				fmt.Fprintf(r.out, "! not sent: %s (%v) /retry or /discard\n", preview(it.Message.Content, 40), it.Err)
			}
		default:
			// pending again after /retry
			delete(r.failed, it.ClientId)
		}
	}

	if !slices.Equal(snap.Typing, r.typing) {
		r.typing = slices.Clone(snap.Typing)
		if len(r.typing) > 0 {
			labels := make([]string, 0, len(r.typing))
			for _, id := range r.typing {
				labels = append(labels, nameOf(id, names))
			}
			fmt.Fprintf(r.out, "… %s typing\n", strings.Join(labels, ", "))
		}
	}

	if snap.Unread != r.unread {
		if snap.Unread > 0 {
			fmt.Fprintf(r.out, "(%d unread in other conversations)\n", snap.Unread)
		}
		r.unread = snap.Unread
	}
}

func nameOf(userId int, names map[int]string) string {
	if n, ok := names[userId]; ok {
		return n
	}
	return "user " + strconv.Itoa(userId)
}

func (r *renderer) formatMessage(m types.Message, names map[int]string) string {
	from := "you"
	if m.SenderId != r.self {
		from = nameOf(m.SenderId, names)
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format(time.TimeOnly), from, m.Content)
}
