package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"filecollection/internal/client"
	"filecollection/internal/format"
	"filecollection/internal/publication"
	"filecollection/internal/repository"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	loginID = "login"
	subID   = "files"
)

func newWatchCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to the collection and print changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sub, err := client.Dial(ctx, cl.BaseURL(), cl.Token())
			if err != nil {
				return err
			}
			defer sub.Close()

			w := &watcher{out: cmd.OutOrStdout(), sub: sub, collection: cl.Collection(), baseURL: cl.BaseURL() + "/gridfs/" + cl.Collection()}
			// 先登录拿到身份，再以该身份订阅
			if err := sub.Login(loginID, cl.Token()); err != nil {
				return err
			}
			err = sub.Run(ctx, w.handle)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

type watcher struct {
	out        io.Writer
	sub        *client.Subscriber
	collection string
	baseURL    string
}

func (w *watcher) handle(msg publication.Message) {
	switch msg.Msg {
	case publication.MsgResult:
		if msg.ID != loginID {
			return
		}
		if msg.UserID == nil {
			fmt.Fprintf(w.out, "%s %s\n", red("login failed:"), msg.Error)
			return
		}
		fmt.Fprintf(w.out, "%s %s\n", gray("logged in as"), bold(*msg.UserID))
		if err := w.sub.Subscribe(subID, w.collection, *msg.UserID); err != nil {
			fmt.Fprintf(w.out, "%s %v\n", red("subscribe failed:"), err)
		}
	case publication.MsgAdded, publication.MsgChanged:
		if msg.Fields == nil {
			return
		}
		fmt.Fprintln(w.out, w.line(msg.Msg, *msg.Fields))
	case publication.MsgRemoved:
		fmt.Fprintf(w.out, "%-8s %s\n", red("removed"), msg.ID)
	case publication.MsgReady:
		fmt.Fprintf(w.out, "%s\n", gray(fmt.Sprintf("-- %d records, watching for changes --", len(w.sub.Records()))))
	case publication.MsgNoSub, publication.MsgError:
		fmt.Fprintf(w.out, "%s %s %s\n", red(msg.Msg), msg.ID, msg.Error)
	}
}

func (w *watcher) line(kind string, rec repository.FileRecord) string {
	entry := format.NewEntry(rec, nil, w.baseURL)

	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %s  %s  %s", yellow(kind), bold(entry.ShortFilename), entry.FormattedLength, gray(humanize.Time(rec.UploadDate)))
	if entry.Complete {
		fmt.Fprintf(&b, "  %s", green(entry.Link))
	} else {
		fmt.Fprintf(&b, "  %s", yellow(entry.Status))
	}
	return b.String()
}
