package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg      config
		userID   string
		timezone string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User ID of the local session",
			Value:       "local",
			Sources:     cli.EnvVars("LAPINE_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "timezone",
			Usage:       "Timezone of the local session",
			Sources:     cli.EnvVars("LAPINE_TIMEZONE"),
			Destination: &timezone,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, orchestrationFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat from the terminal",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, _, err := cfg.newService(ctx)
			if err != nil {
				return err
			}

			ctx = model.WithSession(ctx, &model.Session{
				UserID:   model.UserID(userID),
				Timezone: timezone,
			})

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to open terminal")
			}
			defer rl.Close()

			fmt.Fprintln(c.Root().Writer, "Chat session started. Type 'exit' to quit.")

			var conversationID model.ConversationID
			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						break
					}
					return goerr.Wrap(err, "failed to read input")
				}
				if line == "exit" {
					break
				}
				if line == "" {
					continue
				}

				resp, err := sendMessage(ctx, svc, &model.ChatRequest{
					Message:        line,
					ConversationID: conversationID,
				}, c.Root().Writer)
				if err != nil {
					fmt.Fprintf(c.Root().ErrWriter, "error: %v\n", err)
					continue
				}
				conversationID = resp.ConversationID
			}

			svc.WaitRecorder()
			fmt.Fprintln(c.Root().Writer, "\nChat session completed")
			return nil
		},
	}
}

func sendMessage(ctx context.Context, svc *chat.Service, req *model.ChatRequest, w io.Writer) (*chat.Response, error) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Start()

	var once sync.Once
	stop := func() { once.Do(sp.Stop) }
	defer stop()

	resp, err := svc.Chat(ctx, req, func(ev model.StreamEvent) {
		switch ev.Kind {
		case model.EventText:
			stop()
			fmt.Fprint(w, ev.Text)
		case model.EventProgress:
			stop()
			fmt.Fprintf(w, "[%s] %s\n", ev.Progress.ToolName, ev.Progress.Message)
		}
	})
	stop()
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(w)
	return resp, nil
}
