package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/urfave/cli/v3"
)

func conversationsCommand() *cli.Command {
	var (
		cfg    config
		userID string
		limit  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User ID to list conversations for",
			Value:       "local",
			Sources:     cli.EnvVars("LAPINE_USER_ID"),
			Destination: &userID,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of conversations",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "conversations",
		Usage: "List stored conversations",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			convs, err := repo.ListConversations(ctx, model.UserID(userID), 0, int(limit))
			if err != nil {
				return err
			}

			for _, conv := range convs {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n",
					conv.ID, conv.UpdatedAt.Format("2006-01-02 15:04"), conv.Title)
			}
			return nil
		},
	}
}
