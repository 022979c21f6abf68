package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/client"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/communities"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/messages"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/posts"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/session"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, false, func(ctx context.Context, container *client.Client) error {
				err := container.Session().Login(ctx, session.Credentials{Email: email, Password: password})
				if err != nil {
					return describe(err)
				}
				user, _ := container.Session().CurrentUser()
				return printJSON(cmd.OutOrStdout(), user)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, false, func(ctx context.Context, container *client.Client) error {
				// A session that cannot be restored, offline included, is still forgotten.
				_ = container.Restore(ctx)
				return container.Session().Logout(ctx)
			})
		},
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				user, _ := container.Session().CurrentUser()
				return printJSON(cmd.OutOrStdout(), user)
			})
		},
	}
}

func newFeedCommand() *cobra.Command {
	var params posts.ListParams
	var author string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List a page of the post feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.AuthorID = model.ID(strings.TrimSpace(author))
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				if err := container.Posts().List(ctx, params); err != nil {
					return describe(err)
				}
				feed, page := container.Posts().Feed()
				return printJSON(cmd.OutOrStdout(), map[string]any{"posts": feed, "page": page})
			})
		},
	}
	cmd.Flags().IntVar(&params.Page, "page", 1, "Page number")
	cmd.Flags().StringVar(&params.Category, "category", "", "Only posts in this category")
	cmd.Flags().StringVar(&params.Search, "search", "", "Only posts matching this text")
	cmd.Flags().StringVar(&author, "author", "", "Only posts by this user id")
	return cmd
}

func newLikeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "like <post-id>",
		Short: "Toggle your like on a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := model.NewID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				if err := container.Posts().Get(ctx, id); err != nil {
					return describe(err)
				}
				if err := container.Posts().ToggleLike(ctx, id); err != nil {
					return describe(err)
				}
				post, _ := container.Posts().Post(id)
				return printJSON(cmd.OutOrStdout(), post)
			})
		},
	}
}

func newCommunitiesCommand() *cobra.Command {
	var mine bool
	var params communities.ListParams
	cmd := &cobra.Command{
		Use:   "communities",
		Short: "List the community directory or your memberships",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				if mine {
					if err := container.Communities().ListMine(ctx); err != nil {
						return describe(err)
					}
					return printJSON(cmd.OutOrStdout(), container.Communities().Mine())
				}
				if err := container.Communities().List(ctx, params); err != nil {
					return describe(err)
				}
				all, page := container.Communities().All()
				return printJSON(cmd.OutOrStdout(), map[string]any{"communities": all, "page": page})
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "Only communities you belong to")
	cmd.Flags().IntVar(&params.Page, "page", 1, "Page number")
	cmd.Flags().StringVar(&params.Search, "search", "", "Only communities matching this name")
	return cmd
}

func newJoinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "join <community-id>",
		Short: "Join or leave a community",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := model.NewID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				if err := container.Communities().Get(ctx, id); err != nil {
					return describe(err)
				}
				if err := container.Communities().ToggleMembership(ctx, id); err != nil {
					return describe(err)
				}
				community, _ := container.Communities().Detail()
				return printJSON(cmd.OutOrStdout(), community)
			})
		},
	}
}

func newConversationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				if err := container.Messages().ListConversations(ctx); err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), container.Messages().Conversations())
			})
		},
	}
}

func newSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user-id> <message>",
		Short: "Send a direct message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			receiver, err := model.NewID(args[0])
			if err != nil {
				return err
			}
			content := strings.Join(args[1:], " ")
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				message, err := container.Messages().Send(ctx, receiver, content)
				if err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), message)
			})
		},
	}
}

func newUnreadCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Print the unread message count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, true, func(ctx context.Context, container *client.Client) error {
				if err := container.Messages().UnreadCount(ctx); err != nil {
					return describe(err)
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]int{"unread_count": container.Messages().Unread()}); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return watchUnread(ctx, cmd, container)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep polling and print every change until interrupted")
	return cmd
}

func watchUnread(ctx context.Context, cmd *cobra.Command, container *client.Client) error {
	stream, unsubscribe := container.Subscribe(ctx)
	defer unsubscribe()
	container.StartPolling(ctx)

	last := container.Messages().Unread()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, open := <-stream:
			if !open {
				return nil
			}
			if change.Store != messages.StoreName {
				continue
			}
			current := container.Messages().Unread()
			if current == last {
				continue
			}
			last = current
			if err := printJSON(cmd.OutOrStdout(), map[string]int{"unread_count": current}); err != nil {
				return err
			}
		}
	}
}

// describe turns a request failure into the server's message so the CLI
// prints what the user can act on.
func describe(err error) error {
	var failure *transport.Failure
	if errors.As(err, &failure) {
		if len(failure.Fields) > 0 {
			return fmt.Errorf("%s: %v", failure.Message, failure.Fields)
		}
		return errors.New(failure.Message)
	}
	return err
}
