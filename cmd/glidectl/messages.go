package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/client"
	"github.com/matheus3301/glide/internal/model"
)

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				convs, err := c.ListConversations(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(convs)
				}
				if len(convs) == 0 {
					fmt.Println("No conversations.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tWITH\tUNREAD\tLAST")
				for _, cv := range convs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", cv.ID, cv.Partner.Name, cv.UnreadCount, truncate(cv.LastMessage.Content, 40))
				}
				return w.Flush()
			})
		},
	}
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation>",
		Short: "Print the history of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if err := c.SelectConversation(ctx, args[0]); err != nil {
					return err
				}
				resp, err := c.ListMessages(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(resp)
				}
				if resp.PaneError != "" {
					return fmt.Errorf("history unavailable: %s", resp.PaneError)
				}
				for _, m := range resp.Messages {
					printMessage(m)
				}
				return nil
			})
		},
	}
}

func sendCmd() *cobra.Command {
	var sticker, wait bool
	cmd := &cobra.Command{
		Use:   "send <conversation> <text>...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			return withClient(func(ctx context.Context, c *client.Client) error {
				var events *client.EventStream
				if wait {
					var err error
					if events, err = c.WatchEvents(ctx, "message."); err != nil {
						return err
					}
				}
				msg, err := c.Send(ctx, args[0], content, sticker)
				if err != nil {
					return err
				}
				if wait {
					if msg, err = awaitOutcome(events, msg); err != nil {
						return err
					}
				}
				if jsonFlag {
					return outputJSON(msg)
				}
				printMessage(msg)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&sticker, "sticker", false, "send as a sticker")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the send is acknowledged or fails")
	return cmd
}

// awaitOutcome follows message events until the optimistic message settles.
func awaitOutcome(events *client.EventStream, pending api.Message) (api.Message, error) {
	for {
		evt, err := events.Recv()
		if err != nil {
			return pending, err
		}
		switch evt.Kind {
		case bus.KindMessageSendAck, bus.KindMessageSendFailed:
			var res api.SendResult
			if err := json.Unmarshal(evt.Payload, &res); err != nil || res.ClientID != pending.ClientID {
				continue
			}
			if evt.Kind == bus.KindMessageSendFailed {
				pending.State = model.Failed.String()
				pending.FailureReason = res.Reason
				return pending, nil
			}
			pending.ID = res.MessageID
			pending.State = model.Sent.String()
			return pending, nil
		}
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <message>",
		Short: "Resend a failed message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				msg, err := c.RetrySend(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(msg)
				}
				printMessage(msg)
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	var conversation bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your messages, or a whole conversation with --conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if conversation {
					return c.DeleteConversation(ctx, args[0])
				}
				return c.DeleteMessage(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&conversation, "conversation", false, "treat the id as a conversation")
	return cmd
}

func chatCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "chat <user-id>",
		Short: "Open a conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				conv, err := c.StartChat(ctx, model.Identity{ID: args[0], Name: name})
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(conv)
				}
				fmt.Println(conv.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the partner")
	return cmd
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users <term>",
		Short: "Search the user directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				users, err := c.SearchUsers(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(users)
				}
				for _, u := range users {
					fmt.Printf("%-24s %s\n", u.ID, u.Name)
				}
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace]",
		Short: "Stream daemon events, optionally filtered by kind prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := ""
			if len(args) == 1 {
				ns = args[0]
			}
			return withClient(func(_ context.Context, c *client.Client) error {
				// Runs until interrupted, without the call deadline.
				events, err := c.WatchEvents(context.Background(), ns)
				if err != nil {
					return err
				}
				for {
					evt, err := events.Recv()
					if errors.Is(err, io.EOF) {
						return nil
					}
					if err != nil {
						return err
					}
					if jsonFlag {
						if err := outputJSON(evt); err != nil {
							return err
						}
						continue
					}
					fmt.Printf("%s  %-28s %s\n", evt.OccurredAt.Local().Format(time.TimeOnly), evt.Kind, string(evt.Payload))
				}
			})
		},
	}
}

func printMessage(m api.Message) {
	body := m.Content
	if m.Kind == model.Sticker.String() {
		body = "[sticker] " + body
	}
	if m.State == model.Deleted.String() {
		body = "(message deleted)"
	}
	state := ""
	switch m.State {
	case model.Pending.String():
		state = " (pending)"
	case model.Failed.String():
		state = " (failed: " + m.FailureReason + ")"
	}
	id := m.ID
	if id == "" {
		id = m.ClientID
	}
	fmt.Printf("%s  %-10s %-12s %s%s\n", m.CreatedAt.Local().Format(time.DateTime), id, m.SenderID, body, state)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
