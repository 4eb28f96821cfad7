package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/glide/internal/client"
	"github.com/matheus3301/glide/internal/config"
	"github.com/matheus3301/glide/internal/lock"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/profile"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(st)
				}
				who := "(signed out)"
				if st.Identity != nil {
					who = fmt.Sprintf("%s (%s)", st.Identity.Name, st.Identity.ID)
				}
				fmt.Printf("Profile:       %s\n", st.Profile)
				fmt.Printf("Identity:      %s\n", who)
				fmt.Printf("Connection:    %s\n", st.Connection)
				fmt.Printf("Conversations: %d\n", st.ConversationCount)
				if st.ActiveID != "" {
					fmt.Printf("Open:          %s\n", st.ActiveID)
				}
				fmt.Printf("Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
				return nil
			})
		},
	}
}

func loginCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Sign the daemon in",
		Long:  "Signs in with a bearer token. Without --user-id the identity is resolved by the backend.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id *model.Identity
			if userID != "" {
				id = &model.Identity{ID: userID, Name: name}
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				me, err := c.Login(ctx, args[0], id)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(me)
				}
				fmt.Printf("Signed in as %s (%s)\n", me.Name, me.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "identity id, skips the lookup")
	cmd.Flags().StringVar(&name, "name", "", "display name, with --user-id")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign the daemon out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				return c.Logout(ctx)
			})
		},
	}
}

func reconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Retry the push channel after it failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				state, err := c.RetryConnection(ctx)
				if err != nil {
					return err
				}
				fmt.Println(state)
				return nil
			})
		},
	}
}

func initCmd() *cobra.Command {
	var p config.Profile
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a profile configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := profileName()
			if err != nil {
				return err
			}
			path := profile.ConfigPath(name)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			prof := config.Defaults()
			prof.Server = p.Server
			prof.Auth = p.Auth
			if err := prof.Validate(); err != nil {
				return err
			}
			if err := profile.EnsureDir(name); err != nil {
				return err
			}
			if err := config.SaveProfile(path, &prof); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.Server.BaseURL, "base-url", "", "REST API root, e.g. http://localhost:8080/api")
	cmd.Flags().StringVar(&p.Server.SocketURL, "socket-url", "", "push channel URL (derived from --base-url when empty)")
	cmd.Flags().StringVar(&p.Auth.Token, "token", "", "bearer token to sign in with at startup")
	cmd.Flags().StringVar(&p.Auth.UserID, "user-id", "", "identity id, skips the lookup at startup")
	cmd.Flags().StringVar(&p.Auth.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing profile")
	return cmd
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List profiles and whether their daemon runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(filepath.Join(profile.BaseDir(), "profiles"))
			if os.IsNotExist(err) {
				fmt.Println("No profiles found.")
				return nil
			}
			if err != nil {
				return err
			}
			type row struct {
				Name string `json:"name"`
				PID  int    `json:"pid,omitempty"`
			}
			var rows []row
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				rows = append(rows, row{Name: e.Name(), PID: lock.Holder(profile.LockPath(e.Name()))})
			}
			if jsonFlag {
				return outputJSON(rows)
			}
			def := profile.Resolve("")
			for _, r := range rows {
				mark := " "
				if r.Name == def {
					mark = "*"
				}
				state := "stopped"
				if r.PID > 0 {
					state = fmt.Sprintf("running (pid %d)", r.PID)
				}
				fmt.Printf("%s %-20s %s\n", mark, r.Name, state)
			}
			return nil
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <profile>",
		Short: "Make a profile the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profile.ValidateName(args[0]); err != nil {
				return err
			}
			path := profile.GlobalConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				cfg = &config.Config{}
			}
			cfg.DefaultProfile = args[0]
			return config.Save(path, cfg)
		},
	}
}
