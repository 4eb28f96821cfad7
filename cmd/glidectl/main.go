package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/glide/internal/client"
	"github.com/matheus3301/glide/internal/profile"
)

var (
	profileFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "glidectl",
		Short:         "Control a running glided",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "per-call deadline")

	root.AddCommand(
		statusCmd(),
		loginCmd(),
		logoutCmd(),
		reconnectCmd(),
		conversationsCmd(),
		messagesCmd(),
		sendCmd(),
		retryCmd(),
		deleteCmd(),
		chatCmd(),
		usersCmd(),
		watchCmd(),
		initCmd(),
		profilesCmd(),
		useCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func profileName() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// withClient dials the profile's daemon and runs fn under the call deadline.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	name, err := profileName()
	if err != nil {
		return err
	}
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
