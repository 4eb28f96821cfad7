package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/glide/internal/client"
	"github.com/matheus3301/glide/internal/profile"
	"github.com/matheus3301/glide/internal/tui"
)

func main() {
	var profileFlag string
	root := &cobra.Command{
		Use:           "glidetui",
		Short:         "Terminal chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := profile.Resolve(profileFlag)
			if err := profile.ValidateName(name); err != nil {
				return err
			}
			return run(name)
		},
	}
	root.Flags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(name string) error {
	socketPath := profile.SocketPath(name)

	if !probeDaemon(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			return fmt.Errorf("daemon did not become ready; see %s", profile.LogPath(name))
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	return tui.NewApp(c).Run()
}

// probeDaemon makes a real Status call, not just a socket connect.
func probeDaemon(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	glided := filepath.Join(filepath.Dir(executable), "glided")
	if _, err := os.Stat(glided); err != nil {
		glided = "glided"
	}
	cmd := exec.Command(glided, "--profile", name)
	// Startup errors stay visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
