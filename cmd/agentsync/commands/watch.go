package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsync-dev/agentsync/channel"
	"github.com/agentsync-dev/agentsync/dispatch"
	"github.com/agentsync-dev/agentsync/store"
	"github.com/agentsync-dev/agentsync/wire"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a session's event stream",
		Long:  `watch joins a session and prints messages, status changes, and notifications as they arrive, until interrupted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0], workspaceID)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id the session runs in")
	return cmd
}

func runWatch(sessionID, workspaceID string) error {
	client, err := loadClient()
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}

	printWatchEvents(client.Dispatcher())
	unsubState := client.Channel().Subscribe(func(s channel.State) {
		if s.Status == channel.StatusReconnecting {
			log.Printf("connection lost, reconnecting (attempt %d): %v", s.ReconnectAttempt, s.Err)
		}
	})
	defer unsubState()

	joinCtx, cancelJoin := context.WithTimeout(context.Background(), 10*time.Second)
	err = client.JoinSession(joinCtx, store.Snapshot{
		ID:          sessionID,
		WorkspaceID: workspaceID,
		Status:      store.SessionPending,
	})
	cancelJoin()
	if err != nil {
		return fmt.Errorf("join session: %w", err)
	}

	log.Printf("watching session %s", sessionID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLeave()
	return client.LeaveSession(leaveCtx, sessionID)
}

// printWatchEvents subscribes a printing handler for the events a human
// following a session cares about.
func printWatchEvents(d *dispatch.Dispatcher) {
	dispatch.On(d, func(ev wire.AgentMessage) {
		fmt.Printf("[%s] %s (%s): %s\n", ev.CreatedAt.Format(time.TimeOnly), ev.AgentName, ev.Role, ev.Content)
	})
	dispatch.On(d, func(ev wire.AgentStatus) {
		if ev.Error != "" {
			fmt.Printf("agent %s: %s (%s)\n", ev.AgentID, ev.Status, ev.Error)
			return
		}
		fmt.Printf("agent %s: %s\n", ev.AgentID, ev.Status)
	})
	dispatch.On(d, func(ev wire.AgentStreamEnd) {
		fmt.Printf("agent %s finished a response (%d chars)\n", ev.AgentID, len(ev.FullContent))
	})
	dispatch.On(d, func(ev wire.AgentAttention) {
		fmt.Printf("!! [%s] %s: %s\n", ev.Type, ev.AgentName, ev.Title)
	})
	dispatch.On(d, func(ev wire.ApprovalRequested) {
		fmt.Printf("?? approval %s from agent %s: %s\n", ev.ID, ev.AgentID, ev.Prompt)
	})
}
