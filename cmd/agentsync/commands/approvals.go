package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agentsync-dev/agentsync"
	"github.com/agentsync-dev/agentsync/store"
)

// NewApprovalsCommand creates the approvals command.
func NewApprovalsCommand() *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "approvals <session-id>",
		Short: "Answer approval requests interactively",
		Long:  `approvals joins a session and opens a prompt for listing and answering the agents' outstanding approval requests.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovals(args[0], workspaceID)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id the session runs in")
	return cmd
}

func runApprovals(sessionID, workspaceID string) error {
	client, err := loadClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}

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

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("commands: list | approve <id> | deny <id> | always <id> | quit")

	for {
		input, err := line.Prompt("approvals> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				break
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if done := handleApprovalCommand(client, input); done {
			break
		}
	}

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLeave()
	return client.LeaveSession(leaveCtx, sessionID)
}

// handleApprovalCommand executes one prompt line. Returns true on quit.
func handleApprovalCommand(client *agentsync.Client, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "quit", "exit":
		return true

	case "list":
		requests := client.Approvals().Outstanding("")
		if len(requests) == 0 {
			fmt.Println("no outstanding approvals")
			return false
		}
		for _, req := range requests {
			fmt.Printf("%s  agent=%s  %s\n", req.ID, req.AgentID, req.Prompt)
		}

	case "approve", "deny", "always":
		if len(fields) != 2 {
			fmt.Printf("usage: %s <id>\n", fields[0])
			return false
		}
		approved := fields[0] != "deny"
		alwaysAllow := fields[0] == "always"
		if !client.Approve(fields[1], approved, alwaysAllow) {
			fmt.Printf("no outstanding approval with id %s\n", fields[1])
		}

	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false
}
