// Package agentsync is the client-side synchronization core for a
// multi-agent cloud workspace. It turns the server's unordered,
// duplicate-prone event stream into a consistent local model: session
// aggregate state, token streaming, attention notifications,
// checkpoint bookkeeping, and approval correlation, all fed by one
// bidirectional event channel.
package agentsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentsync-dev/agentsync/approval"
	"github.com/agentsync-dev/agentsync/attention"
	"github.com/agentsync-dev/agentsync/channel"
	"github.com/agentsync-dev/agentsync/checkpoint"
	"github.com/agentsync-dev/agentsync/dispatch"
	obs "github.com/agentsync-dev/agentsync/pkg/observability"
	"github.com/agentsync-dev/agentsync/store"
	"github.com/agentsync-dev/agentsync/stream"
	"github.com/agentsync-dev/agentsync/wire"
	"golang.org/x/time/rate"
)

// Client owns the full synchronization core for one user. All inbound
// events flow through its dispatcher; every component mutates its own
// slice of state inside those handlers, so consumers read a consistent
// model without coordinating with each other.
type Client struct {
	cfg Config

	channel     *channel.Manager
	dispatcher  *dispatch.Dispatcher
	spawner     *dispatch.Spawner
	store       *store.Store
	streams     *stream.Accumulator
	attention   *attention.Tracker
	checkpoints *checkpoint.Registry
	approvals   *approval.Correlator
	trimmer     *attention.Trimmer
	history     attention.History
	obsServer   *obs.Server

	unsubs []func()
}

// New creates a client over the default websocket transport.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Each physical client carries a stable instance id so the server
	// can tell reconnects apart from second devices.
	header := http.Header{}
	header.Set("X-Agentsync-Client", uuid.NewString())
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	transport := channel.NewWebSocketTransport(channel.WebSocketConfig{
		URL:                  cfg.ServerURL,
		Header:               header,
		HandshakeTimeout:     cfg.Channel.HandshakeTimeout,
		MaxReconnectInterval: cfg.Channel.MaxReconnectInterval,
		EmitRate:             rate.Limit(cfg.Channel.EmitRate),
		EmitBurst:            cfg.Channel.EmitBurst,
	})
	return NewWithTransport(cfg, transport)
}

// NewWithTransport creates a client over a caller-supplied transport.
// Useful for testing with an in-memory channel.
func NewWithTransport(cfg Config, transport channel.Transport) (*Client, error) {
	history, err := newHistory(cfg.History)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		channel:     channel.NewManager(transport),
		dispatcher:  dispatch.New(),
		spawner:     dispatch.NewSpawner(context.Background()),
		store:       store.New(),
		checkpoints: checkpoint.NewRegistry(),
	}
	c.streams = stream.New(c.store)
	c.attention = attention.NewTracker(attention.TrackerConfig{
		MinUnfocused:  cfg.Attention.MinUnfocused,
		LongUnfocused: cfg.Attention.LongUnfocused,
		History:       history,
	}, c.channel, c.spawner)
	c.history = history
	c.approvals = approval.NewCorrelator(c.channel, c.spawner)
	c.trimmer = attention.NewTrimmer(c.attention, cfg.Attention.TrimSchedule)

	c.bindTransport()
	c.bindHandlers()

	if cfg.Observability.Enabled {
		obs.InitMetrics()
		checker := obs.InitHealthChecker()
		checker.RegisterCheck(obs.ChannelCheck(c.channel.Connected))
		if redisHistory, ok := history.(*attention.RedisHistory); ok {
			checker.RegisterCheck(obs.HistoryCheck(redisHistory.Ping))
		}
		c.obsServer = obs.NewServer(cfg.Observability.Port)
	}

	return c, nil
}

func newHistory(cfg HistoryConfig) (attention.History, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "file":
		h, err := attention.NewFileHistory(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("file history: %w", err)
		}
		return h, nil
	case "redis":
		h, err := attention.NewRedisHistory(attention.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			ItemTTL:  cfg.Redis.ItemTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis history: %w", err)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// bindTransport routes every inbound event name from the channel into
// the dispatcher.
func (c *Client) bindTransport() {
	for _, name := range wire.InboundNames() {
		name := name
		unsub := c.channel.On(name, func(payload json.RawMessage) {
			c.dispatcher.DispatchRaw(context.Background(), name, payload)
		})
		c.unsubs = append(c.unsubs, unsub)
	}
}

// onSession registers a handler that only fires for events scoped to a
// loaded session. Events for other sessions are counted and dropped.
func onSession[T wire.SessionEvent](c *Client, h func(T)) {
	unsub := dispatch.On(c.dispatcher, func(ev T) {
		if !c.store.HasSession(ev.Session()) {
			obs.RecordEventDropped("scope")
			return
		}
		h(ev)
	})
	c.unsubs = append(c.unsubs, unsub)
}

// onWorkspace registers a handler for workspace-scoped events, resolving
// the workspace to its loaded session first.
func onWorkspace[T wire.WorkspaceEvent](c *Client, h func(sessionID string, ev T)) {
	unsub := dispatch.On(c.dispatcher, func(ev T) {
		sessionID, ok := c.store.SessionForWorkspace(ev.Workspace())
		if !ok {
			obs.RecordEventDropped("scope")
			return
		}
		h(sessionID, ev)
	})
	c.unsubs = append(c.unsubs, unsub)
}

func (c *Client) bindHandlers() {
	onSession(c, func(ev wire.AgentMessage) {
		conversationID, ok := c.store.ConversationForAgent(ev.SessionID, ev.AgentID)
		if !ok {
			obs.RecordEventDropped("referent")
			return
		}
		c.store.AddMessage(ev.SessionID, conversationID, store.Message{
			ID:        ev.ID,
			Role:      ev.Role,
			Content:   ev.Content,
			ToolCalls: ev.ToolCalls,
			CreatedAt: ev.CreatedAt,
		})
	})

	onSession(c, func(ev wire.ConversationMessage) {
		c.store.AddMessage(ev.SessionID, ev.ConversationID, store.Message{
			ID:        ev.ID,
			Role:      ev.Role,
			Content:   ev.Content,
			ToolCalls: ev.ToolCalls,
			CreatedAt: ev.CreatedAt,
		})
	})

	onSession(c, func(ev wire.AgentStatus) {
		status := store.AgentState(ev.Status)
		update := store.AgentUpdate{Status: &status}
		if ev.Error != "" {
			update.LastError = &ev.Error
		}
		c.store.UpdateAgent(ev.SessionID, ev.AgentID, update)
	})

	onSession(c, func(ev wire.AgentConfigUpdate) {
		update := store.AgentUpdate{
			Model:           ev.Updates.Model,
			Mode:            ev.Updates.Mode,
			ThinkingEnabled: ev.Updates.ThinkingEnabled,
			ThinkingBudget:  ev.Updates.ThinkingBudget,
		}
		if ev.Updates.Mode != nil {
			// Remember the prior mode so an automatic switch can be
			// reverted later.
			if agent, ok := c.store.Agent(ev.SessionID, ev.AgentID); ok && agent.Mode != *ev.Updates.Mode {
				prev := agent.Mode
				update.PreviousMode = &prev
			}
		}
		c.store.UpdateAgent(ev.SessionID, ev.AgentID, update)
	})

	onSession(c, func(ev wire.AgentStreamStart) { c.streams.Start(ev) })
	onSession(c, func(ev wire.AgentToken) { c.streams.Append(ev) })
	onSession(c, func(ev wire.AgentThinkingToken) { c.streams.AppendThinking(ev) })
	onSession(c, func(ev wire.AgentStreamEnd) { c.streams.Finish(ev) })

	onWorkspace(c, func(sessionID string, ev wire.WorkspaceStatus) {
		c.store.SetWorkspaceStatus(sessionID, ev.Status)
		if ev.Status == "running" {
			c.store.SetBillingStandby(sessionID, false)
		}
	})
	onWorkspace(c, func(sessionID string, ev wire.WorkspaceBillingStandby) {
		c.store.SetBillingStandby(sessionID, true)
	})

	onSession(c, func(ev wire.ConversationCreated) {
		c.store.CreateConversation(ev.SessionID, store.Conversation{
			ID:   ev.ConversationID,
			Name: ev.ConversationName,
		})
	})
	onSession(c, func(ev wire.ConversationUpdated) {
		c.store.RenameConversation(ev.SessionID, ev.ConversationID, ev.ConversationName)
	})
	onSession(c, func(ev wire.ConversationDeleted) {
		c.store.DeleteConversation(ev.SessionID, ev.ConversationID)
	})
	onSession(c, func(ev wire.ConversationAttached) {
		c.store.AttachAgent(ev.SessionID, ev.ConversationID, ev.AgentID)
	})
	onSession(c, func(ev wire.ConversationDetached) {
		c.store.DetachAgent(ev.SessionID, ev.ConversationID, ev.AgentID)
	})

	onSession(c, func(ev wire.AgentAttention) {
		c.attention.Upsert(attention.FromEvent(ev))
	})
	onSession(c, func(ev wire.AgentAttentionRead) {
		c.attention.ApplyRead(ev.AttentionID)
	})
	onSession(c, func(ev wire.AgentAttentionDismiss) {
		c.attention.ApplyDismiss(ev.AttentionID)
	})
	onSession(c, func(ev wire.AgentAttentionDismissAll) {
		c.attention.ApplyDismissAll(ev.SessionID, ev.AgentID)
	})

	onSession(c, func(ev wire.ApprovalRequested) {
		c.approvals.Track(approval.Request{
			ID:        ev.ID,
			SessionID: ev.SessionID,
			AgentID:   ev.AgentID,
			Prompt:    ev.Prompt,
			Payload:   ev.Payload,
			CreatedAt: ev.CreatedAt,
		})
		c.attention.Upsert(attention.Item{
			ID:        "approval-" + ev.ID,
			AgentID:   ev.AgentID,
			SessionID: ev.SessionID,
			Type:      attention.TypeNeedsApproval,
			Title:     ev.Prompt,
			Priority:  attention.PriorityHigh,
			CreatedAt: ev.CreatedAt,
			Metadata:  map[string]any{"approval_id": ev.ID},
		})
	})
	onSession(c, func(ev wire.ApprovalResponse) {
		c.approvals.ApplyRemote(ev)
		c.attention.ApplyDismiss("approval-" + ev.ID)
	})
}

// Connect establishes the channel and starts the background workers.
// Idempotent.
func (c *Client) Connect(ctx context.Context) error {
	if c.obsServer != nil {
		if err := c.obsServer.Start(); err != nil {
			log.Printf("observability server: %v", err)
		}
	}
	if err := c.trimmer.Start(); err != nil {
		return fmt.Errorf("start trimmer: %w", err)
	}
	if err := c.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}
	return nil
}

// JoinSession loads a session snapshot, scopes the channel to it, and
// kicks off the attention history backfill. The backfill is fire and
// forget; live events arriving first win by id.
func (c *Client) JoinSession(ctx context.Context, snap store.Snapshot) error {
	c.store.LoadSession(snap)
	c.attention.SetActiveSession(snap.ID)

	if err := c.channel.JoinSession(ctx, channel.SessionScope{
		SessionID: snap.ID,
		UserID:    c.cfg.UserID,
		AuthToken: c.cfg.AuthToken,
	}); err != nil {
		return err
	}

	if c.history != nil {
		sessionID := snap.ID
		c.spawner.Go("attention-history", func(ctx context.Context) error {
			return c.attention.LoadHistory(ctx, sessionID)
		})
	}
	return nil
}

// LeaveSession tears one session down: unscopes the channel, discards
// in-flight streams, and drops the session's local state. Persisted
// attention history survives for the next join.
func (c *Client) LeaveSession(ctx context.Context, sessionID string) error {
	err := c.channel.LeaveSession(ctx, sessionID)

	c.streams.DiscardSession(sessionID)
	c.approvals.Clear(sessionID)
	c.attention.ClearSession(sessionID)
	c.checkpoints.Clear(sessionID)
	c.store.UnloadSession(sessionID)
	return err
}

// Close disconnects and stops every background worker, waiting briefly
// for in-flight detached sends to finish.
func (c *Client) Close() error {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil

	err := c.channel.Disconnect()
	c.trimmer.Stop()
	c.spawner.Drain(5 * time.Second)

	if c.history != nil {
		if cerr := c.history.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c.obsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := c.obsServer.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// Approve resolves an outstanding approval request as a local decision.
func (c *Client) Approve(id string, approved, alwaysAllow bool) bool {
	resolved := c.approvals.Resolve(id, approved, alwaysAllow)
	if resolved {
		c.attention.Dismiss("approval-" + id)
	}
	return resolved
}

// RestoreCheckpoint records a checkpoint restore: the session is marked
// restoring for the duration and later same-agent checkpoints become
// superseded. Returns false if the checkpoint is unknown.
func (c *Client) RestoreCheckpoint(sessionID, checkpointID string) bool {
	c.store.SetRestoring(sessionID, true)
	restored := c.checkpoints.MarkRestored(sessionID, checkpointID)
	c.store.SetRestoring(sessionID, false)
	return restored
}

// SetFocused feeds a platform focus transition into the attention
// auto-acknowledge policy.
func (c *Client) SetFocused(focused bool) { c.attention.SetFocused(focused) }

// SetPanelOpen records whether the notification panel is visible.
func (c *Client) SetPanelOpen(open bool) { c.attention.SetPanelOpen(open) }

// Store exposes the session aggregate for reads.
func (c *Client) Store() *store.Store { return c.store }

// Streams exposes the streaming accumulator for reads.
func (c *Client) Streams() *stream.Accumulator { return c.streams }

// Attention exposes the notification tracker.
func (c *Client) Attention() *attention.Tracker { return c.attention }

// Checkpoints exposes the checkpoint registry.
func (c *Client) Checkpoints() *checkpoint.Registry { return c.checkpoints }

// Approvals exposes the approval correlator for reads.
func (c *Client) Approvals() *approval.Correlator { return c.approvals }

// Channel exposes the connection manager.
func (c *Client) Channel() *channel.Manager { return c.channel }

// Dispatcher exposes the event dispatcher so callers can subscribe to
// raw events alongside the built-in handlers.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }
