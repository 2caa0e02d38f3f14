package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
	"github.com/parvum/devlink/internal/server"
)

// Role is the coordinator's current position in the election.
type Role string

const (
	// RoleIdle means no election has concluded yet.
	RoleIdle Role = "idle"
	// RolePrimary means this window holds a port in the shared range.
	RolePrimary Role = "primary"
	// RoleSecondary means this window is registered with a Primary.
	RoleSecondary Role = "secondary"
)

// Config configures a Coordinator.
type Config struct {
	// WindowID identifies this window in registrations and result tagging.
	WindowID string
	// Ports is the shared range contested in the election.
	Ports []int
	// ConnectAttempts, RetryDelay and DialTimeout drive the Secondary's
	// connection to the Primary.
	ConnectAttempts int
	RetryDelay      time.Duration
	DialTimeout     time.Duration
	// RequestTimeout bounds the Secondary's requests to the Primary.
	RequestTimeout time.Duration
	// AggregationTimeout bounds how long the Primary waits for Secondary
	// answers before sending a partial merge.
	AggregationTimeout time.Duration
	// MaxSecondaries caps the Primary's registration table.
	MaxSecondaries int
	// Server configures the Primary's accept path.
	Server server.Options
	// Logger defaults to the coordinator component logger.
	Logger *slog.Logger
}

// Coordinator runs the leader election and carries whichever role it wins.
// Election is by port binding: the window that grabs a port in the shared
// range is the Primary; every other window connects to it as a Secondary.
// A Secondary that loses its Primary re-runs the election, trying the bind
// first so exactly one window is promoted.
type Coordinator struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu        sync.RWMutex
	role      Role
	port      int
	primary   *Primary
	secondary *Secondary
}

// New creates a coordinator for one window process.
func New(cfg Config, dispatcher *dispatch.Dispatcher) *Coordinator {
	if cfg.AggregationTimeout <= 0 {
		cfg.AggregationTimeout = 5 * time.Second
	}
	if cfg.MaxSecondaries <= 0 {
		cfg.MaxSecondaries = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Coordinator()
	}
	return &Coordinator{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     cfg.Logger,
		role:       RoleIdle,
	}
}

// Run participates in the election until ctx is cancelled. A window that
// becomes Primary stays Primary for the life of the process; a Secondary
// re-enters the election whenever its Primary disappears.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l, port, err := server.BindFirstFree(c.cfg.Ports)
		if err == nil {
			return c.runPrimary(ctx, l, port)
		}
		if !errors.Is(err, server.ErrNoFreePort) {
			return err
		}

		if err := c.runSecondary(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Secondary cycle failed, re-entering election", "error", err)
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Role reports the current role.
func (c *Coordinator) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Primary returns the Primary role instance, or nil while not Primary.
func (c *Coordinator) Primary() *Primary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary
}

// Port reports the bound port while Primary, 0 otherwise.
func (c *Coordinator) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// ApplyTimeouts applies reloaded request and aggregation deadlines to the
// current role and to every role entered afterwards. Zero or negative
// values leave the corresponding deadline unchanged.
func (c *Coordinator) ApplyTimeouts(request, aggregation time.Duration) {
	c.mu.Lock()
	if request > 0 {
		c.cfg.RequestTimeout = request
	}
	if aggregation > 0 {
		c.cfg.AggregationTimeout = aggregation
	}
	primary, secondary := c.primary, c.secondary
	c.mu.Unlock()

	if primary != nil {
		primary.SetAggregationTimeout(aggregation)
	}
	if secondary != nil {
		secondary.SetRequestTimeout(request)
	}
}

// DeliverSnippet pushes generated content toward the active browser tab,
// routing through the Primary when this window is a Secondary.
func (c *Coordinator) DeliverSnippet(ctx context.Context, payload protocol.SnippetPayload) error {
	c.mu.RLock()
	role, primary, secondary := c.role, c.primary, c.secondary
	c.mu.RUnlock()

	switch role {
	case RolePrimary:
		if !primary.Relay().Snippet(payload) {
			return protocol.NewError(protocol.KindCommandExecutionError, "no active tab to deliver to")
		}
		return nil
	case RoleSecondary:
		return secondary.ForwardSnippet(ctx, payload)
	default:
		return protocol.NewError(protocol.KindNotConnected, "election has not concluded")
	}
}

// runPrimary serves the bound port until ctx is cancelled.
func (c *Coordinator) runPrimary(ctx context.Context, l *server.LocalhostListener, port int) error {
	registry := NewRegistry(c.cfg.MaxSecondaries)
	aggregator := NewAggregator(c.cfg.AggregationTimeout, c.logger)
	defer aggregator.Close()

	primary := NewPrimary(c.cfg.WindowID, c.dispatcher, registry, aggregator, c.logger)
	srv := server.New(primary, c.cfg.Server)
	primary.Attach(srv)

	c.setRole(RolePrimary, port, primary, nil)
	defer c.setRole(RoleIdle, 0, nil, nil)
	c.logger.Info("Elected Primary", "window_id", c.cfg.WindowID, "port", port)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(l) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		<-serveErr
		return ctx.Err()
	case err := <-serveErr:
		return err
	}
}

// runSecondary registers with the Primary and waits for the connection to
// drop or ctx to be cancelled. A nil return means the Primary was lost and
// the election should run again.
func (c *Coordinator) runSecondary(ctx context.Context) error {
	secondary := NewSecondary(SecondaryOptions{
		WindowID:        c.cfg.WindowID,
		Ports:           c.cfg.Ports,
		ConnectAttempts: c.cfg.ConnectAttempts,
		RetryDelay:      c.cfg.RetryDelay,
		DialTimeout:     c.cfg.DialTimeout,
		RequestTimeout:  c.cfg.RequestTimeout,
		AuthToken:       c.cfg.Server.AuthToken,
		Logger:          c.logger,
	}, c.dispatcher)

	if err := secondary.Run(ctx); err != nil {
		return err
	}

	c.setRole(RoleSecondary, 0, nil, secondary)
	defer c.setRole(RoleIdle, 0, nil, nil)
	c.logger.Info("Running as Secondary", "window_id", c.cfg.WindowID)

	select {
	case <-secondary.Lost():
		c.logger.Warn("Lost the Primary, re-entering election", "window_id", c.cfg.WindowID)
		return nil
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		secondary.Stop(stopCtx)
		return ctx.Err()
	}
}

func (c *Coordinator) setRole(role Role, port int, primary *Primary, secondary *Secondary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.port = port
	c.primary = primary
	c.secondary = secondary
}
