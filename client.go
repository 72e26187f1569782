package draftline

import (
	"fmt"
	"log/slog"

	"github.com/draftline/draftline-go/config"
	"github.com/draftline/draftline-go/internal/reliability"
	"github.com/draftline/draftline-go/schema"
	"github.com/draftline/draftline-go/storage"
	"github.com/draftline/draftline-go/storage/sqlite"
	rabbitmqTransport "github.com/draftline/draftline-go/transports/rabbitmq"
	"github.com/draftline/draftline-go/workflow"
)

// Client is the main entry point. It wires the configured store,
// transition table, security gate, and event publisher into a ready
// workflow.Manager.
type Client struct {
	manager *workflow.Manager
	table   *workflow.Table
	store   storage.Store
	closers []func() error
}

type clientConfig struct {
	table      *workflow.Table
	contentDef *schema.Definition
	store      storage.Store
	gate       workflow.SecurityGate
	publisher  workflow.EventPublisher
	logger     *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithTable supplies a prebuilt transition table instead of loading the
// workflow definition file.
func WithTable(table *workflow.Table) ClientOption {
	return func(c *clientConfig) {
		c.table = table
	}
}

// WithStore supplies a store, overriding the path-based selection.
func WithStore(store storage.Store) ClientOption {
	return func(c *clientConfig) {
		c.store = store
	}
}

// WithSecurityGate sets the authorization gate.
func WithSecurityGate(gate workflow.SecurityGate) ClientOption {
	return func(c *clientConfig) {
		c.gate = gate
	}
}

// WithEventPublisher sets the event publisher, overriding the AMQP
// selection.
func WithEventPublisher(publisher workflow.EventPublisher) ClientOption {
	return func(c *clientConfig) {
		c.publisher = publisher
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// NewClient creates a client from configuration. Unless overridden by
// options: the transition table is loaded from cfg.WorkflowPath, the
// store is SQLite at cfg.StorePath (in-memory when the path is empty),
// and events go to RabbitMQ at cfg.AMQPURL (discarded when unset).
func NewClient(cfg config.Config, opts ...ClientOption) (*Client, error) {
	cc := &clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cc)
	}

	client := &Client{}

	if cc.table == nil {
		def, err := config.LoadWorkflow(cfg.WorkflowPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow definition: %w", err)
		}
		cc.table, err = def.Table()
		if err != nil {
			return nil, fmt.Errorf("failed to build transition table: %w", err)
		}
		cc.contentDef = def.Content
	}

	if cc.store == nil {
		if cfg.StorePath != "" {
			sqliteStore, err := sqlite.Open(cfg.StorePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open store: %w", err)
			}
			cc.store = sqliteStore
			client.closers = append(client.closers, sqliteStore.Close)
		} else {
			cc.store = storage.NewMemoryStore()
		}
	}

	if cc.publisher == nil {
		if cfg.AMQPURL != "" {
			amqpPublisher, err := rabbitmqTransport.NewPublisher(cfg.AMQPURL,
				rabbitmqTransport.WithExchange(cfg.EventExchange),
				rabbitmqTransport.WithLogger(cc.logger))
			if err != nil {
				client.close()
				return nil, fmt.Errorf("failed to create event publisher: %w", err)
			}
			cc.publisher = amqpPublisher
			client.closers = append(client.closers, amqpPublisher.Close)
		} else {
			cc.publisher = workflow.NopPublisher{}
		}
	}

	managerOpts := []workflow.ManagerOption{
		workflow.WithEventPublisher(cc.publisher),
		workflow.WithLogger(cc.logger),
		workflow.WithRetryPolicy(reliability.NewExponentialBackoff(
			cfg.RetryInterval, 25*cfg.RetryInterval, 2.0, cfg.CreateRetries)),
		workflow.WithTransactionTimeout(cfg.TxTimeout),
	}
	if cc.gate != nil {
		managerOpts = append(managerOpts, workflow.WithSecurityGate(cc.gate))
	}
	if cc.contentDef != nil {
		managerOpts = append(managerOpts,
			workflow.WithValidator(schema.NewValidator(schema.WithContentDefinition(cc.contentDef))))
	}

	client.manager = workflow.NewManager(cc.store, cc.table, managerOpts...)
	client.table = cc.table
	client.store = cc.store
	return client, nil
}

// Workflows returns the workflow manager.
func (c *Client) Workflows() *workflow.Manager {
	return c.manager
}

// Table returns the transition table.
func (c *Client) Table() *workflow.Table {
	return c.table
}

// Store returns the underlying store.
func (c *Client) Store() storage.Store {
	return c.store
}

// Close releases the store and publisher resources owned by the client.
func (c *Client) Close() error {
	return c.close()
}

func (c *Client) close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
