package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	commands "plantwatch/internal/commands/domain"
	"plantwatch/internal/daq"
	tags "plantwatch/internal/tags/domain"
)

const (
	defaultPrefix         = "plantwatch.daq"
	defaultHandlerTimeout = 10 * time.Second
)

// Communicator implements daq.Communicator over NATS.
type Communicator struct {
	Conn *nats.Conn

	prefix         string
	handlerTimeout time.Duration
	logger         *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Option configures the communicator.
type Option func(*Communicator)

// WithSubjectPrefix overrides the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(c *Communicator) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithHandlerTimeout bounds the processing of one delivered message.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(c *Communicator) {
		if timeout > 0 {
			c.handlerTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Communicator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connect dials the NATS server.
func Connect(url string, opts ...Option) (*Communicator, error) {
	conn, err := nats.Connect(url, nats.Name("plantwatch"))
	if err != nil {
		return nil, err
	}
	return New(conn, opts...)
}

// New wraps an established connection.
func New(conn *nats.Conn, opts ...Option) (*Communicator, error) {
	if conn == nil {
		return nil, errors.New("daq bus: nil connection")
	}
	c := &Communicator{
		Conn:           conn,
		prefix:         defaultPrefix,
		handlerTimeout: defaultHandlerTimeout,
		logger:         zap.NewNop(),
		subs:           make(map[string]*nats.Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close drains subscriptions and closes the connection.
func (c *Communicator) Close() {
	if c.Conn != nil {
		_ = c.Conn.Drain()
		c.Conn.Close()
	}
}

// ExecuteCommand sends a request to the owning process and waits for its reply.
func (c *Communicator) ExecuteCommand(ctx context.Context, command commands.CommandTag, request commands.Request) (any, error) {
	msg := daq.CommandMessage{
		RequestID:       request.ID,
		CommandID:       command.ID,
		HardwareAddress: command.HardwareAddress,
		Value:           request.Value,
	}
	if deadline, ok := ctx.Deadline(); ok {
		msg.TimeoutMillis = time.Until(deadline).Milliseconds()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	reply, err := c.Conn.RequestWithContext(ctx, CommandSubject(c.prefix, command.ProcessID), data)
	if err != nil {
		return nil, translateRequestError(ctx, err)
	}
	var answer daq.CommandReply
	if err := json.Unmarshal(reply.Data, &answer); err != nil {
		return nil, fmt.Errorf("daq bus: decode reply: %w", err)
	}
	return answer.Result()
}

// Subscribe delivers the process's tag updates to handler.
func (c *Communicator) Subscribe(processID string, handler daq.UpdateHandler) error {
	if processID == "" || handler == nil {
		return errors.New("daq bus: process id and handler required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[processID]; ok {
		return nil
	}
	subject := TagSubject(c.prefix, processID)
	sub, err := c.Conn.Subscribe(subject, func(msg *nats.Msg) {
		updates, err := DecodeUpdates(msg.Data)
		if err != nil {
			c.logger.Warn("discarding undecodable tag message", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()
		for _, update := range updates {
			if err := handler(ctx, update); err != nil {
				c.logger.Warn("tag update failed",
					zap.String("process_id", processID),
					zap.String("tag_id", update.TagID),
					zap.Error(err),
				)
			}
		}
	})
	if err != nil {
		return err
	}
	c.subs[processID] = sub
	return nil
}

// Unsubscribe stops delivery for the process.
func (c *Communicator) Unsubscribe(processID string) error {
	c.mu.Lock()
	sub, ok := c.subs[processID]
	delete(c.subs, processID)
	c.mu.Unlock()
	if !ok {
		return daq.ErrNotSubscribed
	}
	return sub.Unsubscribe()
}

// CommandSubject is the request subject of a process.
func CommandSubject(prefix, processID string) string {
	return prefix + "." + processID + ".command"
}

// TagSubject is the tag update subject of a process.
func TagSubject(prefix, processID string) string {
	return prefix + "." + processID + ".tags"
}

// DecodeUpdates accepts a single update object or a batch array.
func DecodeUpdates(data []byte) ([]tags.Update, error) {
	trimmed := skipSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var batch []tags.Update
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var update tags.Update
	if err := json.Unmarshal(trimmed, &update); err != nil {
		return nil, err
	}
	return []tags.Update{update}, nil
}

func skipSpace(data []byte) []byte {
	for len(data) > 0 {
		switch data[0] {
		case ' ', '\t', '\n', '\r':
			data = data[1:]
		default:
			return data
		}
	}
	return data
}

func translateRequestError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("daq bus: %w", context.DeadlineExceeded)
	case errors.Is(err, nats.ErrNoResponders):
		return fmt.Errorf("%w: %v", daq.ErrUnavailable, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}
