package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plantwatch/internal/audit"
	"plantwatch/internal/cache"
	commands "plantwatch/internal/commands/domain"
	"plantwatch/internal/daq"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
)

// SupervisionReader resolves supervision records.
type SupervisionReader interface {
	Get(ref supervision.Ref) (supervision.Record, error)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// Manager executes operator commands through the acquisition layer.
type Manager struct {
	definitions *cache.Cache[string, commands.CommandTag]
	supervision SupervisionReader
	daq         daq.Communicator
	audit       audit.Logger
	clock       Clock
	logger      *zap.Logger
	newID       func() string
}

// Option configures the manager.
type Option func(*Manager)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuditLogger records every execution.
func WithAuditLogger(logger audit.Logger) Option {
	return func(m *Manager) {
		m.audit = logger
	}
}

// WithIDSource overrides request id generation.
func WithIDSource(source func() string) Option {
	return func(m *Manager) {
		if source != nil {
			m.newID = source
		}
	}
}

// NewManager constructs a command manager.
func NewManager(definitions *cache.Cache[string, commands.CommandTag], reader SupervisionReader, communicator daq.Communicator, opts ...Option) (*Manager, error) {
	if definitions == nil {
		return nil, errors.New("commands: nil definitions")
	}
	if reader == nil {
		return nil, errors.New("commands: nil supervision reader")
	}
	if communicator == nil {
		return nil, errors.New("commands: nil communicator")
	}
	m := &Manager{
		definitions: definitions,
		supervision: reader,
		daq:         communicator,
		clock:       systemClock{},
		logger:      zap.NewNop(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Definitions returns every configured command ordered by id.
func (m *Manager) Definitions() []commands.CommandTag {
	keys := m.definitions.Keys()
	out := make([]commands.CommandTag, 0, len(keys))
	for _, key := range keys {
		if definition, err := m.definitions.Get(key); err == nil {
			out = append(out, definition)
		}
	}
	return out
}

// ProcessRequest resolves command ids into handles, one per id in request order.
func (m *Manager) ProcessRequest(_ context.Context, ids []string) []commands.Handle {
	handles := make([]commands.Handle, 0, len(ids))
	for _, id := range ids {
		handle := commands.Handle{ID: id}
		if definition, err := m.definitions.Get(id); err == nil {
			handle.Definition = &definition
		}
		handles = append(handles, handle)
	}
	return handles
}

// Execute runs one command. Failures are reported, never returned.
func (m *Manager) Execute(ctx context.Context, req commands.Request) commands.Report {
	if req.ID == "" {
		req.ID = m.newID()
	}
	report := commands.Report{
		RequestID: req.ID,
		CommandID: req.CommandID,
		StartedAt: m.clock.Now(),
	}
	report.Status, report.Message, report.ReturnValue = m.execute(ctx, req)
	report.FinishedAt = m.clock.Now()

	metrics.IncCommandResult(string(report.Status))
	fields := []zap.Field{
		zap.String("request_id", report.RequestID),
		zap.String("command_id", report.CommandID),
		zap.String("status", string(report.Status)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	}
	if report.Succeeded() {
		m.logger.Info("command executed", fields...)
	} else {
		m.logger.Warn("command failed", append(fields, zap.String("message", report.Message))...)
	}
	m.logAudit(ctx, req, report)
	return report
}

func (m *Manager) execute(ctx context.Context, req commands.Request) (commands.Status, string, any) {
	definition, err := m.definitions.Get(req.CommandID)
	if err != nil {
		return commands.StatusExecutionFailed, fmt.Sprintf("unknown command %q", req.CommandID), nil
	}
	if status, err := definition.CheckValue(req.Value); err != nil {
		return status, err.Error(), nil
	}
	if status, message := m.checkSupervision(definition); status != commands.StatusOK {
		return status, message, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, definition.EffectiveTimeout())
	defer cancel()
	value, err := m.daq.ExecuteCommand(execCtx, definition, req)
	switch {
	case err == nil:
		return commands.StatusOK, "", value
	case errors.Is(err, context.DeadlineExceeded):
		return commands.StatusTimedOut, fmt.Sprintf("no reply within %s", definition.EffectiveTimeout()), nil
	case errors.Is(err, daq.ErrRejected):
		return commands.StatusExecutionFailed, err.Error(), nil
	default:
		return commands.StatusServerError, err.Error(), nil
	}
}

func (m *Manager) checkSupervision(definition commands.CommandTag) (commands.Status, string) {
	checks := []struct {
		ref    supervision.Ref
		status commands.Status
	}{
		{supervision.Ref{Kind: supervision.KindProcess, ID: definition.ProcessID}, commands.StatusProcessDown},
		{supervision.Ref{Kind: supervision.KindEquipment, ID: definition.EquipmentID}, commands.StatusEquipmentDown},
	}
	for _, check := range checks {
		record, err := m.supervision.Get(check.ref)
		if err != nil {
			return commands.StatusServerError, err.Error()
		}
		if !record.Running() {
			return check.status, fmt.Sprintf("%s is %s", check.ref, record.Status)
		}
	}
	return commands.StatusOK, ""
}

func (m *Manager) logAudit(ctx context.Context, req commands.Request, report commands.Report) {
	if m.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"value":   req.Value,
		"message": report.Message,
	})
	err := m.audit.Log(ctx, audit.Entry{
		Actor:        req.User,
		Action:       "command.execute",
		ResourceType: "command",
		ResourceID:   req.CommandID,
		Outcome:      string(report.Status),
		Metadata:     meta,
		CreatedAt:    report.FinishedAt,
	})
	if err != nil {
		m.logger.Warn("audit log failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
