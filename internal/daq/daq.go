package daq

import (
	"context"
	"errors"
	"fmt"

	commands "plantwatch/internal/commands/domain"
	tags "plantwatch/internal/tags/domain"
)

var (
	// ErrRejected indicates the acquisition process refused or failed the command.
	ErrRejected = errors.New("daq: command rejected")
	// ErrUnavailable indicates no acquisition process answered.
	ErrUnavailable = errors.New("daq: process unavailable")
	// ErrNotSubscribed is returned when unsubscribing an unknown process.
	ErrNotSubscribed = errors.New("daq: not subscribed")
)

// UpdateHandler receives tag updates delivered by an acquisition process.
type UpdateHandler func(ctx context.Context, update tags.Update) error

// Communicator is the transport to the data acquisition layer.
type Communicator interface {
	// ExecuteCommand sends the command and waits for the reply or ctx expiry.
	ExecuteCommand(ctx context.Context, command commands.CommandTag, request commands.Request) (any, error)
	// Subscribe starts delivering the process's tag updates to handler.
	Subscribe(processID string, handler UpdateHandler) error
	// Unsubscribe stops delivery for the process.
	Unsubscribe(processID string) error
}

// CommandMessage is the wire form of a command sent to a process.
type CommandMessage struct {
	RequestID       string `json:"request_id"`
	CommandID       string `json:"command_id"`
	HardwareAddress string `json:"hardware_address,omitempty"`
	Value           any    `json:"value"`
	TimeoutMillis   int64  `json:"timeout_ms"`
}

// CommandReply is the wire form of a process's answer.
type CommandReply struct {
	RequestID   string `json:"request_id"`
	OK          bool   `json:"ok"`
	Message     string `json:"message,omitempty"`
	ReturnValue any    `json:"return_value,omitempty"`
}

// Result converts the reply into a return value or ErrRejected.
func (r CommandReply) Result() (any, error) {
	if !r.OK {
		if r.Message == "" {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, r.Message)
	}
	return r.ReturnValue, nil
}

// Offline is the communicator used when no acquisition transport is configured.
// Commands fail with ErrUnavailable and subscriptions are accepted but never delivered.
type Offline struct{}

// ExecuteCommand implements Communicator.
func (Offline) ExecuteCommand(_ context.Context, command commands.CommandTag, _ commands.Request) (any, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, command.ProcessID)
}

// Subscribe implements Communicator.
func (Offline) Subscribe(string, UpdateHandler) error { return nil }

// Unsubscribe implements Communicator.
func (Offline) Unsubscribe(string) error { return nil }
