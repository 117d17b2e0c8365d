package commands

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates an unknown command tag.
var ErrNotFound = errors.New("command: not found")

// Status is the outcome of one command execution.
type Status string

const (
	StatusOK               Status = "OK"
	StatusExecutionFailed  Status = "EXECUTION_FAILED"
	StatusProcessDown      Status = "PROCESS_DOWN"
	StatusEquipmentDown    Status = "EQUIPMENT_DOWN"
	StatusValueOutOfRange  Status = "VALUE_OUT_OF_RANGE"
	StatusServerError      Status = "SERVER_ERROR"
	StatusTimedOut         Status = "TIMED_OUT"
	StatusInvalidValueType Status = "INVALID_VALUE_TYPE"
)

// DefaultTimeout bounds a command round trip when the definition sets none.
const DefaultTimeout = 10 * time.Second

// CommandTag is a configured command definition.
type CommandTag struct {
	ID              string        `json:"id" yaml:"id" validate:"required"`
	Name            string        `json:"name" yaml:"name"`
	ProcessID       string        `json:"process_id" yaml:"process_id" validate:"required"`
	EquipmentID     string        `json:"equipment_id" yaml:"equipment_id" validate:"required"`
	DataType        string        `json:"data_type" yaml:"data_type" validate:"omitempty,oneof=bool int float string"`
	Min             *float64      `json:"min,omitempty" yaml:"min"`
	Max             *float64      `json:"max,omitempty" yaml:"max"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	HardwareAddress string        `json:"hardware_address,omitempty" yaml:"hardware_address"`
}

// Validate checks definition invariants.
func (c CommandTag) Validate() error {
	if c.ID == "" {
		return errors.New("command: empty id")
	}
	if c.ProcessID == "" || c.EquipmentID == "" {
		return fmt.Errorf("command %s: process and equipment required", c.ID)
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return fmt.Errorf("command %s: min greater than max", c.ID)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("command %s: negative timeout", c.ID)
	}
	return nil
}

// EffectiveTimeout returns the configured timeout or DefaultTimeout.
func (c CommandTag) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// CheckValue verifies the requested value against the data type and range.
func (c CommandTag) CheckValue(value any) (Status, error) {
	switch c.DataType {
	case "bool":
		if _, ok := value.(bool); !ok {
			return StatusInvalidValueType, fmt.Errorf("command %s: expected bool, got %T", c.ID, value)
		}
		return StatusOK, nil
	case "string":
		if _, ok := value.(string); !ok {
			return StatusInvalidValueType, fmt.Errorf("command %s: expected string, got %T", c.ID, value)
		}
		return StatusOK, nil
	}

	number, ok := toFloat(value)
	if !ok {
		if c.DataType == "" && c.Min == nil && c.Max == nil {
			return StatusOK, nil
		}
		return StatusInvalidValueType, fmt.Errorf("command %s: expected number, got %T", c.ID, value)
	}
	if c.DataType == "int" && number != float64(int64(number)) {
		return StatusInvalidValueType, fmt.Errorf("command %s: expected integer, got %v", c.ID, value)
	}
	if c.Min != nil && number < *c.Min {
		return StatusValueOutOfRange, fmt.Errorf("command %s: %v below minimum %v", c.ID, value, *c.Min)
	}
	if c.Max != nil && number > *c.Max {
		return StatusValueOutOfRange, fmt.Errorf("command %s: %v above maximum %v", c.ID, value, *c.Max)
	}
	return StatusOK, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Request asks for one command execution.
type Request struct {
	ID        string `json:"id"`
	CommandID string `json:"command_id"`
	Value     any    `json:"value"`
	User      string `json:"user,omitempty"`
}

// Report is the result of one execution. Executions always produce a report.
type Report struct {
	RequestID   string    `json:"request_id"`
	CommandID   string    `json:"command_id"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	ReturnValue any       `json:"return_value,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Succeeded reports whether the command was executed.
func (r Report) Succeeded() bool {
	return r.Status == StatusOK
}

// Handle pairs a requested id with its definition; Definition is nil for unknown ids.
type Handle struct {
	ID         string      `json:"id"`
	Definition *CommandTag `json:"definition"`
}
