package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestCheckValue(t *testing.T) {
	setpoint := CommandTag{ID: "C1", ProcessID: "P1", EquipmentID: "E1", DataType: "int", Min: ptr(0), Max: ptr(10)}

	status, err := setpoint.CheckValue(5)
	assert.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	status, _ = setpoint.CheckValue(11)
	assert.Equal(t, StatusValueOutOfRange, status)
	status, _ = setpoint.CheckValue(-1.0)
	assert.Equal(t, StatusValueOutOfRange, status)
	status, _ = setpoint.CheckValue(2.5)
	assert.Equal(t, StatusInvalidValueType, status)

	toggle := CommandTag{ID: "C2", ProcessID: "P1", EquipmentID: "E1", DataType: "bool"}
	status, _ = toggle.CheckValue(true)
	assert.Equal(t, StatusOK, status)
	status, _ = toggle.CheckValue("yes")
	assert.Equal(t, StatusInvalidValueType, status)

	untyped := CommandTag{ID: "C3", ProcessID: "P1", EquipmentID: "E1"}
	status, _ = untyped.CheckValue(map[string]any{"mode": "auto"})
	assert.Equal(t, StatusOK, status)
}

func TestValidateAndTimeout(t *testing.T) {
	assert.Error(t, CommandTag{}.Validate())
	assert.Error(t, CommandTag{ID: "C1", ProcessID: "P1"}.Validate())
	assert.Error(t, CommandTag{ID: "C1", ProcessID: "P1", EquipmentID: "E1", Min: ptr(5), Max: ptr(1)}.Validate())
	assert.NoError(t, CommandTag{ID: "C1", ProcessID: "P1", EquipmentID: "E1"}.Validate())

	assert.Equal(t, DefaultTimeout, CommandTag{}.EffectiveTimeout())
	assert.Equal(t, time.Second, CommandTag{Timeout: time.Second}.EffectiveTimeout())
}
