// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoard_InitialState(t *testing.T) {
	b := NewBoard()
	assert.False(t, b.CheckError())
	assert.Equal(t, Init, b.ComponentStatus(Comm))
	assert.Equal(t, "COMM=INIT ADC=INIT FLASH=INIT", b.String())
}

func TestBoard_CheckError(t *testing.T) {
	b := NewBoard()
	b.SetComponentStatus(Flash, Fail)
	assert.True(t, b.CheckError())
	assert.Equal(t, Fail, b.ComponentStatus(Flash))

	b.SetComponentStatus(Flash, Normal)
	assert.False(t, b.CheckError())
}

func TestBoard_UnknownComponentIgnored(t *testing.T) {
	b := NewBoard()
	b.SetComponentStatus(Component(42), Fail)
	assert.False(t, b.CheckError())
	assert.Equal(t, Init, b.ComponentStatus(Component(42)))
	assert.Equal(t, "COMPONENT(42)", Component(42).String())
}
