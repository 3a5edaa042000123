// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package diag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))

	long := strings.Repeat("x", MaxTextLength+10)
	assert.Len(t, Truncate(long), MaxTextLength)

	// multi-byte rune straddling the limit is dropped whole
	text := strings.Repeat("a", MaxTextLength-1) + "é"
	got := Truncate(text)
	assert.Equal(t, strings.Repeat("a", MaxTextLength-1), got)
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity("warn")
	require.NoError(t, err)
	assert.Equal(t, Warn, sev)

	_, err = ParseSeverity("loud")
	assert.Error(t, err)
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	s := Multi(&a, nil, &b)
	s.Printf(Error, "parameter '%s' set error", "BATT_TYPE")

	require.Len(t, a.Entries(), 1)
	assert.Equal(t, Entry{Severity: Error, Text: "parameter 'BATT_TYPE' set error"}, a.Entries()[0])
	assert.True(t, b.Contains("BATT_TYPE"))
	assert.False(t, b.Contains("ENGINE_ID"))
}

func TestRelay(t *testing.T) {
	var r Relay
	// no destination yet: falls back to glog
	r.Printf(Info, "before attach")

	rec := &Recorder{}
	r.Attach(rec)
	r.Printf(Warn, "value %d", 3)

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{Severity: Warn, Text: "value 3"}, entries[0])
}
