package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAsOf(t *testing.T) {
	now := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	got, err := runAsOf("", now)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	got, err = runAsOf("2025-05", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = runAsOf("2025-06", now)
	assert.ErrorIs(t, err, errPeriodFlag)

	_, err = runAsOf("May 2025", now)
	assert.ErrorIs(t, err, errPeriodFlag)
}

func TestRunCommandArgs(t *testing.T) {
	cmd := newRunCommand()
	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"event_relay"}))

	require.NoError(t, cmd.Flags().Set("all", "true"))
	assert.NoError(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"event_relay"}))
}

func TestJobsCommandListsRunOrder(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"jobs"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "path_rebuild\nvolume_aggregation\nqualification_sweep\nreward_eligibility\nreward_maintenance\nevent_relay\n", out.String())
}
