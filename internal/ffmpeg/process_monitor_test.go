package ffmpeg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMonitor_SamplesUntilExit(t *testing.T) {
	sh := skipIfNoShell(t)

	p, err := (&Command{Binary: sh, Args: []string{"-c", "exec sleep 30"}}).Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Kill() })

	mon := NewProcessMonitor(p).WithInterval(10 * time.Millisecond)
	mon.Start(context.Background())
	defer mon.Stop()

	require.Eventually(t, func() bool { return mon.Stats() != nil }, 2*time.Second, 10*time.Millisecond)
	stats := mon.Stats()
	assert.Equal(t, p.PID(), stats.PID)
	assert.False(t, stats.LastUpdated.IsZero())

	require.NoError(t, p.Kill())
	<-p.Done()
	mon.Stop()
	assert.NotNil(t, mon.Stats())
}

func TestProcessMonitor_NoSampleBeforeStart(t *testing.T) {
	mon := NewProcessMonitor(&Process{done: make(chan struct{})})
	assert.Nil(t, mon.Stats())
	mon.Stop()
}
