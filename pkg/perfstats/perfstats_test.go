package perfstats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(10 * time.Millisecond)
	a.AddSample(30 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, a.Average())
	require.Equal(t, 30*time.Millisecond, a.Max)
	a.Reset()
	require.Equal(t, int64(0), a.Samples)
}

func TestSyncTimeAccumulator(t *testing.T) {
	a := SyncTimeAccumulator{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.AddSample(time.Millisecond)
		}()
	}
	wg.Wait()
	s := a.SnapshotAndReset()
	require.Equal(t, int64(10), s.Samples)
	require.Equal(t, time.Millisecond, s.Average())
	require.Equal(t, int64(0), a.Snapshot().Samples)
}
