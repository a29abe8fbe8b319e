package id

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDsAreMonotonic(t *testing.T) {
	gen := NewGenerator()

	prev := gen.Correlation()
	for i := 0; i < 1000; i++ {
		next := gen.Correlation()
		require.True(t, strings.Compare(prev.String(), next.String()) < 0,
			"id %s should sort before %s", prev, next)
		prev = next
	}
}

func TestCorrelationIDIsULID(t *testing.T) {
	id := NewGenerator().Correlation()

	assert.Len(t, id.String(), 26)
	assert.True(t, IsValid(id.String()))
}

func TestTimestamp(t *testing.T) {
	gen := NewGeneratorWithEntropy(bytes.NewReader(bytes.Repeat([]byte{1}, 64)))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return fixed }

	ts, err := Timestamp(gen.Correlation().String())
	require.NoError(t, err)
	assert.True(t, fixed.Equal(ts))

	_, err = Timestamp("not-a-ulid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers, perWorker = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[CorrelationID]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := gen.Correlation()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
