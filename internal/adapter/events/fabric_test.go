package events

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

func TestFabricConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	s, _, cleanup := newTestStream(t)
	defer cleanup()

	f := NewFabric(s, nil, nil, nil)

	const goroutines, perG = 16, 8
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				f.Publish(ctx, domain.Event{
					Type:  domain.EventJobSubmitted,
					JobID: fmt.Sprintf("job-%d-%d", g, i),
				})
			}
		}(g)
	}
	wg.Wait()

	page, err := f.EventsSince(ctx, 0, goroutines*perG+1)
	require.NoError(t, err)
	require.Len(t, page.Events, goroutines*perG)

	seen := make(map[string]struct{}, len(page.Events))
	for _, e := range page.Events {
		require.NotEmpty(t, e.TraceID)
		seen[e.TraceID] = struct{}{}
	}
	assert.Len(t, seen, goroutines*perG, "trace ids stay unique under concurrent publish")
}
