package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRecoversPanics(t *testing.T) {
	p, err := New(2, nil)
	require.NoError(t, err)
	defer p.Release()

	var wg sync.WaitGroup
	wg.Add(2)
	require.NoError(t, p.Submit(func() {
		defer wg.Done()
		panic("boom")
	}))
	ran := false
	require.NoError(t, p.Submit(func() {
		defer wg.Done()
		ran = true
	}))
	wg.Wait()
	assert.True(t, ran)
}
