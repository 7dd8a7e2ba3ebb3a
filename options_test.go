package ncproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
)

func TestOptionsDefaults(t *testing.T) {
	opts := loadOptions()
	opts.normalize()
	assert.Equal(t, DefaultCapacity, opts.Capacity)
	assert.Equal(t, DefaultTimeout, opts.Timeout)
	assert.Equal(t, DefaultReadBufferCap, opts.ReadBufferCap)
	assert.NotNil(t, opts.Logger)
	assert.Equal(t, 100, opts.waitMillis())

	opts = loadOptions(WithOptions(Options{Capacity: 8}), WithTimeout(-time.Second), WithAsyncHandler(true), WithWorkers(4))
	opts.normalize()
	assert.Equal(t, 8, opts.Capacity)
	assert.Equal(t, -1, opts.waitMillis())
	assert.True(t, opts.AsyncHandler)
	assert.Equal(t, 4, opts.Workers)

	opts = loadOptions(WithTimeout(time.Microsecond))
	assert.Equal(t, 1, opts.waitMillis(), "sub-millisecond timeouts must not turn into polling")
}

func TestParseProtoAddr(t *testing.T) {
	network, address, err := parseProtoAddr("TCP4://127.0.0.1:22121")
	require.NoError(t, err)
	assert.Equal(t, "tcp4", network)
	assert.Equal(t, "127.0.0.1:22121", address)

	network, address, err = parseProtoAddr(":22121")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, ":22121", address)

	_, _, err = parseProtoAddr("://x")
	assert.ErrorIs(t, err, errorx.ErrInvalidNetworkAddress)
}
