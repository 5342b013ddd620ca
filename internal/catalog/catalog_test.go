package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/registry"
)

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()
	assert.Equal(t, []string{"echo", "ticker"}, c.Names())

	svc, err := c.Create("echo", map[string]string{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", svc.(*echoService).message)

	_, err = c.Create("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegister(t *testing.T) {
	c := New()
	factory := func(map[string]string) (registry.Service, error) { return &echoService{}, nil }

	require.NoError(t, c.Register("custom", factory))
	assert.ErrorIs(t, c.Register("custom", factory), ErrDuplicateType)
	assert.Error(t, c.Register("", factory))
	assert.Error(t, c.Register("nil", nil))
}

func TestTickerParams(t *testing.T) {
	c := Builtin()

	_, err := c.Create("ticker", map[string]string{"interval": "soon"})
	assert.Error(t, err)
	_, err = c.Create("ticker", map[string]string{"interval": "-1s"})
	assert.Error(t, err)

	svc, err := c.Create("ticker", map[string]string{"interval": "5ms"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, svc.(*tickerService).interval)
}

func TestTickerRunsUntilCancelled(t *testing.T) {
	var ticks atomic.Int32
	svc := &tickerService{interval: time.Millisecond, ticks: func() { ticks.Add(1) }}

	topo := cluster.NewTopology(&cluster.Node{ID: uuid.New()})
	reg := registry.NewMemoryRegistry(registry.Options{Topology: topo})
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.DeployNodeSingleton(cluster.All(), "ticker", svc).Wait(ctx))
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, reg.Cancel(cluster.All(), "ticker").Wait(ctx))
	settled := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), settled+1)
}
