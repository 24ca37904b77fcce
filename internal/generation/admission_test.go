package generation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/sprite"
	"SpriteForge/internal/synthesis"
	"SpriteForge/internal/synthesis/procedural"
)

// gatedProvider 在 open 关闭前阻塞所有调用。
type gatedProvider struct {
	inner   synthesis.Provider
	entered atomic.Int32
	open    chan struct{}
}

func (p *gatedProvider) Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Image, error) {
	p.entered.Add(1)
	select {
	case <-p.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.inner.Synthesize(ctx, req)
}

// burst 并发发起 n 个请求；finished 统计已经返回的请求数。
func burst(t *testing.T, cfg Config, n int) (f fixture, gate *gatedProvider, codes map[xerrors.Code]int, finished *atomic.Int32, wait func()) {
	t.Helper()
	gate = &gatedProvider{inner: procedural.New(), open: make(chan struct{})}
	f = newFixtureWithConfig(t, cfg, func(d *Dependencies) { d.Provider = gate })
	codes = make(map[xerrors.Code]int)
	finished = new(atomic.Int32)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer finished.Add(1)
			_, err := f.svc.GenerateSprites(context.Background(), "user-1",
				SpriteRequest{Prompt: "knight", Motions: []string{"idle"}, Seed: int64(i + 1)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				codes[""]++
				return
			}
			codes[xerrors.CodeOf(err)]++
		}()
	}
	return f, gate, codes, finished, wg.Wait
}

func TestConcurrentRequestsRespectQueueLimit(t *testing.T) {
	f, gate, codes, finished, wait := burst(t, Config{AtlasFrameSize: sprite.SizeSmall}, 30)

	// 其余请求在持有者释放名额前就已被拒绝，而不是排队等待。
	require.Eventually(t, func() bool { return finished.Load() == 30-DefaultQueueLimit },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return gate.entered.Load() == DefaultQueueLimit },
		2*time.Second, 5*time.Millisecond)
	close(gate.open)
	wait()

	assert.Equal(t, DefaultQueueLimit, codes[""])
	assert.Equal(t, 30-DefaultQueueLimit, codes[xerrors.CodeTooManyConcurrent])
	assert.Equal(t, DefaultQueueLimit, f.records.Len())
}

func TestConcurrentRequestsRespectDailyLimit(t *testing.T) {
	f, gate, codes, finished, wait := burst(t, Config{AtlasFrameSize: sprite.SizeSmall, QueueLimit: 100}, 30)

	require.Eventually(t, func() bool { return finished.Load() == 30-DefaultDailyLimit },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return gate.entered.Load() == DefaultDailyLimit },
		2*time.Second, 5*time.Millisecond)
	close(gate.open)
	wait()

	assert.Equal(t, DefaultDailyLimit, codes[""])
	assert.Equal(t, 30-DefaultDailyLimit, codes[xerrors.CodeQuotaExceeded])
	assert.Equal(t, DefaultDailyLimit, f.records.Len())

	usage, err := f.svc.Usage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, usage.Remaining)
}

func TestReserveHoldsSlotUntilReleased(t *testing.T) {
	f := newFixtureWithConfig(t, Config{AtlasFrameSize: sprite.SizeSmall, QueueLimit: 1}, nil)
	ctx := context.Background()

	release, err := f.svc.Reserve(ctx, "user-1")
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, "user-1")
	assert.Equal(t, xerrors.CodeTooManyConcurrent, xerrors.CodeOf(err))

	other, err := f.svc.Reserve(ctx, "user-2")
	require.NoError(t, err, "slots are per user")
	other()

	release()
	release()
	again, err := f.svc.Reserve(ctx, "user-1")
	require.NoError(t, err)
	again()

	_, err = f.svc.Reserve(ctx, " ")
	assert.Equal(t, 401, StatusCode(err))
}

func TestFailedGenerationReleasesSlot(t *testing.T) {
	f := newFixtureWithConfig(t, Config{AtlasFrameSize: sprite.SizeSmall, QueueLimit: 1}, nil)
	f.provider.err = xerrors.New(xerrors.CodeSynthesisFailed, "upstream timeout")
	ctx := context.Background()

	_, err := f.svc.GenerateSprites(ctx, "user-1", SpriteRequest{Prompt: "knight", Motions: []string{"idle"}, Seed: 1})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeSynthesisFailed, xerrors.CodeOf(err))

	require.NoError(t, f.svc.Admit(ctx, "user-1"))
	release, err := f.svc.Reserve(ctx, "user-1")
	require.NoError(t, err)
	release()
}
