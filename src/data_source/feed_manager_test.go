package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"
)

var _ interfaces.IFeedSource = (*FeedManager)(nil)

type stubSource struct {
	started, stopped, forced int
}

func (s *stubSource) Start(context.Context) error { s.started++; return nil }
func (s *stubSource) Stop() error                 { s.stopped++; return nil }
func (s *stubSource) State() string               { return "subscribed" }
func (s *stubSource) ReconnectCount() int64       { return 4 }
func (s *stubSource) ForceReconnect()             { s.forced++ }

type stubIngester struct {
	mu     sync.Mutex
	seeded []models.MCandle
	topics []string
	fail   bool
	panics bool
}

func (i *stubIngester) Ingest(msg models.MRawMessage) error {
	if i.panics {
		panic("bad frame")
	}
	if i.fail {
		return errors.New("decode")
	}
	i.mu.Lock()
	i.topics = append(i.topics, msg.Topic)
	i.mu.Unlock()
	return nil
}

func (i *stubIngester) SeedCandles(c []models.MCandle) { i.seeded = c }

// blockingBootstrap holds Start inside the bootstrap step until released.
type blockingBootstrap struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingBootstrap) FetchInitialCandles(context.Context) ([]models.MCandle, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

type stubBootstrap struct {
	candles []models.MCandle
	err     error
}

func (b stubBootstrap) FetchInitialCandles(context.Context) ([]models.MCandle, error) {
	return b.candles, b.err
}

func TestFeedManagerSeedsThenStarts(t *testing.T) {
	ing := &stubIngester{}
	src := &stubSource{}
	m := NewFeedManager(ing, stubBootstrap{candles: []models.MCandle{{Time: 60}}}, logger.Nop("feed"))

	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.SetSource(src))
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.SetSource(src))

	assert.Len(t, ing.seeded, 1)
	assert.Equal(t, 1, src.started)
	assert.Equal(t, "subscribed", m.State())
	assert.Equal(t, int64(4), m.ReconnectCount())

	m.ForceReconnect()
	assert.Equal(t, 1, src.forced)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Equal(t, 1, src.stopped)
}

func TestFeedManagerBootstrapFailureIsNotFatal(t *testing.T) {
	ing := &stubIngester{}
	src := &stubSource{}
	m := NewFeedManager(ing, stubBootstrap{err: errors.New("offline")}, logger.Nop("feed"))
	require.NoError(t, m.SetSource(src))

	require.NoError(t, m.Start(context.Background()))
	assert.Nil(t, ing.seeded)
	assert.Equal(t, 1, src.started)
}

func TestFeedManagerHandleCountsFailures(t *testing.T) {
	ing := &stubIngester{}
	m := NewFeedManager(ing, nil, logger.Nop("feed"))

	m.Handle(models.MRawMessage{Topic: "tickers.BTCUSDT"})
	assert.Equal(t, []string{"tickers.BTCUSDT"}, ing.topics)

	ing.fail = true
	m.Handle(models.MRawMessage{Topic: "orderbook.50.BTCUSDT"})
	ing.fail, ing.panics = false, true
	m.Handle(models.MRawMessage{Topic: "kline.1.BTCUSDT"})
	assert.Equal(t, int64(2), m.IngestErrors())
}

func TestFeedManagerStatusDuringStart(t *testing.T) {
	boot := blockingBootstrap{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewFeedManager(&stubIngester{}, boot, logger.Nop("feed"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = m.State()
			_ = m.ReconnectCount()
		}
	}()
	require.NoError(t, m.SetSource(&stubSource{}))
	wg.Wait()

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()
	<-boot.entered

	status := make(chan string, 1)
	go func() { status <- m.State() }()
	select {
	case s := <-status:
		assert.Equal(t, "subscribed", s)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind bootstrap")
	}

	close(boot.release)
	require.NoError(t, <-started)
	require.NoError(t, m.Stop())
}
