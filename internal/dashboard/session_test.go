package dashboard_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DeafMist/insight-dashboard/internal/dashboard"
	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// gatedSource answers from a per-topic gate so tests control arrival order.
// It ignores cancellation on purpose to model a response already in flight.
type gatedSource struct {
	mu       sync.Mutex
	gates    map[string]chan struct{}
	canceled map[string]bool
	fail     map[string]error
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		gates:    map[string]chan struct{}{},
		canceled: map[string]bool{},
		fail:     map[string]error{},
	}
}

func (g *gatedSource) gate(topic string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[topic]
	if !ok {
		ch = make(chan struct{})
		g.gates[topic] = ch
	}
	return ch
}

func (g *gatedSource) wait(ctx context.Context, sel dashboard.Selection) error {
	topic := sel.Value(query.Topic)
	<-g.gate(topic)

	g.mu.Lock()
	defer g.mu.Unlock()
	if ctx.Err() != nil {
		g.canceled[topic] = true
	}
	return g.fail[topic]
}

func (g *gatedSource) FilterOptions(context.Context) (*insights.FilterOptions, error) {
	return &insights.FilterOptions{Topics: []string{"gas", "oil"}}, nil
}

func (g *gatedSource) Stats(ctx context.Context, sel dashboard.Selection) (*insights.Stats, error) {
	if err := g.wait(ctx, sel); err != nil {
		return nil, err
	}
	key := sel.Value(query.Topic)
	stats := &insights.Stats{Summary: query.NewSummary(int64(len(key)), query.Means{Intensity: float64(len(key))})}
	stats.Distributions.Topics = insights.Distribution{
		Field:   query.Topic,
		Average: query.Intensity,
		Buckets: []query.Bucket{{Key: key, Count: int64(len(key)), Average: 1}},
	}
	return stats, nil
}

func (g *gatedSource) Total(ctx context.Context, sel dashboard.Selection) (int64, error) {
	if err := g.wait(ctx, sel); err != nil {
		return 0, err
	}
	return int64(len(sel.Value(query.Topic))), nil
}

func topicPanel() []dashboard.Panel {
	return []dashboard.Panel{{
		ID: "topics", Section: "Topics", Title: "Topic Count",
		Chart: dashboard.ChartBar, Distribution: "topics", Value: dashboard.ValueCount,
	}}
}

func TestSessionDropsStaleResponses(t *testing.T) {
	src := newGatedSource()
	s := dashboard.NewSession(src, topicPanel(), nil)
	defer s.Close()
	ctx := context.Background()

	first := s.Apply(ctx, dashboard.NewSelection().With(query.Topic, "slow"))
	second := s.Apply(ctx, dashboard.NewSelection().With(query.Topic, "fast-topic"))
	require.Equal(t, first+1, second)

	view := s.View()
	require.Equal(t, dashboard.StateLoading, view.Cards.State)
	require.Equal(t, dashboard.StateLoading, view.Panels[0].Widget.State)

	// The newer selection answers first, the superseded one afterwards.
	close(src.gate("fast-topic"))
	require.Eventually(t, func() bool {
		return s.View().Panels[0].Widget.State == dashboard.StateReady
	}, waitFor, tick)
	close(src.gate("slow"))
	s.Wait()

	view = s.View()
	require.Equal(t, second, view.Generation)
	require.Equal(t, "fast-topic", view.Selection.Value(query.Topic))
	require.Equal(t, dashboard.StateReady, view.Cards.State)
	require.EqualValues(t, len("fast-topic"), view.Cards.Total)
	require.Equal(t, []dashboard.Point{{Label: "fast-topic", Value: float64(len("fast-topic"))}}, view.Panels[0].Series.Points)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.True(t, src.canceled["slow"], "superseded requests must be cancelled")
	require.False(t, src.canceled["fast-topic"])
}

func TestSessionFailureIsVisible(t *testing.T) {
	src := newGatedSource()
	src.fail["bad"] = errors.New("stats: status 500")
	close(src.gate("bad"))

	s := dashboard.NewSession(src, topicPanel(), nil)
	defer s.Close()

	s.Apply(context.Background(), dashboard.NewSelection().With(query.Topic, "bad"))
	s.Wait()

	view := s.View()
	require.Equal(t, dashboard.StateFailed, view.Cards.State)
	require.Contains(t, view.Cards.Error, "status 500")
	require.Equal(t, dashboard.StateFailed, view.Panels[0].Widget.State)
	require.Contains(t, view.Panels[0].Widget.Error, "status 500")
}

func TestSessionLoadOptions(t *testing.T) {
	s := dashboard.NewSession(newGatedSource(), nil, nil)
	defer s.Close()

	require.Equal(t, dashboard.StateLoading, s.View().Filters.State)
	require.NoError(t, s.Load(context.Background()))

	view := s.View()
	require.Equal(t, dashboard.StateReady, view.Filters.State)
	require.Equal(t, []string{"gas", "oil"}, view.Filters.Options.Topics)
	require.Equal(t, query.Sentinel, view.Selection.Value(query.City))
	require.Zero(t, view.Generation)
}

func TestSessionParentCancelReachesRequests(t *testing.T) {
	src := newGatedSource()
	s := dashboard.NewSession(src, topicPanel(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Apply(ctx, dashboard.NewSelection().With(query.Topic, "stuck"))
	cancel()
	close(src.gate("stuck"))
	s.Close()

	src.mu.Lock()
	defer src.mu.Unlock()
	require.True(t, src.canceled["stuck"])
}

// instantSource answers every call immediately.
type instantSource struct{}

func (instantSource) FilterOptions(context.Context) (*insights.FilterOptions, error) {
	return &insights.FilterOptions{}, nil
}

func (instantSource) Stats(ctx context.Context, _ dashboard.Selection) (*insights.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &insights.Stats{Summary: query.NoData()}, nil
}

func (instantSource) Total(ctx context.Context, _ dashboard.Selection) (int64, error) {
	return 0, ctx.Err()
}

func TestSessionApplyRacingClose(t *testing.T) {
	s := dashboard.NewSession(instantSource{}, topicPanel(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Apply(ctx, dashboard.NewSelection())
			}
		}()
	}
	s.Close()
	wg.Wait()
	s.Wait()

	closedAt := s.View().Generation
	require.Equal(t, closedAt, s.Apply(ctx, dashboard.NewSelection().With(query.Topic, "late")))
	require.Equal(t, query.Sentinel, s.View().Selection.Value(query.Topic))
}
