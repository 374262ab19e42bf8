package dashboard

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

// State is the lifecycle of one widget's data.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Widget carries the load state shared by every widget.
type Widget struct {
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Cards are the headline numbers above the charts.
type Cards struct {
	Widget
	Total   int64         `json:"totalRecords"`
	Summary query.Summary `json:"summary"`
}

// PanelView is a panel with its current data.
type PanelView struct {
	Panel  Panel  `json:"panel"`
	Widget Widget `json:"widget"`
	Series Series `json:"series"`
}

// OptionsView holds the choices offered by the filter controls.
type OptionsView struct {
	Widget
	Options insights.FilterOptions `json:"options"`
}

// View is a consistent snapshot of a session.
type View struct {
	Generation uint64      `json:"generation"`
	Selection  Selection   `json:"selection"`
	Filters    OptionsView `json:"filters"`
	Cards      Cards       `json:"cards"`
	Panels     []PanelView `json:"panels"`
}

// Session tracks the widgets of one dashboard. Every Apply starts a new
// generation: in-flight requests of the previous generation are cancelled and
// any response they still deliver is dropped.
type Session struct {
	src    Source
	panels []Panel
	log    *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	gen     uint64
	cancel  context.CancelFunc
	sel     Selection
	filters OptionsView
	cards   Cards
	views   []PanelView
}

// NewSession creates a session reading from src and drawing panels.
func NewSession(src Source, panels []Panel, log *slog.Logger) *Session {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Session{
		src:     src,
		panels:  panels,
		log:     log,
		sel:     NewSelection(),
		filters: OptionsView{Widget: Widget{State: StateLoading}},
		cards:   Cards{Widget: Widget{State: StateLoading}, Summary: query.NoData()},
		views:   make([]PanelView, len(panels)),
	}
	for i, p := range panels {
		s.views[i] = PanelView{Panel: p, Widget: Widget{State: StateLoading}, Series: Series{Label: p.Title, Chart: string(p.Chart), Points: []Point{}}}
	}
	return s
}

// Load fetches the filter options. It is meant to run once per session.
func (s *Session) Load(ctx context.Context) error {
	opts, err := s.src.FilterOptions(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.filters = OptionsView{Widget: Widget{State: StateFailed, Error: err.Error()}}
		s.log.Warn("load filter options", slog.Any("err", err))
		return err
	}
	s.filters = OptionsView{Widget: Widget{State: StateReady}, Options: *opts}
	return nil
}

// Apply switches to sel and refreshes every widget in the background. It
// returns the new generation. After Close it does nothing and returns the
// current generation.
func (s *Session) Apply(ctx context.Context, sel Selection) uint64 {
	sel = sel.Clone()

	s.mu.Lock()
	if s.closed {
		gen := s.gen
		s.mu.Unlock()
		return gen
	}
	if s.cancel != nil {
		s.cancel()
	}
	genCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.sel = sel
	s.cards.Widget = Widget{State: StateLoading}
	for i := range s.views {
		s.views[i].Widget = Widget{State: StateLoading}
	}
	// Close must observe these before it waits.
	s.wg.Add(1 + len(s.panels))
	s.mu.Unlock()

	s.log.Debug("apply selection", slog.Uint64("generation", gen), slog.String("query", sel.Query().Encode()))

	go s.loadCards(genCtx, gen, sel)
	for i := range s.panels {
		go s.loadPanel(genCtx, gen, i, sel)
	}
	return gen
}

// Wait blocks until every request started so far has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight requests and waits for them to return. Later
// calls to Apply are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Generation: s.gen,
		Selection:  s.sel.Clone(),
		Filters:    s.filters,
		Cards:      s.cards,
		Panels:     make([]PanelView, len(s.views)),
	}
	copy(v.Panels, s.views)
	return v
}

func (s *Session) loadCards(ctx context.Context, gen uint64, sel Selection) {
	defer s.wg.Done()

	var (
		stats *insights.Stats
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.src.Stats(gctx, sel)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.src.Total(gctx, sel)
		return err
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.log.Debug("dropping stale cards", slog.Uint64("generation", gen), slog.Uint64("current", s.gen))
		return
	}
	if err != nil {
		s.cards.Widget = Widget{State: StateFailed, Error: err.Error()}
		s.log.Warn("load stat cards", slog.Any("err", err), slog.Uint64("generation", gen))
		return
	}
	s.cards = Cards{Widget: Widget{State: StateReady}, Total: total, Summary: stats.Summary}
}

func (s *Session) loadPanel(ctx context.Context, gen uint64, idx int, sel Selection) {
	defer s.wg.Done()

	panel := s.panels[idx]
	stats, err := s.src.Stats(ctx, sel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.log.Debug("dropping stale panel", slog.String("panel", panel.ID), slog.Uint64("generation", gen))
		return
	}
	if err != nil {
		s.views[idx].Widget = Widget{State: StateFailed, Error: err.Error()}
		s.log.Warn("load panel", slog.String("panel", panel.ID), slog.Any("err", err))
		return
	}
	s.views[idx] = PanelView{Panel: panel, Widget: Widget{State: StateReady}, Series: panel.Build(stats)}
}
