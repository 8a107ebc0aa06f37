package mapcore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
)

// Snapshot is an immutable view of the session state after an event
type Snapshot struct {
	View           View         `json:"view"`
	Resolution     float64      `json:"resolution"`
	FeatureVersion uint64       `json:"featureVersion"`
	FeatureCount   int          `json:"featureCount"`
	Passes         int          `json:"passes"`
	Clusters       []*Cluster   `json:"-"`
	Markers        []*Marker    `json:"-"` // visible, paint order
	Placed         []*Marker    `json:"-"` // every cluster with its style
	Overlay        OverlayState `json:"overlay"`
	Cursor         CursorKind   `json:"cursor"`
}

// SessionOptions configures a Session
type SessionOptions struct {
	Engine *Engine
	Styles *StyleResolver
	View   View
	Cursor CursorSink

	// OnOverlay and OnRecluster run on the event loop. They must not call
	// back into the session.
	OnOverlay   func(OverlayState)
	OnRecluster func(Snapshot)
}

type request struct {
	apply func()
	done  chan struct{}
}

// Session owns the clustering engine, style resolver, interaction
// controller, view and rendered layer of one map. A single goroutine
// applies every event in order; callers block until their event is applied.
type Session struct {
	store      *FeatureStore
	engine     *Engine
	styles     *StyleResolver
	controller *Controller
	opts       SessionOptions

	// owned by the loop goroutine
	view   View
	set    *FeatureSet
	layer  *ClusterLayer
	passes int

	snap   atomic.Pointer[Snapshot]
	events chan request

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// NewSession creates a session over store. Unset options get defaults.
func NewSession(store *FeatureStore, opts SessionOptions) *Session {
	if opts.Engine == nil {
		opts.Engine = NewEngine(DefaultPixelDistance, AlgorithmGreedy)
	}
	if opts.Styles == nil {
		opts.Styles = NewStyleResolver(StyleConfig{})
	}
	if opts.View.Width == 0 || opts.View.Height == 0 {
		opts.View = NewView(ViewConfig{
			Center: [2]float64{opts.View.Center[0], opts.View.Center[1]},
			Zoom:   opts.View.Zoom,
			Width:  opts.View.Width,
			Height: opts.View.Height,
		})
	}

	s := &Session{
		store:      store,
		engine:     opts.Engine,
		styles:     opts.Styles,
		controller: NewController(opts.Cursor),
		opts:       opts,
		view:       opts.View,
		events:     make(chan request),
	}
	s.snap.Store(&Snapshot{View: s.view, Resolution: s.view.Resolution(), Cursor: CursorDefault})

	store.OnReplace(func(set *FeatureSet) {
		if err := s.do(context.Background(), func() { s.featuresReplaced(set) }); err != nil {
			log.Printf("[CLUSTER] Dropping feature set version %d: %v", set.Version, err)
		}
	})
	return s
}

// Start clusters the current store snapshot and begins the event loop.
// It returns immediately.
func (s *Session) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return fmt.Errorf("session already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.set = s.store.Snapshot()
	s.recompute(true)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop ends the event loop and waits for it to exit. Idempotent.
func (s *Session) Stop() error {
	s.startedMu.Lock()
	if !s.started {
		s.startedMu.Unlock()
		return nil
	}
	s.started = false
	s.startedMu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.events:
			req.apply()
			close(req.done)
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish
func (s *Session) do(ctx context.Context, fn func()) error {
	s.startedMu.Lock()
	if !s.started {
		s.startedMu.Unlock()
		return ErrSessionClosed
	}
	loopCtx := s.ctx
	s.startedMu.Unlock()

	req := request{apply: fn, done: make(chan struct{})}
	select {
	case s.events <- req:
	case <-loopCtx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted the request always completes
	<-req.done
	return nil
}

// Snapshot returns the state after the last applied event
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// SetZoom changes the zoom level, reclustering when the resolution changes
func (s *Session) SetZoom(ctx context.Context, zoom float64) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		s.view = s.view.WithZoom(zoom)
		s.recompute(false)
		snap = *s.snap.Load()
	})
	return snap, err
}

// Pan moves the view by a pixel drag. Clusters are kept; markers are
// re-placed for hit-testing.
func (s *Session) Pan(ctx context.Context, dx, dy float64) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		s.view = s.view.Pan(dx, dy)
		s.recompute(false)
		snap = *s.snap.Load()
	})
	return snap, err
}

// SetView replaces the whole view (center, zoom and size)
func (s *Session) SetView(ctx context.Context, v View) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		s.view = v.WithZoom(v.Zoom).WithSize(v.Width, v.Height)
		s.recompute(false)
		snap = *s.snap.Load()
	})
	return snap, err
}

// PointerMove updates cursor feedback for a pointer position
func (s *Session) PointerMove(ctx context.Context, px Pixel) (CursorKind, error) {
	var kind CursorKind
	err := s.do(ctx, func() {
		kind = s.controller.OnPointerMove(px)
		s.publish()
	})
	return kind, err
}

// Click applies a click at px, anchoring a popup at the map coordinate
// under the pointer.
func (s *Session) Click(ctx context.Context, px Pixel) (OverlayState, error) {
	var state OverlayState
	err := s.do(ctx, func() { state = s.click(px, s.view.ToMap(px)) })
	return state, err
}

// ClickAt applies a click at a map coordinate
func (s *Session) ClickAt(ctx context.Context, coord orb.Point) (OverlayState, error) {
	var state OverlayState
	err := s.do(ctx, func() { state = s.click(s.view.ToPixel(coord), coord) })
	return state, err
}

func (s *Session) click(px Pixel, coord orb.Point) OverlayState {
	state := s.controller.OnClick(px, coord)
	s.publish()
	if s.opts.OnOverlay != nil {
		s.opts.OnOverlay(state)
	}
	return state
}

// CloseOverlay hides the popup
func (s *Session) CloseOverlay(ctx context.Context) (OverlayState, error) {
	var state OverlayState
	err := s.do(ctx, func() {
		s.controller.Hide()
		state = s.controller.Overlay()
		s.publish()
		if s.opts.OnOverlay != nil {
			s.opts.OnOverlay(state)
		}
	})
	return state, err
}

func (s *Session) featuresReplaced(set *FeatureSet) {
	s.set = set
	s.engine.Invalidate()
	s.recompute(false)
}

// recompute reclusters when the engine reports a change, otherwise
// re-places the existing markers for the current view.
func (s *Session) recompute(force bool) {
	if force {
		s.engine.Invalidate()
	}

	clusters, changed := s.engine.Update(s.set, s.view.Resolution())
	switch {
	case changed:
		s.styles.Invalidate()
		s.layer = NewClusterLayer(clusters, s.styles, s.view)
		s.passes++
		log.Printf("[CLUSTER] Pass %d: %d features -> %d clusters at resolution %.2f",
			s.passes, s.set.Len(), len(clusters), s.view.Resolution())
	case s.layer != nil && s.layer.View() != s.view:
		s.layer = s.layer.Reproject(s.view)
	}
	s.controller.SetLayer(s.layer)
	s.publish()

	if changed && s.opts.OnRecluster != nil {
		s.opts.OnRecluster(s.Snapshot())
	}
}

// publish stores a fresh snapshot
func (s *Session) publish() {
	snap := &Snapshot{
		View:       s.view,
		Resolution: s.view.Resolution(),
		Passes:     s.passes,
		Overlay:    s.controller.Overlay(),
		Cursor:     s.controller.Cursor(),
	}
	if s.set != nil {
		snap.FeatureVersion = s.set.Version
		snap.FeatureCount = s.set.Len()
	}
	if s.layer != nil {
		snap.Clusters = s.engine.Clusters()
		snap.Markers = s.layer.Markers()
		snap.Placed = s.layer.Placed()
	}
	s.snap.Store(snap)
}
