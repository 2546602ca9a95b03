package scene

import (
	"armarkertracker/engine"
	"armarkertracker/utils"
	"sort"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
)

// EventType labels a marker lifecycle transition.
type EventType string

const (
	EventDetected EventType = "detected"
	EventUpdated  EventType = "updated"
	EventLost     EventType = "lost"
)

const eventRingCap = 128

// Event records one marker transition at one frame.
type Event struct {
	Seq  int64
	Type EventType
	Kind engine.MarkerKind
	ID   int
	At   time.Time
}

type anchor struct {
	node    *Node
	kind    engine.MarkerKind
	id      int
	widthMM float64
	offset  spatialmath.Pose

	pose       spatialmath.Pose
	confidence float64
	lastSeen   int64
	missed     int
	visible    bool
	everSeen   bool
}

// AnchorState is an immutable view of one anchor for rendering and replies.
// Pose is the marker pose with the configured offset applied; MarkerPose is
// the raw smoothed marker pose. Both are camera-frame, nil until first seen.
type AnchorState struct {
	Kind        engine.MarkerKind
	ID          int
	Name        string
	WidthMM     float64
	Visible     bool
	Confidence  float64
	Pose        spatialmath.Pose
	MarkerPose  spatialmath.Pose
	ModelView   [16]float64
	LastSeenSeq int64
	Missed      int
}

// Registry owns the scene graph and the two marker dictionaries. Apply is
// called by the frame pump; Snapshot and Events can be called concurrently
// from command handlers and render paths.
type Registry struct {
	mu     sync.Mutex
	logger logging.Logger

	root    *Node
	pattern map[int]*anchor
	barcode map[int]*anchor

	smoothing   float64
	graceFrames int

	events  []Event
	unbound int64
}

// NewRegistry creates an empty scene. smoothing is the low-pass blend factor
// in (0,1], 1 meaning no filtering; graceFrames is how many consecutive
// missed frames an anchor survives before it goes invisible.
func NewRegistry(smoothing float64, graceFrames int, logger logging.Logger) *Registry {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 1
	}
	if graceFrames < 0 {
		graceFrames = 0
	}
	return &Registry{
		logger:      logger,
		root:        NewNode("root"),
		pattern:     map[int]*anchor{},
		barcode:     map[int]*anchor{},
		smoothing:   smoothing,
		graceFrames: graceFrames,
	}
}

// Root returns the scene root node.
func (r *Registry) Root() *Node {
	return r.root
}

// BindPattern anchors a scene node to a pattern marker id. Binding an id
// that is already bound returns the existing node unchanged.
func (r *Registry) BindPattern(id int, widthMM float64, name string, offset spatialmath.Pose) *Node {
	return r.bind(engine.KindPattern, id, widthMM, name, offset)
}

// BindBarcode anchors a scene node to a barcode marker id.
func (r *Registry) BindBarcode(id int, widthMM float64, name string, offset spatialmath.Pose) *Node {
	return r.bind(engine.KindBarcode, id, widthMM, name, offset)
}

func (r *Registry) bind(kind engine.MarkerKind, id int, widthMM float64, name string, offset spatialmath.Pose) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	dict := r.dict(kind)
	if existing, ok := dict[id]; ok {
		return existing.node
	}
	if name == "" {
		name = utils.MarkerKey(string(kind), id)
	}
	node := NewNode(name)
	node.Visible = false
	r.root.AddChild(node)
	dict[id] = &anchor{
		node:    node,
		kind:    kind,
		id:      id,
		widthMM: widthMM,
		offset:  offset,
	}
	return node
}

// Unbind removes an anchor and detaches its node. Reports whether the id
// was bound.
func (r *Registry) Unbind(kind engine.MarkerKind, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dict := r.dict(kind)
	a, ok := dict[id]
	if !ok {
		return false
	}
	r.root.RemoveChild(a.node)
	delete(dict, id)
	return true
}

func (r *Registry) dict(kind engine.MarkerKind) map[int]*anchor {
	if kind == engine.KindBarcode {
		return r.barcode
	}
	return r.pattern
}

// Apply folds one frame's observations into the scene: smooth poses of seen
// anchors, count down grace on missed ones, toggle visibility and record
// lifecycle events. Returns the events emitted for this frame. Observations
// for unbound ids are counted, not errors; observations that fail matrix
// validation leave the anchor's previous pose untouched.
func (r *Registry) Apply(seq int64, observations []engine.Observation) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var emitted []Event
	seen := map[*anchor]bool{}

	for _, obs := range observations {
		a, ok := r.dict(obs.Kind)[obs.ID]
		if !ok {
			r.unbound++
			continue
		}
		if err := utils.ValidateModelView(obs.ModelView); err != nil {
			r.logger.Debugf("Dropping %s %d observation at seq %d: %v", obs.Kind, obs.ID, seq, err)
			continue
		}
		cleaned, err := utils.OrthonormalizeModelView(obs.ModelView)
		if err != nil {
			r.logger.Debugf("Dropping %s %d observation at seq %d: %v", obs.Kind, obs.ID, seq, err)
			continue
		}
		markerPose, err := utils.PoseFromMatrix16(cleaned)
		if err != nil {
			r.logger.Debugf("Dropping %s %d observation at seq %d: %v", obs.Kind, obs.ID, seq, err)
			continue
		}

		if a.pose != nil && r.smoothing < 1 {
			markerPose = spatialmath.Interpolate(a.pose, markerPose, r.smoothing)
		}
		a.pose = markerPose
		a.confidence = obs.Confidence
		a.lastSeen = seq
		a.missed = 0
		a.node.Local = utils.Mat4FromPose(r.composedPose(a))
		seen[a] = true

		eventType := EventUpdated
		if !a.visible {
			eventType = EventDetected
		}
		a.visible = true
		a.everSeen = true
		a.node.Visible = true
		emitted = append(emitted, Event{Seq: seq, Type: eventType, Kind: a.kind, ID: a.id, At: now})
	}

	for _, dict := range []map[int]*anchor{r.pattern, r.barcode} {
		for _, a := range dict {
			if seen[a] || !a.everSeen {
				continue
			}
			a.missed++
			if a.visible && a.missed > r.graceFrames {
				a.visible = false
				a.node.Visible = false
				emitted = append(emitted, Event{Seq: seq, Type: EventLost, Kind: a.kind, ID: a.id, At: now})
			}
		}
	}

	r.events = append(r.events, emitted...)
	if over := len(r.events) - eventRingCap; over > 0 {
		r.events = append([]Event{}, r.events[over:]...)
	}
	return emitted
}

func (r *Registry) composedPose(a *anchor) spatialmath.Pose {
	if a.pose == nil {
		return spatialmath.NewZeroPose()
	}
	if a.offset == nil {
		return a.pose
	}
	return spatialmath.Compose(a.pose, a.offset)
}

func (r *Registry) stateOf(a *anchor) AnchorState {
	state := AnchorState{
		Kind:        a.kind,
		ID:          a.id,
		Name:        a.node.Name,
		WidthMM:     a.widthMM,
		Visible:     a.visible,
		Confidence:  a.confidence,
		LastSeenSeq: a.lastSeen,
		Missed:      a.missed,
	}
	if a.pose != nil {
		state.MarkerPose = a.pose
		state.Pose = r.composedPose(a)
		state.ModelView = utils.Matrix16FromPose(a.pose)
	}
	return state
}

// Snapshot returns every anchor's state in a stable order (patterns before
// barcodes, ascending id).
func (r *Registry) Snapshot() []AnchorState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AnchorState, 0, len(r.pattern)+len(r.barcode))
	for _, dict := range []map[int]*anchor{r.pattern, r.barcode} {
		ids := make([]int, 0, len(dict))
		for id := range dict {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			out = append(out, r.stateOf(dict[id]))
		}
	}
	return out
}

// Lookup returns one anchor's state.
func (r *Registry) Lookup(kind engine.MarkerKind, id int) (AnchorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.dict(kind)[id]
	if !ok {
		return AnchorState{}, false
	}
	return r.stateOf(a), true
}

// Events returns up to limit most recent events, oldest first. limit <= 0
// means all retained events.
func (r *Registry) Events(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if limit > 0 && len(r.events) > limit {
		start = len(r.events) - limit
	}
	out := make([]Event, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}

// UnboundCount reports how many observations referenced ids nothing is
// bound to.
func (r *Registry) UnboundCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbound
}
