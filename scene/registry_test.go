package scene

import (
	"armarkertracker/engine"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
)

func testRegistry(smoothing float64, grace int) *Registry {
	return NewRegistry(smoothing, grace, logging.NewLogger("test"))
}

func obsAt(kind engine.MarkerKind, id int, zMM float64) engine.Observation {
	var m [16]float64
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	m[14] = zMM
	return engine.Observation{Kind: kind, ID: id, Confidence: 0.9, ModelView: m}
}

func abs(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

func TestBindIsIdempotent(t *testing.T) {
	r := testRegistry(1, 0)
	first := r.BindPattern(3, 80, "cube", nil)
	second := r.BindPattern(3, 80, "cube", nil)
	if first != second {
		t.Errorf("Expected re-binding the same id to return the same node")
	}
	other := r.BindPattern(4, 80, "", nil)
	if other == first {
		t.Errorf("Expected a distinct node for a distinct id")
	}
	if other.Name != "pattern-4" {
		t.Errorf("Default anchor name wrong: got %q, want pattern-4", other.Name)
	}
	if len(r.Root().Children()) != 2 {
		t.Errorf("Expected 2 anchors under the root, got %d", len(r.Root().Children()))
	}
}

func TestApplyDetectThenUpdate(t *testing.T) {
	r := testRegistry(1, 5)
	r.BindPattern(3, 80, "cube", nil)

	events := r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 3, 500)})
	if len(events) != 1 || events[0].Type != EventDetected || events[0].ID != 3 {
		t.Fatalf("Expected one detected event, got %+v", events)
	}

	state, ok := r.Lookup(engine.KindPattern, 3)
	if !ok || !state.Visible {
		t.Fatalf("Expected a visible anchor, got %+v", state)
	}
	if abs(state.Pose.Point().Z-500) > 1e-9 {
		t.Errorf("Pose Z wrong: got %f, want 500", state.Pose.Point().Z)
	}
	if state.LastSeenSeq != 1 || abs(state.Confidence-0.9) > 1e-9 {
		t.Errorf("Anchor bookkeeping wrong: %+v", state)
	}

	events = r.Apply(2, []engine.Observation{obsAt(engine.KindPattern, 3, 600)})
	if len(events) != 1 || events[0].Type != EventUpdated {
		t.Fatalf("Expected one updated event, got %+v", events)
	}
	state, _ = r.Lookup(engine.KindPattern, 3)
	// Smoothing 1 snaps straight to the newest pose.
	if abs(state.Pose.Point().Z-600) > 1e-9 {
		t.Errorf("Pose Z wrong after update: got %f, want 600", state.Pose.Point().Z)
	}
}

func TestSmoothingBlendsPoses(t *testing.T) {
	r := testRegistry(0.5, 5)
	r.BindPattern(1, 80, "", nil)

	// The first sighting snaps, later ones blend halfway.
	r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 1, 100)})
	r.Apply(2, []engine.Observation{obsAt(engine.KindPattern, 1, 200)})

	state, _ := r.Lookup(engine.KindPattern, 1)
	if abs(state.Pose.Point().Z-150) > 1e-6 {
		t.Errorf("Expected smoothed Z 150, got %f", state.Pose.Point().Z)
	}
}

func TestGraceFramesDelayLoss(t *testing.T) {
	r := testRegistry(1, 2)
	r.BindPattern(1, 80, "", nil)

	r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 1, 100)})
	for seq := int64(2); seq <= 3; seq++ {
		if events := r.Apply(seq, nil); len(events) != 0 {
			t.Fatalf("Expected no events at seq %d, got %+v", seq, events)
		}
		state, _ := r.Lookup(engine.KindPattern, 1)
		if !state.Visible {
			t.Fatalf("Anchor hidden too early at seq %d", seq)
		}
	}

	events := r.Apply(4, nil)
	if len(events) != 1 || events[0].Type != EventLost {
		t.Fatalf("Expected a lost event at seq 4, got %+v", events)
	}
	state, _ := r.Lookup(engine.KindPattern, 1)
	if state.Visible {
		t.Errorf("Expected anchor invisible after grace ran out")
	}
	if state.Pose == nil {
		t.Errorf("Lost anchor should keep its last pose")
	}

	// Reappearing is a fresh detection.
	events = r.Apply(5, []engine.Observation{obsAt(engine.KindPattern, 1, 120)})
	if len(events) != 1 || events[0].Type != EventDetected {
		t.Errorf("Expected detected on reappearance, got %+v", events)
	}
}

func TestGraceZeroHidesImmediately(t *testing.T) {
	r := testRegistry(1, 0)
	r.BindBarcode(20, 50, "", nil)

	r.Apply(1, []engine.Observation{obsAt(engine.KindBarcode, 20, 100)})
	events := r.Apply(2, nil)
	if len(events) != 1 || events[0].Type != EventLost || events[0].Kind != engine.KindBarcode {
		t.Fatalf("Expected immediate loss, got %+v", events)
	}
}

func TestNeverSeenAnchorsEmitNothing(t *testing.T) {
	r := testRegistry(1, 0)
	r.BindPattern(1, 80, "", nil)
	for seq := int64(1); seq <= 5; seq++ {
		if events := r.Apply(seq, nil); len(events) != 0 {
			t.Fatalf("Unseen anchor produced events: %+v", events)
		}
	}
}

func TestUnboundObservationsAreCounted(t *testing.T) {
	r := testRegistry(1, 0)
	events := r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 99, 100)})
	if len(events) != 0 {
		t.Errorf("Unbound observation should not emit events, got %+v", events)
	}
	if r.UnboundCount() != 1 {
		t.Errorf("Expected unbound count 1, got %d", r.UnboundCount())
	}
}

func TestInvalidMatrixKeepsPreviousPose(t *testing.T) {
	r := testRegistry(1, 5)
	r.BindPattern(1, 80, "", nil)
	r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 1, 100)})

	bad := obsAt(engine.KindPattern, 1, 900)
	bad.ModelView[3] = 0.5
	if events := r.Apply(2, []engine.Observation{bad}); len(events) != 0 {
		t.Errorf("Rejected observation emitted events: %+v", events)
	}

	state, _ := r.Lookup(engine.KindPattern, 1)
	if abs(state.Pose.Point().Z-100) > 1e-9 {
		t.Errorf("Rejected observation disturbed the pose: got Z %f, want 100", state.Pose.Point().Z)
	}
	if !state.Visible {
		t.Errorf("Anchor should survive one rejected frame with grace 5")
	}
}

func TestOffsetApplied(t *testing.T) {
	r := testRegistry(1, 0)
	offset := spatialmath.NewPoseFromPoint(r3.Vector{Z: 10})
	r.BindPattern(1, 80, "lifted", offset)
	r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 1, 500)})

	state, _ := r.Lookup(engine.KindPattern, 1)
	if abs(state.MarkerPose.Point().Z-500) > 1e-9 {
		t.Errorf("Marker pose Z wrong: got %f, want 500", state.MarkerPose.Point().Z)
	}
	if abs(state.Pose.Point().Z-510) > 1e-9 {
		t.Errorf("Offset pose Z wrong: got %f, want 510", state.Pose.Point().Z)
	}

	node := r.BindPattern(1, 80, "", nil)
	if abs(node.Local[14]-510) > 1e-9 {
		t.Errorf("Node local translation wrong: got %f, want 510", node.Local[14])
	}
}

func TestUnbind(t *testing.T) {
	r := testRegistry(1, 0)
	r.BindPattern(1, 80, "", nil)
	r.Apply(1, []engine.Observation{obsAt(engine.KindPattern, 1, 100)})

	if !r.Unbind(engine.KindPattern, 1) {
		t.Fatalf("Unbind reported the anchor missing")
	}
	if r.Unbind(engine.KindPattern, 1) {
		t.Errorf("Second unbind should report missing")
	}
	if len(r.Snapshot()) != 0 {
		t.Errorf("Snapshot still lists the unbound anchor")
	}
	if len(r.Root().Children()) != 0 {
		t.Errorf("Unbound node still attached to the root")
	}
}

func TestSnapshotOrder(t *testing.T) {
	r := testRegistry(1, 0)
	r.BindBarcode(7, 50, "", nil)
	r.BindPattern(5, 80, "", nil)
	r.BindPattern(2, 80, "", nil)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 anchors, got %d", len(snap))
	}
	if snap[0].Kind != engine.KindPattern || snap[0].ID != 2 ||
		snap[1].Kind != engine.KindPattern || snap[1].ID != 5 ||
		snap[2].Kind != engine.KindBarcode || snap[2].ID != 7 {
		t.Errorf("Snapshot order wrong: %+v", snap)
	}
}

func TestEventsRingAndLimit(t *testing.T) {
	r := testRegistry(1, 0)
	r.BindPattern(1, 80, "", nil)

	// Alternate seen/missed so every frame emits one event.
	for seq := int64(1); seq <= 300; seq++ {
		if seq%2 == 1 {
			r.Apply(seq, []engine.Observation{obsAt(engine.KindPattern, 1, 100)})
		} else {
			r.Apply(seq, nil)
		}
	}

	all := r.Events(0)
	if len(all) != eventRingCap {
		t.Errorf("Expected ring capped at %d events, got %d", eventRingCap, len(all))
	}
	last := r.Events(5)
	if len(last) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(last))
	}
	if last[4].Seq != 300 {
		t.Errorf("Expected newest event last, got seq %d", last[4].Seq)
	}
	if last[0].Seq >= last[4].Seq {
		t.Errorf("Expected oldest-first ordering, got %+v", last)
	}
}
