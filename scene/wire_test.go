package scene

import (
	"armarkertracker/engine"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
)

func TestStatesRoundTrip(t *testing.T) {
	r := NewRegistry(1, 0, logging.NewLogger("test"))
	r.BindPattern(3, 80, "cube", nil)
	r.BindBarcode(9, 40, "", nil)
	r.Apply(11, []engine.Observation{obsAt(engine.KindPattern, 3, 500)})

	encoded := StatesToMaps(r.Snapshot())
	decoded, err := StatesFromValue(encoded)
	if err != nil {
		t.Fatalf("StatesFromValue failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(decoded))
	}

	seen := decoded[0]
	if seen.Kind != engine.KindPattern || seen.ID != 3 || seen.Name != "cube" || seen.WidthMM != 80 {
		t.Errorf("Seen anchor identity wrong: %+v", seen)
	}
	if !seen.Visible || seen.LastSeenSeq != 11 {
		t.Errorf("Seen anchor state wrong: %+v", seen)
	}
	if seen.Pose == nil || abs(seen.Pose.Point().Z-500) > 1e-9 {
		t.Errorf("Seen anchor pose lost in transit: %+v", seen.Pose)
	}
	if seen.ModelView[14] != 500 {
		t.Errorf("Model view lost in transit: %v", seen.ModelView)
	}

	unseen := decoded[1]
	if unseen.Kind != engine.KindBarcode || unseen.ID != 9 {
		t.Errorf("Unseen anchor identity wrong: %+v", unseen)
	}
	if unseen.Visible || unseen.Pose != nil {
		t.Errorf("Unseen anchor should travel without a pose: %+v", unseen)
	}
}

func TestStatesFromValueErrors(t *testing.T) {
	badInputs := []interface{}{
		"not a list",
		[]interface{}{"not a map"},
		[]interface{}{map[string]interface{}{"id": 1.0, "width_mm": 80.0, "visible": true}},
		[]interface{}{map[string]interface{}{"type": "glyph", "id": 1.0, "width_mm": 80.0}},
	}
	for i, input := range badInputs {
		if _, err := StatesFromValue(input); err == nil {
			t.Errorf("Expected error for bad input %d, got nil", i)
		}
	}
}

func TestEventsToMaps(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	maps := EventsToMaps([]Event{{Seq: 4, Type: EventLost, Kind: engine.KindPattern, ID: 2, At: at}})
	if len(maps) != 1 {
		t.Fatalf("Expected 1 map, got %d", len(maps))
	}
	m := maps[0].(map[string]interface{})
	if m["seq"] != 4.0 || m["type"] != "lost" || m["kind"] != "pattern" || m["id"] != 2.0 {
		t.Errorf("Event map wrong: %v", m)
	}
	if m["at"] != at.Format(time.RFC3339Nano) {
		t.Errorf("Timestamp wrong: %v", m["at"])
	}
}
