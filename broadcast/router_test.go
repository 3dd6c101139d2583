package broadcast

import (
	"errors"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"dispatchd/domain"
	"dispatchd/presence"
)

type fakeConn struct {
	id         string
	contractor string
	sendErr    error

	mu     sync.Mutex
	events []string
	last   map[string]any
}

func (f *fakeConn) ID() string           { return f.id }
func (f *fakeConn) ContractorID() string { return f.contractor }

func (f *fakeConn) Send(event string, payload map[string]any) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.last = payload
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newTestRouter(t *testing.T) (*Router, *presence.Manager) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	rooms := presence.NewManager(logger)
	return NewRouter(rooms, logger), rooms
}

func TestBroadcastToContractorRoom(t *testing.T) {
	router, rooms := newTestRouter(t)
	c1a := &fakeConn{id: "a", contractor: "c1"}
	c1b := &fakeConn{id: "b", contractor: "c1"}
	c2 := &fakeConn{id: "c", contractor: "c2"}
	rooms.Register(c1a, nil)
	rooms.Register(c1b, nil)
	rooms.Register(c2, nil)

	router.Broadcast("x", map[string]any{"k": "v"}, Target{Contractor: "c1"})

	if got := c1a.received(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected c1a to receive event, got %v", got)
	}
	if got := c1b.received(); len(got) != 1 {
		t.Fatalf("expected every c1 connection to receive event, got %v", got)
	}
	if got := c2.received(); len(got) != 0 {
		t.Fatalf("expected c2 to receive nothing, got %v", got)
	}
}

func TestBroadcastToAbsentContractorIsNoop(t *testing.T) {
	router, _ := newTestRouter(t)
	// No connections at all: must not panic or error.
	router.Broadcast("x", nil, Target{Contractor: "ghost"})
}

func TestBroadcastStampsTimestamp(t *testing.T) {
	router, rooms := newTestRouter(t)
	conn := &fakeConn{id: "a", contractor: "c1"}
	rooms.Register(conn, nil)

	router.Broadcast("x", map[string]any{}, Target{Contractor: "c1"})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if _, ok := conn.last["timestamp"].(string); !ok {
		t.Fatalf("expected payload to carry a timestamp, got %v", conn.last)
	}
}

func TestBroadcastGlobalWithExclusion(t *testing.T) {
	router, rooms := newTestRouter(t)
	claimer := &fakeConn{id: "a", contractor: "c1"}
	other := &fakeConn{id: "b", contractor: "c2"}
	rooms.Register(claimer, nil)
	rooms.Register(other, nil)

	router.Broadcast("task:claimed", nil, Target{ExcludeContractor: "c1"})

	if got := claimer.received(); len(got) != 0 {
		t.Fatalf("expected excluded contractor to receive nothing, got %v", got)
	}
	if got := other.received(); len(got) != 1 {
		t.Fatalf("expected third party to receive event, got %v", got)
	}
}

func TestBroadcastBySkills(t *testing.T) {
	router, rooms := newTestRouter(t)
	driver := &fakeConn{id: "a", contractor: "c1"}
	plumber := &fakeConn{id: "b", contractor: "c2"}
	rooms.Register(driver, []string{"furniture delivery"})
	rooms.Register(plumber, []string{"plumbing"})

	router.Broadcast("task:new", nil, Target{Skills: []string{"delivery"}})

	if got := driver.received(); len(got) != 1 {
		t.Fatalf("expected skill match to receive event, got %v", got)
	}
	if got := plumber.received(); len(got) != 0 {
		t.Fatalf("expected non-matching skills to receive nothing, got %v", got)
	}
}

func TestBroadcastByLocationWithSkillFilterAndExclusion(t *testing.T) {
	router, rooms := newTestRouter(t)
	near := &fakeConn{id: "a", contractor: "c1"}
	nearWrongSkill := &fakeConn{id: "b", contractor: "c2"}
	nearExcluded := &fakeConn{id: "c", contractor: "c3"}
	far := &fakeConn{id: "d", contractor: "c4"}
	rooms.Register(near, []string{"delivery"})
	rooms.Register(nearWrongSkill, []string{"plumbing"})
	rooms.Register(nearExcluded, []string{"delivery"})
	rooms.Register(far, []string{"delivery"})
	rooms.UpdateLocation("a", domain.Location{Lat: 40.71, Lng: -74.00})
	rooms.UpdateLocation("b", domain.Location{Lat: 40.72, Lng: -74.01})
	rooms.UpdateLocation("c", domain.Location{Lat: 40.70, Lng: -74.02})
	rooms.UpdateLocation("d", domain.Location{Lat: 34.05, Lng: -118.24})

	router.Broadcast("task:new", nil, Target{
		Location:          &domain.GeoQuery{Lat: 40.71, Lng: -74.00, RadiusKm: 20},
		Skills:            []string{"delivery"},
		ExcludeContractor: "c3",
	})

	if got := near.received(); len(got) != 1 {
		t.Fatalf("expected nearby matching connection to receive event, got %v", got)
	}
	for name, conn := range map[string]*fakeConn{"wrong skill": nearWrongSkill, "excluded": nearExcluded, "far": far} {
		if got := conn.received(); len(got) != 0 {
			t.Fatalf("expected %s connection to receive nothing, got %v", name, got)
		}
	}
}

func TestBroadcastSendFailureDoesNotAbortFanout(t *testing.T) {
	router, rooms := newTestRouter(t)
	broken := &fakeConn{id: "a", contractor: "c1", sendErr: errors.New("boom")}
	healthy := &fakeConn{id: "b", contractor: "c2"}
	rooms.Register(broken, nil)
	rooms.Register(healthy, nil)

	router.Broadcast("x", nil, Target{})

	if got := healthy.received(); len(got) != 1 {
		t.Fatalf("expected healthy connection to still receive event, got %v", got)
	}
}
