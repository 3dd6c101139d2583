// Package broadcast resolves Targets against the presence manager
// and fans payloads out to the matching live connections.
package broadcast

import (
	"time"

	log "github.com/sirupsen/logrus"

	"dispatchd/domain"
	"dispatchd/presence"
)

// Target selects the recipients of one broadcast. Exactly one of
// Contractor, Location or Skills should be set; with none set the event
// goes to the global room. ExcludeContractor is honored for location and
// global fan-out.
type Target struct {
	Contractor        string
	Location          *domain.GeoQuery
	Skills            []string
	ExcludeContractor string
}

// Router pushes events to live connections. Delivery is fire-and-forget:
// an empty target set is a silent no-op and a failed send to one
// connection never aborts delivery to the rest.
type Router struct {
	rooms  *presence.Manager
	logger *log.Logger
}

func NewRouter(rooms *presence.Manager, logger *log.Logger) *Router {
	return &Router{rooms: rooms, logger: logger}
}

// Broadcast stamps the payload with a server timestamp and delivers it to
// every connection the target resolves to.
func (r *Router) Broadcast(event string, payload map[string]any, t Target) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	for _, c := range r.resolve(t) {
		if err := c.Send(event, payload); err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"event":      event,
				"conn":       c.ID(),
				"contractor": c.ContractorID(),
			}).Warn("broadcast send failed")
		}
	}
}

func (r *Router) resolve(t Target) []presence.Conn {
	switch {
	case t.Contractor != "":
		return r.rooms.RoomConns(presence.ContractorRoom(t.Contractor))

	case t.Location != nil:
		conns := r.rooms.ContractorsInLocation(t.Location.Lat, t.Location.Lng, t.Location.RadiusKm)
		if len(t.Skills) > 0 {
			conns = intersectSkills(r.rooms, conns, t.Skills)
		}
		return exclude(conns, t.ExcludeContractor)

	case len(t.Skills) > 0:
		return exclude(r.rooms.ContractorsWithSkills(t.Skills), t.ExcludeContractor)

	default:
		// No dedicated "global minus one" room exists; iterating every
		// authenticated connection keeps room bookkeeping to the three
		// room kinds and the filter is O(connections) anyway.
		return exclude(r.rooms.RoomConns(presence.GlobalRoom), t.ExcludeContractor)
	}
}

func intersectSkills(rooms *presence.Manager, conns []presence.Conn, skills []string) []presence.Conn {
	matching := make(map[string]struct{})
	for _, c := range rooms.ContractorsWithSkills(skills) {
		matching[c.ID()] = struct{}{}
	}
	out := conns[:0]
	for _, c := range conns {
		if _, ok := matching[c.ID()]; ok {
			out = append(out, c)
		}
	}
	return out
}

func exclude(conns []presence.Conn, contractorID string) []presence.Conn {
	if contractorID == "" {
		return conns
	}
	out := conns[:0]
	for _, c := range conns {
		if c.ContractorID() != contractorID {
			out = append(out, c)
		}
	}
	return out
}
