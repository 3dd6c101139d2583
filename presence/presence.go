// Package presence tracks which live connections belong to which rooms.
// State is process-local; cross-process fan-out is a concern of whatever
// bus sits beneath the broadcast router, not of this package.
package presence

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"dispatchd/domain"
)

// Conn is the slice of a live connection the room manager needs.
type Conn interface {
	ID() string
	ContractorID() string
	Send(event string, payload map[string]any) error
}

// Room keys. A room is just a named set of connections; an absent key
// means the empty set, so broadcasting to it is a defined no-op.
const (
	GlobalRoom       = "global"
	contractorPrefix = "contractor:"
	skillPrefix      = "skill:"
)

// ContractorRoom returns the personal room key for a contractor.
func ContractorRoom(contractorID string) string { return contractorPrefix + contractorID }

// SkillRoom returns the room key for a skill token.
func SkillRoom(skill string) string { return skillPrefix + skill }

type member struct {
	conn     Conn
	skills   []string
	location *domain.Location
	rooms    map[string]struct{}
}

// Manager owns all room membership and reported locations for one process.
type Manager struct {
	mu      sync.RWMutex
	members map[string]*member         // conn id -> member
	rooms   map[string]map[string]Conn // room key -> conn id -> conn
	logger  *log.Logger
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		members: make(map[string]*member),
		rooms:   make(map[string]map[string]Conn),
		logger:  logger,
	}
}

// Register admits a connection into its default rooms: the personal room,
// the global room and one room per registered skill. A contractor may hold
// several simultaneous connections, all sharing the personal room.
func (m *Manager) Register(c Conn, skills []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[c.ID()]
	if !ok {
		mem = &member{conn: c, rooms: make(map[string]struct{})}
		m.members[c.ID()] = mem
	}
	mem.skills = append([]string(nil), skills...)

	m.joinLocked(mem, ContractorRoom(c.ContractorID()))
	m.joinLocked(mem, GlobalRoom)
	for _, s := range skills {
		if s == "" {
			continue
		}
		m.joinLocked(mem, SkillRoom(s))
	}
	m.logger.WithFields(log.Fields{
		"conn":       c.ID(),
		"contractor": c.ContractorID(),
		"rooms":      len(mem.rooms),
	}).Debug("connection registered")
}

// Join adds the connection to a room. Joining an already-joined room is a no-op.
func (m *Manager) Join(connID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[connID]
	if !ok {
		return
	}
	m.joinLocked(mem, room)
}

func (m *Manager) joinLocked(mem *member, room string) {
	if _, ok := mem.rooms[room]; ok {
		return
	}
	conns, ok := m.rooms[room]
	if !ok {
		conns = make(map[string]Conn)
		m.rooms[room] = conns
	}
	conns[mem.conn.ID()] = mem.conn
	mem.rooms[room] = struct{}{}
}

// Leave removes the connection from a room. Leaving an unjoined room is a no-op.
func (m *Manager) Leave(connID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[connID]
	if !ok {
		return
	}
	m.leaveLocked(mem, room)
}

func (m *Manager) leaveLocked(mem *member, room string) {
	if _, ok := mem.rooms[room]; !ok {
		return
	}
	delete(mem.rooms, room)
	if conns, ok := m.rooms[room]; ok {
		delete(conns, mem.conn.ID())
		if len(conns) == 0 {
			delete(m.rooms, room)
		}
	}
}

// Unregister tears down every trace of the connection. Called on
// disconnect; safe to call for an unknown connection.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[connID]
	if !ok {
		return
	}
	for room := range mem.rooms {
		m.leaveLocked(mem, room)
	}
	delete(m.members, connID)
}

// UpdateLocation records the client-reported position for a connection.
func (m *Manager) UpdateLocation(connID string, loc domain.Location) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[connID]
	if !ok {
		return false
	}
	mem.location = &loc
	return true
}

// RoomsOf lists the rooms a connection currently belongs to, sorted.
func (m *Manager) RoomsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(mem.rooms))
	for r := range mem.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomConns snapshots the members of a room. An unknown room yields nil.
func (m *Manager) RoomConns(room string) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return connsLocked(m.rooms[room])
}

// AllConns snapshots every registered connection.
func (m *Manager) AllConns() []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Conn, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem.conn)
	}
	return out
}

// ContractorsInLocation returns connections whose last reported position
// falls within radiusKm of the point. Connections that never reported a
// location are excluded.
func (m *Manager) ContractorsInLocation(lat, lng, radiusKm float64) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Conn
	for _, mem := range m.members {
		if mem.location == nil {
			continue
		}
		if domain.DistanceKm(lat, lng, mem.location.Lat, mem.location.Lng) <= radiusKm {
			out = append(out, mem.conn)
		}
	}
	return out
}

// ContractorsWithSkills returns connections whose registered skills match
// any of the requested tokens, using the same permissive matcher the claim
// path uses.
func (m *Manager) ContractorsWithSkills(skills []string) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Conn
	for _, mem := range m.members {
		if memberHasSkill(mem, skills) {
			out = append(out, mem.conn)
		}
	}
	return out
}

func memberHasSkill(mem *member, requested []string) bool {
	for _, reg := range mem.skills {
		for _, req := range requested {
			if domain.SkillTokensMatch(reg, req) {
				return true
			}
		}
	}
	return false
}

// Stats reports the current member count per room, for diagnostics.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int, len(m.rooms))
	for room, conns := range m.rooms {
		stats[room] = len(conns)
	}
	return stats
}

func connsLocked(set map[string]Conn) []Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
