// Package voice implements the multi-room pipeline: room registry,
// wakeword bus, input multiplexer, conversation router, output routing
// and mic liveness tracking.
package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrRoomNotFound is returned for lookups of unregistered rooms.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNoRoomsConfigured is returned when no room can be selected.
	ErrNoRoomsConfigured = errors.New("no rooms configured")
)

// Mic is one microphone attached to a room.
type Mic struct {
	ID     string `yaml:"id"`
	Device string `yaml:"device"`
}

// Room is one output zone with its Wyoming endpoint and mics.
type Room struct {
	ID          string `yaml:"id"`
	WyomingHost string `yaml:"wyoming_host"`
	WyomingPort int    `yaml:"wyoming_port"`
	Mics        []Mic  `yaml:"mics"`
}

type roomsFile struct {
	Rooms []Room `yaml:"rooms"`
}

// Registry is the room/mic topology with privacy and DND zone sets.
// Immutable after load.
type Registry struct {
	rooms       map[string]Room
	order       []string
	micRoom     map[string]string
	privacy     map[string]bool
	dnd         map[string]bool
	defaultRoom string
}

// RegistryOptions carry the zone sets and default room, typically from
// environment-style csv lists.
type RegistryOptions struct {
	PrivacyZones string
	DNDZones     string
	DefaultRoom  string
}

// LoadRegistry reads and validates the rooms YAML file.
func LoadRegistry(path string, opts RegistryOptions) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}
	return ParseRegistry(data, opts)
}

// ParseRegistry builds a Registry from raw YAML.
func ParseRegistry(data []byte, opts RegistryOptions) (*Registry, error) {
	var rf roomsFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}

	r := &Registry{
		rooms:       make(map[string]Room),
		micRoom:     make(map[string]string),
		privacy:     parseZones(opts.PrivacyZones),
		dnd:         parseZones(opts.DNDZones),
		defaultRoom: opts.DefaultRoom,
	}

	for _, room := range rf.Rooms {
		if strings.TrimSpace(room.ID) == "" {
			return nil, fmt.Errorf("room with empty id")
		}
		if room.WyomingPort < 1 || room.WyomingPort > 65535 {
			return nil, fmt.Errorf("room %s: wyoming_port %d out of range", room.ID, room.WyomingPort)
		}
		if _, dup := r.rooms[room.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %s", room.ID)
		}
		for _, mic := range room.Mics {
			if strings.TrimSpace(mic.ID) == "" {
				return nil, fmt.Errorf("room %s: mic with empty id", room.ID)
			}
			if owner, dup := r.micRoom[mic.ID]; dup {
				return nil, fmt.Errorf("mic %s registered in both %s and %s", mic.ID, owner, room.ID)
			}
			r.micRoom[mic.ID] = room.ID
		}
		r.rooms[room.ID] = room
		r.order = append(r.order, room.ID)
	}

	return r, nil
}

func parseZones(csv string) map[string]bool {
	out := make(map[string]bool)
	for _, z := range strings.Split(csv, ",") {
		if z = strings.TrimSpace(z); z != "" {
			out[z] = true
		}
	}
	return out
}

// GetRoom looks up a room by id.
func (r *Registry) GetRoom(id string) (Room, bool) {
	room, ok := r.rooms[id]
	return room, ok
}

// ListRooms returns all rooms in registration order.
func (r *Registry) ListRooms() []Room {
	out := make([]Room, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rooms[id])
	}
	return out
}

// RoomForMic maps a mic id to its room id.
func (r *Registry) RoomForMic(micID string) (string, bool) {
	roomID, ok := r.micRoom[micID]
	return roomID, ok
}

// OutputTarget resolves a room's Wyoming endpoint.
func (r *Registry) OutputTarget(id string) (string, int, error) {
	room, ok := r.rooms[id]
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return room.WyomingHost, room.WyomingPort, nil
}

// IsPrivacyZone reports whether speech must never be emitted in the room.
func (r *Registry) IsPrivacyZone(id string) bool { return r.privacy[id] }

// IsDNDZone reports whether only SCARLET may speak in the room.
func (r *Registry) IsDNDZone(id string) bool { return r.dnd[id] }

// DefaultRoom returns the configured default, falling back to the first
// registered room.
func (r *Registry) DefaultRoom() (string, error) {
	if r.defaultRoom != "" {
		if _, ok := r.rooms[r.defaultRoom]; ok {
			return r.defaultRoom, nil
		}
	}
	if len(r.order) > 0 {
		return r.order[0], nil
	}
	return "", ErrNoRoomsConfigured
}

// ProbeOutputs dials each room's Wyoming endpoint once. Failures are
// logged, never fatal.
func (r *Registry) ProbeOutputs() {
	for _, id := range r.order {
		room := r.rooms[id]
		addr := net.JoinHostPort(room.WyomingHost, strconv.Itoa(room.WyomingPort))
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err != nil {
			slog.Warn("wyoming endpoint unreachable", "room", id, "addr", addr, "error", err)
			continue
		}
		conn.Close()
	}
}
