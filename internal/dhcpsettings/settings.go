// Package dhcpsettings applies DHCP-advertised boot-server settings to a
// tftp.Target, the way a PXE ROM updates its idea of "the server"
// whenever a DHCPOFFER/DHCPACK carries a new siaddr.
package dhcpsettings

import (
	"net"
	"sync"

	"github.com/krolaw/dhcp4"

	"github.com/gotftp/engine/internal/tftp"
)

// Settings holds the current working boot server, updated in place as
// DHCP packets arrive: a single process-wide value a caller applies to a
// Target with Resolve before opening a Request.
type Settings struct {
	mu     sync.RWMutex
	server net.IP
}

// NewSettings returns Settings seeded with an explicit server, used when
// no DHCP packet has been seen yet (e.g. a URI passed on the command
// line).
func NewSettings(server net.IP) *Settings {
	return &Settings{server: server}
}

// ApplyNextServer inspects a DHCP packet's siaddr ("next server") field
// and, if it names a server, updates Settings. It is change-only: a
// repeated siaddr, or the zero address DHCP servers send before they've
// picked a boot server, is a no-op.
func (s *Settings) ApplyNextServer(pkt dhcp4.Packet) bool {
	next := pkt.SIAddr()
	if next == nil || next.IsUnspecified() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil && s.server.Equal(next) {
		return false
	}
	s.server = next
	return true
}

// Server returns the current boot server, or nil if none has been set.
func (s *Settings) Server() net.IP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

// Resolve rewrites target's host to the current boot server. If no DHCP
// packet has set one yet, target is returned unchanged.
func (s *Settings) Resolve(target tftp.Target) tftp.Target {
	srv := s.Server()
	if srv == nil {
		return target
	}
	target.Host = srv.String()
	return target
}
