package dhcpsettings

import (
	"net"
	"testing"

	"github.com/krolaw/dhcp4"

	"github.com/gotftp/engine/internal/tftp"
)

func packetWithSIAddr(ip net.IP) dhcp4.Packet {
	p := dhcp4.NewPacket(dhcp4.BootReply)
	p.SetSIAddr(ip)
	return p
}

func TestApplyNextServerUpdatesOnChange(t *testing.T) {
	s := NewSettings(nil)
	changed := s.ApplyNextServer(packetWithSIAddr(net.IPv4(10, 0, 0, 5)))
	if !changed {
		t.Fatal("expected the first siaddr to count as a change")
	}
	if !s.Server().Equal(net.IPv4(10, 0, 0, 5)) {
		t.Fatalf("server = %v, want 10.0.0.5", s.Server())
	}
}

func TestApplyNextServerIgnoresRepeat(t *testing.T) {
	s := NewSettings(net.IPv4(10, 0, 0, 5))
	changed := s.ApplyNextServer(packetWithSIAddr(net.IPv4(10, 0, 0, 5)))
	if changed {
		t.Fatal("expected repeating the same siaddr to be a no-op")
	}
}

func TestApplyNextServerIgnoresUnspecified(t *testing.T) {
	s := NewSettings(nil)
	changed := s.ApplyNextServer(packetWithSIAddr(net.IPv4zero))
	if changed {
		t.Fatal("expected a zero siaddr to be ignored")
	}
	if s.Server() != nil {
		t.Fatalf("server = %v, want nil", s.Server())
	}
}

func TestResolveRewritesHost(t *testing.T) {
	s := NewSettings(net.IPv4(192, 168, 1, 1))
	target := tftp.Target{Host: "original-host", Path: "/boot/pxelinux.0"}
	resolved := s.Resolve(target)
	if resolved.Host != "192.168.1.1" {
		t.Fatalf("resolved host = %q, want 192.168.1.1", resolved.Host)
	}
	if resolved.Path != target.Path {
		t.Fatal("Resolve must not touch Path")
	}
}

func TestResolveLeavesTargetUnchangedWithoutServer(t *testing.T) {
	s := NewSettings(nil)
	target := tftp.Target{Host: "original-host", Path: "/x"}
	resolved := s.Resolve(target)
	if resolved.Host != "original-host" {
		t.Fatalf("resolved host = %q, want unchanged", resolved.Host)
	}
}
