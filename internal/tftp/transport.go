package tftp

import (
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

// inboundPacket is what a socket adapter hands to the Request's
// serialized event loop. unicast is true for packets arriving on the
// unicast socket; every one of those that passes the Request's peer
// filter enables ACK transmission, whatever it contains.
type inboundPacket struct {
	data    []byte
	addr    *net.UDPAddr
	unicast bool
}

// unicastSocket is deliberately unconnected (net.ListenUDP, not
// DialUDP): the server replies from an ephemeral port the client can't
// predict, so the socket has to accept from any source and let the
// Request's own peer filter decide what's legitimate.
type unicastSocket struct {
	conn   *net.UDPConn
	server *net.UDPAddr
	out    chan<- inboundPacket
	stop   chan struct{}
}

func openUnicastSocket(host string, port int, out chan<- inboundPacket) (*unicastSocket, error) {
	server, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	s := &unicastSocket{conn: conn, server: server, out: out, stop: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

func (s *unicastSocket) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case s.out <- inboundPacket{data: cp, addr: addr, unicast: true}:
		case <-s.stop:
			return
		}
	}
}

func (s *unicastSocket) sendToServer(p []byte) error {
	_, err := s.conn.WriteToUDP(p, s.server)
	return err
}

func (s *unicastSocket) sendTo(p []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(p, addr)
	return err
}

func (s *unicastSocket) close() {
	close(s.stop)
	s.conn.Close()
}

// multicastSocket joins the MTFTP/TFTM multicast group on every usable
// interface. Built on ipv4.PacketConn rather than net.ListenMulticastUDP
// because the latter binds to a single interface; a PXE-style client has
// no way to know which interface the server's stream will arrive on.
type multicastSocket struct {
	pconn *ipv4.PacketConn
	conn  *net.UDPConn
	out   chan<- inboundPacket
	stop  chan struct{}
}

func openMulticastSocket(group net.IP, port int, out chan<- inboundPacket) (*multicastSocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	pconn := ipv4.NewPacketConn(conn)
	gaddr := &net.UDPAddr{IP: group}

	ifaces, _ := net.Interfaces()
	joined := false
	for i := range ifaces {
		ifi := ifaces[i]
		if ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pconn.JoinGroup(&ifi, gaddr); err == nil {
			joined = true
		}
	}
	if !joined {
		if err := pconn.JoinGroup(nil, gaddr); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s := &multicastSocket{pconn: pconn, conn: conn, out: out, stop: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

func (s *multicastSocket) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, src, err := s.pconn.ReadFrom(buf)
		if err != nil {
			return
		}
		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case s.out <- inboundPacket{data: cp, addr: udpAddr, unicast: false}:
		case <-s.stop:
			return
		}
	}
}

func (s *multicastSocket) close() {
	close(s.stop)
	s.conn.Close()
}
