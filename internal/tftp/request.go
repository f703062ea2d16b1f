package tftp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Mode selects which protocol flavour drives a Request: plain unicast
// TFTP, RFC 2090 TFTM (multicast with master-client election), or PXE
// MTFTP (multicast with a unicast fallback ladder).
type Mode int

const (
	ModeTFTP Mode = iota
	ModeTFTM
	ModeMTFTP
)

func (m Mode) String() string {
	switch m {
	case ModeTFTP:
		return "tftp"
	case ModeTFTM:
		return "tftm"
	case ModeMTFTP:
		return "mtftp"
	default:
		return "unknown"
	}
}

type flag uint8

const (
	// flagSendAck is set on every unicast packet that passes the peer
	// filter and governs whether the next transmit is an ACK at all.
	// Plain TFTP gains it on the first reply; TFTM/MTFTP clear it the
	// moment an OACK declines them master status.
	flagSendAck flag = 1 << iota
	// flagRRQSizes requests blksize+tsize in the RRQ.
	flagRRQSizes
	// flagRRQMulticast requests the multicast option in the RRQ.
	flagRRQMulticast
	// flagMTFTPRecovery marks a Request that falls back from multicast to
	// unicast after repeated timeouts, instead of just giving up.
	flagMTFTPRecovery
)

const (
	defaultBlksize = 512
	tftpPort       = 69
	// mtftpOpenPort is the well-known destination port for an MTFTP open
	// request when the URI doesn't name one explicitly. It is distinct
	// from Config.MTFTPPort, the multicast rendezvous port the client
	// actually listens for DATA on once the open handshake succeeds.
	mtftpOpenPort    = 1759
	mtftpMaxTimeouts = 3
)

const (
	defaultRetryBase  = 200 * time.Millisecond
	defaultRetryMax   = 4 * time.Second
	defaultMaxRetries = 5
)

// errFallbackAfterData is returned when an MTFTP fallback would need to
// discard data already delivered to the Sink. The fallback changes the
// blocksize, so blocks already written would be rewritten at different
// offsets; failing loudly beats silently corrupting the sink.
var errFallbackAfterData = errors.New("mtftp: fallback to unicast requested after data was already received")

// Request is the engine's single unit of work: one in-flight download,
// driven by one goroutine running an event loop over the socket and
// timer channels. All mutable state below is owned by that goroutine;
// nothing else touches it after Open returns.
type Request struct {
	id  xid.ID
	cfg Config

	mode   Mode
	target Target
	sink   Sink

	port    int
	peer    *net.UDPAddr
	blksize int
	tsize   int64

	filesize      int64
	flags         flag
	mtftpTimeouts int
	bmp           bitmap

	uni   *unicastSocket
	mc    *multicastSocket
	timer *retryTimer

	uniIn chan inboundPacket
	mcIn  chan inboundPacket
	stop  chan struct{}

	done        chan struct{}
	doneErr     error
	closeReason error
	closeOnce   sync.Once
}

// Open starts a new Request: it resolves the initial socket(s), starts
// the background goroutine (which arms the retry timer for an immediate
// first send), and returns once the sockets are open. The transfer itself
// proceeds on that goroutine; call Wait to block for completion.
func Open(sink Sink, target Target, mode Mode, cfg Config) (*Request, error) {
	if target.Host == "" || target.Path == "" {
		return nil, newError(KindInvalidArg, fmt.Errorf("target missing host or path"))
	}

	if cfg.RequestBlksize < defaultBlksize {
		cfg.RequestBlksize = defaultBlksize
	}

	r := &Request{
		id:      newRequestID(),
		cfg:     cfg,
		mode:    mode,
		target:  target,
		sink:    sink,
		blksize: defaultBlksize,
		uniIn:   make(chan inboundPacket, 16),
		mcIn:    make(chan inboundPacket, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	switch mode {
	case ModeTFTP:
		r.flags = flagRRQSizes
		r.port = portOrDefault(target.Port, tftpPort)
	case ModeTFTM:
		r.flags = flagRRQSizes | flagRRQMulticast
		r.port = portOrDefault(target.Port, tftpPort)
	case ModeMTFTP:
		r.flags = flagMTFTPRecovery
		r.port = portOrDefault(target.Port, mtftpOpenPort)
	default:
		return nil, newError(KindInvalidArg, fmt.Errorf("unknown mode %v", mode))
	}

	r.timer = newRetryTimer(defaultRetryBase, defaultRetryMax, defaultMaxRetries)

	if err := r.openUnicast(); err != nil {
		return nil, newError(KindOutOfMemory, err)
	}
	if mode == ModeMTFTP {
		if err := r.openMulticast(cfg.MTFTPAddress, cfg.MTFTPPort); err != nil {
			r.uni.close()
			return nil, newError(KindOutOfMemory, err)
		}
	}

	metricActiveRequests.Inc()
	logInfo(r, "open %s %s:%d%s", mode, target.Host, r.port, target.Path)

	go r.run()
	return r, nil
}

func portOrDefault(p, def int) int {
	if p == 0 {
		return def
	}
	return p
}

// Wait blocks until the Request finishes and returns the terminal error
// (nil on success).
func (r *Request) Wait() error {
	<-r.done
	return r.doneErr
}

// Close asks the Request to stop early, finishing with reason as its
// terminal status. It behaves exactly like any other terminal condition
// (sockets and the Sink are closed, Wait unblocks), except the caller
// picks the status instead of it being inferred. A nil reason means the
// caller considers this a success.
func (r *Request) Close(reason error) {
	r.closeOnce.Do(func() {
		r.closeReason = reason
		close(r.stop)
	})
}

// run is the Request's single serialized event loop: every state
// mutation below happens on this one goroutine, fed by the unicast and
// multicast read loops and the retry timer.
func (r *Request) run() {
	r.timer.startNoDelay()
	for {
		select {
		case p := <-r.uniIn:
			r.handleInbound(p)
		case p := <-r.mcIn:
			r.handleInbound(p)
		case <-r.timer.c:
			fail := r.timer.expired()
			r.handleTimerExpired(fail)
		case <-r.stop:
			r.finish(r.closeReason)
		}

		select {
		case <-r.done:
			return
		default:
		}
	}
}

func (r *Request) handleInbound(p inboundPacket) {
	if r.peer == nil {
		r.peer = p.addr
		logTrace(r, "peer learned: %s", p.addr)
	} else if !sameUDPAddr(r.peer, p.addr) {
		logWarn(r, "dropping packet from unexpected peer %s (want %s)", p.addr, r.peer)
		return
	}

	// The peer filter above has to run first: a packet from the wrong
	// source is dropped outright and must not have any side effect on the
	// Request, including the unconditional SEND_ACK rule below.
	if p.unicast {
		r.flags |= flagSendAck
	}

	op, ok := packetOpcode(p.data)
	if !ok {
		logWarn(r, "dropping undersized packet from %s", p.addr)
		return
	}

	switch op {
	case opOACK:
		r.handleOACK(p.data)
	case opDATA:
		r.handleDATA(p.data)
	case opERROR:
		r.handleERROR(p.data)
	default:
		logWarn(r, "dropping packet with unexpected opcode %d", op)
	}
}

func (r *Request) handleOACK(p []byte) {
	opts, err := decodeOACK(p)
	if err != nil {
		r.finish(newError(KindBadPacket, err))
		return
	}
	if err := r.processOptions(opts); err != nil {
		r.finish(asError(err))
		return
	}
	if r.tsize > 0 {
		if err := r.presize(r.tsize); err != nil {
			r.finish(newError(KindOutOfMemory, err))
			return
		}
	}
	r.sendPacket()
}

func (r *Request) handleDATA(p []byte) {
	d, err := decodeDATA(p)
	if err != nil {
		r.finish(newError(KindBadPacket, err))
		return
	}
	if len(d.payload) > r.blksize {
		r.finish(newError(KindBadPacket, fmt.Errorf("DATA payload %d bytes exceeds blksize %d", len(d.payload), r.blksize)))
		return
	}

	g := r.bmp.firstClear()
	base := (g + 1) &^ 0xFFFF
	idx := base + int(d.block16) - 1
	if idx < 0 {
		r.finish(newError(KindBadPacket, fmt.Errorf("DATA block %d decodes to negative index", d.block16)))
		return
	}

	offset := int64(idx) * int64(r.blksize)
	if err := r.sink.Write(offset, d.payload); err != nil {
		r.finish(newError(KindOutOfMemory, err))
		return
	}
	metricBytesReceived.Add(float64(len(d.payload)))

	if err := r.presize(offset + int64(len(d.payload))); err != nil {
		r.finish(newError(KindOutOfMemory, err))
		return
	}
	r.bmp.set(idx)

	r.sendPacket()

	if r.bmp.full() {
		r.finish(nil)
	}
}

func (r *Request) handleERROR(p []byte) {
	d, err := decodeERROR(p)
	if err != nil {
		r.finish(newError(KindBadPacket, err))
		return
	}
	logWarn(r, "server ERROR %d: %s", d.code, d.message)
	r.finish(newError(tftpErrorKind(d.code), fmt.Errorf("%s", d.message)))
}

// presize grows the known filesize and the bitmap; it never shrinks
// either. The +1 on the block count covers the mandatory trailing
// zero-length block that terminates a transfer whose size is an exact
// multiple of blksize.
func (r *Request) presize(f int64) error {
	if f <= r.filesize {
		return nil
	}
	r.filesize = f
	if err := r.sink.SetSize(f); err != nil {
		return err
	}
	numBlocks := int(f/int64(r.blksize)) + 1
	r.bmp.resize(numBlocks)
	return nil
}

// handleTimerExpired branches three ways: plain retransmit, MTFTP
// peer-known reopen, or MTFTP peer-unknown timeout-counting that
// eventually falls back to unicast.
func (r *Request) handleTimerExpired(fail bool) {
	if r.flags&flagMTFTPRecovery != 0 {
		if r.peer != nil {
			logTrace(r, "mtftp: no data from elected peer, reopening")
			if err := r.openUnicast(); err != nil {
				r.finish(newError(KindOutOfMemory, err))
				return
			}
		} else {
			r.mtftpTimeouts++
			metricMTFTPTimeouts.Inc()
			logTrace(r, "mtftp: timeout %d waiting for an opening response", r.mtftpTimeouts)
			if r.mtftpTimeouts > mtftpMaxTimeouts {
				if err := r.fallbackToUnicast(); err != nil {
					r.finish(err)
					return
				}
			}
		}
	} else if fail {
		r.finish(newError(KindTimeout, nil))
		return
	}

	if r.peer == nil {
		metricRetransmits.WithLabelValues("rrq").Inc()
	} else {
		metricRetransmits.WithLabelValues("ack").Inc()
	}
	r.sendPacket()
}

// fallbackToUnicast is the MTFTP recovery ladder: discard the multicast
// side entirely and restart as a plain TFTP request against the same
// host, on the well-known port.
func (r *Request) fallbackToUnicast() error {
	if !r.bmp.empty() {
		return newError(KindBadPacket, errFallbackAfterData)
	}
	logInfo(r, "mtftp: falling back to unicast tftp after %d timeouts", r.mtftpTimeouts)
	metricMTFTPFallbacks.Inc()

	r.flags = flagRRQSizes
	if r.mc != nil {
		r.mc.close()
		r.mc = nil
	}
	r.bmp.reset()
	r.port = tftpPort
	r.timer.startNoDelay()
	if err := r.openUnicast(); err != nil {
		return newError(KindOutOfMemory, err)
	}
	return nil
}

// sendPacket is the single transmit path: the timer is always (re)armed
// first, and only then does the Request decide whether there's anything
// to actually put on the wire.
func (r *Request) sendPacket() {
	r.timer.start()
	if r.peer == nil {
		r.transmitRRQ()
		return
	}
	if r.flags&flagSendAck != 0 {
		r.transmitACK()
	}
}

func (r *Request) transmitRRQ() {
	sizes := r.flags&flagRRQSizes != 0
	multicast := r.flags&flagRRQMulticast != 0
	pkt := encodeRRQ(r.target.Path, r.cfg.RequestBlksize, sizes, multicast)
	if err := r.uni.sendToServer(pkt); err != nil {
		logWarn(r, "rrq send failed: %v", err)
		return
	}
	metricPacketsSent.WithLabelValues("rrq").Inc()
}

func (r *Request) transmitACK() {
	block := r.bmp.firstClear()
	pkt := encodeACK(block)
	if err := r.uni.sendTo(pkt, r.peer); err != nil {
		logWarn(r, "ack send failed: %v", err)
		return
	}
	metricPacketsSent.WithLabelValues("ack").Inc()
}

// openUnicast (re)opens the Request's unicast socket against the current
// host/port, resetting the peer and ACK state. The old TID is gone, so
// whatever responds next is a fresh negotiation.
func (r *Request) openUnicast() error {
	if r.uni != nil {
		r.uni.close()
	}
	s, err := openUnicastSocket(r.target.Host, r.port, r.uniIn)
	if err != nil {
		return err
	}
	r.uni = s
	r.peer = nil
	r.flags &^= flagSendAck
	return nil
}

func (r *Request) openMulticast(group net.IP, port int) error {
	if r.mc != nil {
		r.mc.close()
	}
	s, err := openMulticastSocket(group, port, r.mcIn)
	if err != nil {
		return err
	}
	r.mc = s
	return nil
}

// finish tears the Request down exactly once: timer stopped, both sockets
// closed, the Sink notified, the active-requests gauge released, and
// Wait() unblocked with the terminal status.
func (r *Request) finish(err error) {
	select {
	case <-r.done:
		return
	default:
	}

	r.timer.stop()
	if r.uni != nil {
		r.uni.close()
		r.uni = nil
	}
	if r.mc != nil {
		r.mc.close()
		r.mc = nil
	}
	if cerr := r.sink.Close(err); err == nil {
		err = cerr
	}

	r.doneErr = err
	metricActiveRequests.Dec()
	if err != nil {
		logWarn(r, "closed: %v", err)
	} else {
		logInfo(r, "closed: ok (%d bytes)", r.filesize)
	}
	close(r.done)
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindBadPacket, err)
}
