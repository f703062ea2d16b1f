package tftp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// processOptions applies every name/value pair an OACK carried. Option
// names are matched case-insensitively (decodeOACK already lower-cased
// them); anything the engine doesn't recognise is logged and ignored
// rather than treated as an error.
func (r *Request) processOptions(opts map[string]string) error {
	for name, value := range opts {
		var err error
		switch name {
		case "blksize":
			err = r.processBlksizeOption(value)
		case "tsize":
			err = r.processTsizeOption(value)
		case "multicast":
			err = r.processMulticastOption(value)
		default:
			logTrace(r, "ignoring unrecognised option %q=%q", name, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// processBlksizeOption stores whatever the server echoes verbatim. There
// is no upper-bound check: the server is trusted to echo a value at or
// below what the client proposed. The 512-byte floor in
// Config.SetRequestBlksize only bounds what this engine itself proposes,
// not what it's willing to accept back; the one guard kept here is
// against a non-positive value, which would make every offset
// computation divide by zero or go negative.
func (r *Request) processBlksizeOption(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return newError(KindInvalidBlksize, fmt.Errorf("server offered blksize %q", value))
	}
	r.blksize = n
	if ws, ok := r.sink.(WindowSetter); ok {
		ws.SetWindow(n)
	}
	logTrace(r, "negotiated blksize %d", n)
	return nil
}

func (r *Request) processTsizeOption(value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return newError(KindInvalidTsize, fmt.Errorf("server offered tsize %q", value))
	}
	r.tsize = n
	logTrace(r, "negotiated tsize %d", n)
	return nil
}

// processMulticastOption parses the RFC 2090 "addr,port,mc" triple. addr
// and port may be empty (a non-master TFTM/MTFTP client gets told only
// whether it's the master); mc absent or unparsable is always an error,
// since it's the one field every responder must supply.
func (r *Request) processMulticastOption(value string) error {
	parts := strings.SplitN(value, ",", 3)
	if len(parts) < 2 {
		return newError(KindMCNoPort, fmt.Errorf("multicast option %q missing port", value))
	}
	if len(parts) < 3 {
		return newError(KindMCNoMC, fmt.Errorf("multicast option %q missing mc flag", value))
	}
	addr, portStr, mcStr := parts[0], parts[1], parts[2]

	mc, err := strconv.Atoi(mcStr)
	if err != nil {
		return newError(KindMCInvalidMC, fmt.Errorf("multicast option %q: mc flag %q not numeric", value, mcStr))
	}
	if mc == 0 {
		// Not the master: the server (or another client already elected
		// master) will stream DATA without expecting ACKs from us.
		r.flags &^= flagSendAck
		logTrace(r, "multicast: not elected master")
	} else {
		logTrace(r, "multicast: elected master")
	}

	// A rejoin only happens when both addr and port are present; a
	// partial pair (either one empty) is silently skipped.
	if addr == "" || portStr == "" {
		return nil
	}

	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return newError(KindMCInvalidIP, fmt.Errorf("multicast option %q: address %q invalid", value, addr))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return newError(KindMCInvalidPort, fmt.Errorf("multicast option %q: port %q not numeric", value, portStr))
	}

	return r.openMulticast(ip, port)
}
