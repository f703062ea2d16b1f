package tftp

import (
	"fmt"

	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/rs/xid"
)

// logID implements logger.Context as a bare int wrapper, giving every
// log line from a Request a stable correlation id derived from its xid.
type logID int

func (v logID) Cid() int { return int(v) }

// logCtx returns the logging context for this Request. The xid's 3-byte
// counter portion is good enough for a correlation id that a log-reader
// can grep by.
func (r *Request) logCtx() logger.Context {
	return logID(int32(r.id.Counter()))
}

func newRequestID() xid.ID {
	return xid.New()
}

func logTrace(r *Request, format string, args ...interface{}) {
	logger.Trace.Println(r.logCtx(), fmt.Sprintf(format, args...))
}

func logInfo(r *Request, format string, args ...interface{}) {
	logger.Info.Println(r.logCtx(), fmt.Sprintf(format, args...))
}

func logWarn(r *Request, format string, args ...interface{}) {
	logger.Warn.Println(r.logCtx(), fmt.Sprintf(format, args...))
}
