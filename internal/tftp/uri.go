package tftp

import (
	"fmt"
	"net/url"
	"strconv"
)

// Target is the already-resolved destination of a Request. Parsing a raw
// tftp://, tftm://, or mtftp:// URI is a caller concern, but ParseTarget
// lives here so callers such as cmd/tftpget share one set of rules.
type Target struct {
	Host string
	Port int // 0 means "use the Mode's default port"
	Path string
}

// ParseTarget decodes a tftp://, tftm://, or mtftp:// URI into a Target and
// the Mode it implies.
func ParseTarget(raw string) (Target, Mode, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, 0, newError(KindInvalidArg, err)
	}

	var mode Mode
	switch u.Scheme {
	case "tftp":
		mode = ModeTFTP
	case "tftm":
		mode = ModeTFTM
	case "mtftp":
		mode = ModeMTFTP
	default:
		return Target{}, 0, newError(KindInvalidArg, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	if u.Hostname() == "" {
		return Target{}, 0, newError(KindInvalidArg, fmt.Errorf("%q: missing host", raw))
	}
	if u.Path == "" || u.Path == "/" {
		return Target{}, 0, newError(KindInvalidArg, fmt.Errorf("%q: missing path", raw))
	}

	t := Target{Host: u.Hostname(), Path: u.Path}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Target{}, 0, newError(KindInvalidArg, fmt.Errorf("%q: invalid port", raw))
		}
		t.Port = n
	}
	return t, mode, nil
}
