package conn

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options configures how a Connection is dialed and preluded. It is the
// connection-level equivalent of the teacher's Server struct
// (types.go/server.go): exported fields, long doc comments, defaults
// applied by a constructor rather than by the caller.
type Options struct {
	// Network is "tcp", "tls", or "unix", normally derived from a
	// connection URL by ParseURL.
	Network string
	Addr    string

	Username string
	Password string
	Database int

	// ClientName is sent via CLIENT SETNAME after SELECT, if non-empty.
	ClientName string

	TLSConfig *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Logger receives connection-lifecycle and transport-error lines. A
	// no-op logger is substituted if nil.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultTimeout
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ParseURL parses the three connection URL schemes from spec.md §6:
//
//	redis://[user[:pass]@]host[:port][/db]
//	rediss://...                          (same, over TLS)
//	unix://[pass@]/path/to/socket[?db=N]
func ParseURL(raw string) (Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Options{}, fmt.Errorf("redcore: invalid connection URL: %w", err)
	}

	var o Options
	switch u.Scheme {
	case "redis":
		o.Network = "tcp"
	case "rediss":
		o.Network = "tls"
		o.TLSConfig = &tls.Config{ServerName: u.Hostname()}
	case "unix":
		o.Network = "unix"
	default:
		return Options{}, fmt.Errorf("redcore: unsupported URL scheme %q", u.Scheme)
	}

	if u.User != nil {
		o.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			o.Password = pw
		}
	}

	if o.Network == "unix" {
		if o.Password == "" && o.Username != "" {
			// unix://pass@/path: a lone userinfo token is the password.
			o.Password, o.Username = o.Username, ""
		}
		o.Addr = u.Path
		if o.Addr == "" {
			o.Addr = u.Opaque
		}
		if pw := u.Query().Get("db"); pw != "" {
			n, err := strconv.Atoi(pw)
			if err != nil {
				return Options{}, fmt.Errorf("redcore: invalid db query param: %w", err)
			}
			o.Database = n
		}
		return o, nil
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "6379"
	}
	o.Addr = net.JoinHostPort(host, port)

	path := strings.TrimPrefix(u.Path, "/")
	if path != "" {
		n, err := strconv.Atoi(path)
		if err != nil {
			return Options{}, fmt.Errorf("redcore: invalid database segment %q: %w", path, err)
		}
		o.Database = n
	}

	return o, nil
}

// Dial establishes the transport (TCP/TLS/Unix), tunes it, and runs the
// HELLO/AUTH/SELECT prelude (spec.md §4.2 "Prelude on first use").
func Dial(o Options) (*Connection, error) {
	o = o.withDefaults()

	nc, err := dialTransport(o)
	if err != nil {
		o.Logger.Warn("redis dial failed", zap.String("addr", o.Addr), zap.String("network", o.Network), zap.Error(err))
		return nil, &IoError{Op: "dial", Err: err}
	}

	c := newConnection(nc, o.Addr, o.ReadTimeout, o.WriteTimeout, o.Logger)
	if err := runPrelude(c, o); err != nil {
		o.Logger.Warn("redis connection prelude failed", zap.String("addr", o.Addr), zap.Error(err))
		c.Close()
		return nil, err
	}
	c.setState(StateConnected)
	o.Logger.Debug("redis connection established", zap.String("addr", o.Addr), zap.String("network", o.Network))
	return c, nil
}

func dialTransport(o Options) (net.Conn, error) {
	switch o.Network {
	case "unix":
		return net.DialTimeout("unix", o.Addr, o.ConnectTimeout)
	case "tls":
		d := &net.Dialer{Timeout: o.ConnectTimeout}
		return tls.DialWithDialer(d, "tcp", o.Addr, o.TLSConfig)
	default:
		nc, err := net.DialTimeout("tcp", o.Addr, o.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		if tcp, ok := nc.(*net.TCPConn); ok {
			// TCP_NODELAY so small pipelined writes aren't held by Nagle's
			// algorithm (spec.md §4.2 "Write path").
			tcp.SetNoDelay(true)
		}
		return nc, nil
	}
}

// Redial dials a fresh connection with the given options; it is
// equivalent to Dial. Closing any previous connection is the caller's job.
func Redial(o Options) (*Connection, error) {
	return Dial(o)
}
