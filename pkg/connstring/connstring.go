// Package connstring parses memdb:// connection strings for the HTTP client.
package connstring

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidConnString is returned when the connection string is invalid
	ErrInvalidConnString = errors.New("invalid connection string")
	// ErrInvalidScheme is returned when the connection string scheme is not supported
	ErrInvalidScheme = errors.New("invalid scheme: must be 'memdb://' or 'memdbs://'")
	// ErrNoHost is returned when no host is specified
	ErrNoHost = errors.New("no host specified in connection string")
)

// DefaultPort is used when the connection string has none
const DefaultPort = 8080

// ConnString represents a parsed connection string
type ConnString struct {
	Host     string
	Port     int
	Database string // informational; the server serves one database
	Options  Options
}

// Options contains connection string options
type Options struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxConnections int
	MaxIdleTime    time.Duration
	TLS            bool
	TLSInsecure    bool
	Compression    bool
	AppName        string
}

// DefaultOptions returns default connection options
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxConnections: 10,
		MaxIdleTime:    90 * time.Second,
		Compression:    true,
	}
}

// Parse parses a connection string. Supported formats:
//   - memdb://host:port/database?options
//   - memdbs://host:port/database?options (tls=true)
func Parse(connStr string) (*ConnString, error) {
	if connStr == "" {
		return nil, fmt.Errorf("%w: empty connection string", ErrInvalidConnString)
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnString, err)
	}

	cs := &ConnString{Port: DefaultPort, Options: DefaultOptions()}
	switch strings.ToLower(u.Scheme) {
	case "memdb":
	case "memdbs":
		cs.Options.TLS = true
	default:
		return nil, ErrInvalidScheme
	}

	if u.Host == "" {
		return nil, ErrNoHost
	}
	cs.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port '%s'", ErrInvalidConnString, p)
		}
		cs.Port = port
	}
	if cs.Host == "" {
		return nil, ErrNoHost
	}

	if u.Path != "" && u.Path != "/" {
		cs.Database = strings.TrimPrefix(u.Path, "/")
	}

	if err := parseOptions(&cs.Options, u.Query()); err != nil {
		return nil, err
	}
	return cs, nil
}

// parseOptions parses query parameters into Options. Durations accept Go
// syntax ("5s") or plain milliseconds.
func parseOptions(opts *Options, values url.Values) error {
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]

		var err error
		switch strings.ToLower(key) {
		case "timeout", "timeoutms":
			opts.Timeout, err = parseDuration(val)
		case "connecttimeout", "connecttimeoutms":
			opts.ConnectTimeout, err = parseDuration(val)
		case "maxidletime", "maxidletimems":
			opts.MaxIdleTime, err = parseDuration(val)
		case "maxconnections", "maxpoolsize":
			opts.MaxConnections, err = strconv.Atoi(val)
			if err == nil && opts.MaxConnections < 1 {
				err = errors.New("must be positive")
			}
		case "tls", "ssl":
			opts.TLS = parseBool(val)
		case "tlsinsecure", "tlsinsecureskipverify":
			opts.TLSInsecure = parseBool(val)
		case "compression", "compressors":
			opts.Compression = parseBool(val) || strings.Contains(val, "gzip")
		case "appname":
			opts.AppName = val
		default:
			return fmt.Errorf("%w: unknown option %q", ErrInvalidConnString, key)
		}
		if err != nil {
			return fmt.Errorf("%w: invalid %s value %q: %v", ErrInvalidConnString, key, val, err)
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// parseBool parses a boolean value from string
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// Address returns host:port
func (cs *ConnString) Address() string {
	return net.JoinHostPort(cs.Host, strconv.Itoa(cs.Port))
}

// BaseURL returns the http or https URL of the server
func (cs *ConnString) BaseURL() string {
	scheme := "http"
	if cs.Options.TLS {
		scheme = "https"
	}
	return scheme + "://" + cs.Address()
}

// String returns the connection string representation without options
func (cs *ConnString) String() string {
	scheme := "memdb"
	if cs.Options.TLS {
		scheme = "memdbs"
	}
	s := scheme + "://" + cs.Address()
	if cs.Database != "" {
		s += "/" + cs.Database
	}
	return s
}
