package tcp

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Family distinguishes the two address forms listen accepts. There is no
// AF_INET6 member: the original's IPAddressV4.h/IPAddressV6.h split the
// families into distinct value types, but this module only ever binds
// IPv4 or a Unix-domain path, so one enum with two members reproduces the
// contract without a parallel v6 type nobody constructs.
type Family uint8

const (
	FamilyInet Family = iota
	FamilyUnix
)

// Address is a parsed listen/dial target: either an IPv4 host:port pair
// or a Unix-domain socket path. The zero value is not valid; use Parse.
type Address struct {
	family Family
	ip     [4]byte
	port   uint16
	path   string
}

// Parse treats a string beginning with "/", "./" or "@" as a Unix-domain
// path and anything else as an IPv4 "host:port" (an empty host, "0.0.0.0"
// or "*" meaning INADDR_ANY); any other string is an error.
func Parse(s string) (Address, error) {
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "@") {
		return Address{family: FamilyUnix, path: s}, nil
	}

	host, portStr, err := splitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("tcp: %q is neither host:port nor a unix path: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("tcp: invalid port in %q: %w", s, err)
	}

	var ip [4]byte
	if host == "" || host == "0.0.0.0" || host == "*" {
		// ip stays the zero value: INADDR_ANY.
	} else {
		ip, err = parseIPv4(host)
		if err != nil {
			return Address{}, fmt.Errorf("tcp: invalid host in %q: %w", s, err)
		}
	}

	return Address{family: FamilyInet, ip: ip, port: uint16(port)}, nil
}

func splitHostPort(s string) (host, port string, err error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", fmt.Errorf("missing ':'")
	}
	return s[:i], s[i+1:], nil
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, fmt.Errorf("expected 4 dotted octets, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return out, fmt.Errorf("octet %d: %w", i, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Family reports whether this address is an inet or a Unix-domain target.
func (a Address) Family() Family { return a.family }

// String renders the address back to its host:port or path form.
func (a Address) String() string {
	switch a.family {
	case FamilyUnix:
		return a.path
	default:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.ip[0], a.ip[1], a.ip[2], a.ip[3], a.port)
	}
}

// sockaddr builds the unix.Sockaddr this address resolves to, for use in
// bind/connect.
func (a Address) sockaddr() (unix.Sockaddr, error) {
	switch a.family {
	case FamilyUnix:
		if a.path == "" {
			return nil, fmt.Errorf("tcp: empty unix-domain path")
		}
		return &unix.SockaddrUnix{Name: a.path}, nil
	default:
		return &unix.SockaddrInet4{Port: int(a.port), Addr: a.ip}, nil
	}
}

// domain returns the socket(2) address family to create the listening
// socket with.
func (a Address) domain() int {
	if a.family == FamilyUnix {
		return unix.AF_UNIX
	}
	return unix.AF_INET
}
