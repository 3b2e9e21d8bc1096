// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
	"github.com/pkg/errors"
)

const (
	// SocketScheme is the URL scheme of an AF_VSOCK address.
	SocketScheme = "vsock"
	// UnixScheme is the URL scheme of an AF_UNIX stream address.
	UnixScheme = "unix"
)

// Well known context IDs.
const (
	HypervisorContextID uint32 = vsock.Hypervisor
	LocalContextID      uint32 = vsock.Local
	HostContextID       uint32 = vsock.Host
	// AnyContextID binds to every context ID of the local machine.
	AnyContextID uint32 = 0xFFFFFFFF
)

// NewAddr returns the AF_VSOCK address of port on context cid.
func NewAddr(cid, port uint32) net.Addr {
	return &vsock.Addr{ContextID: cid, Port: port}
}

// ParseAddr parses the following socket address formats:
//   - vsock://<cid>:<port>, where cid may be "any" or -1 for VMADDR_CID_ANY
//   - unix://<path>
func ParseAddr(sock string) (net.Addr, error) {
	addr, err := url.Parse(sock)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid socket address %q", sock)
	}

	switch addr.Scheme {
	case SocketScheme:
		if addr.Hostname() == "" || addr.Port() == "" || addr.Path != "" {
			return nil, errors.Errorf("invalid vsock scheme: %s", sock)
		}
		cid, err := parseContextID(addr.Hostname())
		if err != nil {
			return nil, errors.Errorf("invalid vsock cid: %s", sock)
		}
		port, err := strconv.ParseUint(addr.Port(), 10, 32)
		if err != nil {
			return nil, errors.Errorf("invalid vsock port: %s", sock)
		}
		return NewAddr(cid, uint32(port)), nil
	case UnixScheme:
		// unix://relative/path parses with the first element as Host.
		path := addr.Host + addr.Path
		if path == "" {
			return nil, errors.Errorf("invalid unix scheme: %s", sock)
		}
		return &net.UnixAddr{Name: path, Net: "unix"}, nil
	}

	return nil, errors.Errorf("invalid scheme: %s", sock)
}

func parseContextID(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "any", "-1":
		return AnyContextID, nil
	}
	cid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(cid), nil
}

// FormatAddr is the inverse of ParseAddr.
func FormatAddr(addr net.Addr) string {
	switch a := addr.(type) {
	case *vsock.Addr:
		return SocketScheme + "://" + strconv.FormatUint(uint64(a.ContextID), 10) + ":" + strconv.FormatUint(uint64(a.Port), 10)
	case *net.UnixAddr:
		return UnixScheme + "://" + a.Name
	case nil:
		return ""
	}
	return addr.String()
}

// ContextID returns the context ID of the local machine.
func ContextID() (uint32, error) {
	cid, err := vsock.ContextID()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get local context ID")
	}
	return cid, nil
}
