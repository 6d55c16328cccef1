// Package netutil resolves capture interface addresses.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	ErrUnknownInterface  = errors.New("latprobe: unknown network interface")
	ErrMultipleAddresses = errors.New("latprobe: interface has more than one IPv4 address")
	ErrNoIPv4Address     = errors.New("latprobe: interface has no IPv4 address")
)

const (
	defaultTTL     = 5 * time.Minute
	defaultCleanup = 10 * time.Minute
)

// addrLister returns the addresses bound to an interface.
type addrLister func(name string) ([]net.Addr, error)

func systemAddrs(name string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	return ifi.Addrs()
}

// Resolver resolves the single IPv4 address of an interface. Results are cached so the runs of
// one invocation see a stable address.
type Resolver struct {
	addrs addrLister
	cache *cache.Cache
}

func NewResolver() *Resolver {
	return newResolver(systemAddrs, defaultTTL)
}

func newResolver(addrs addrLister, ttl time.Duration) *Resolver {
	return &Resolver{addrs: addrs, cache: cache.New(ttl, defaultCleanup)}
}

// IPv4 returns the only IPv4 address bound to the interface.
func (r *Resolver) IPv4(name string) (netip.Addr, error) {
	if v, ok := r.cache.Get(name); ok {
		return v.(netip.Addr), nil
	}

	addrs, err := r.addrs(name)
	if err != nil {
		return netip.Addr{}, err
	}
	var found []netip.Addr
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			found = append(found, addr)
		}
	}
	switch len(found) {
	case 0:
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoIPv4Address, name)
	case 1:
	default:
		return netip.Addr{}, fmt.Errorf("%w: %s has %v", ErrMultipleAddresses, name, found)
	}

	r.cache.SetDefault(name, found[0])
	return found[0], nil
}

// Flush drops every cached address.
func (r *Resolver) Flush() {
	r.cache.Flush()
}
