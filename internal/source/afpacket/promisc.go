//go:build linux

package afpacket

import (
	"golang.org/x/sys/unix"
)

// setPromiscuous sets IFF_PROMISC on the interface so mirrored traffic addressed to other
// hosts reaches the ring.
func setPromiscuous(ifname string) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return err
	}
	flags := ifr.Uint16()
	if flags&unix.IFF_PROMISC != 0 {
		return nil
	}
	ifr.SetUint16(flags | unix.IFF_PROMISC)
	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
}
