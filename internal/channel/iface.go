package channel

import (
	"fmt"
	"net"
	"os"

	"github.com/vishvananda/netlink"
)

// Interface describes the capture interface.
type Interface struct {
	Name         string
	Index        int
	HardwareAddr net.HardwareAddr
	Up           bool
}

// LookupInterface resolves a capture interface by name through netlink.
func LookupInterface(name string) (*Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", name, err)
	}
	attrs := link.Attrs()
	return &Interface{
		Name:         attrs.Name,
		Index:        attrs.Index,
		HardwareAddr: attrs.HardwareAddr,
		Up:           attrs.Flags&net.FlagUp != 0,
	}, nil
}

// NodeID builds the default capture node id: <hostname>_<interface MAC>.
func NodeID(iface *Interface) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	if iface == nil || len(iface.HardwareAddr) == 0 {
		return host
	}
	return fmt.Sprintf("%s_%s", host, iface.HardwareAddr)
}
