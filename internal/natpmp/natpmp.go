// Package natpmp discovers a gateway's external address and maintains a
// UDP port mapping for it, trying NAT-PMP first and falling back to
// UPnP IGDv1, the way the teacher's p2p transport would negotiate
// reachability for an inbound listener.
package natpmp

import (
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	natpmpc "github.com/jackpal/go-nat-pmp"

	"github.com/btdht/mldht/logger"
	"github.com/btdht/mldht/logger/glog"
)

// DefaultLeaseDuration is how long a port mapping is requested for
// before it must be refreshed.
const DefaultLeaseDuration = 20 * time.Minute

// Mapper maintains one UDP port mapping on whichever gateway protocol
// was found to work.
type Mapper struct {
	protocol string // "natpmp" or "upnp", empty if nothing was found
	port     int

	pmp *natpmpc.Client
	igd *internetgateway1.WANIPConnection1
}

// Discover probes for a NAT-PMP gateway first, then UPnP IGDv1 devices,
// returning the first that responds. ok is false if neither is present,
// which is the common case on networks without NAT.
func Discover() (*Mapper, bool) {
	if m, ok := discoverNATPMP(); ok {
		return m, true
	}
	if m, ok := discoverUPnP(); ok {
		return m, true
	}
	return nil, false
}

func discoverNATPMP() (*Mapper, bool) {
	gw, err := defaultGateway()
	if err != nil {
		return nil, false
	}
	client := natpmpc.NewClient(gw)
	if _, err := client.GetExternalAddress(); err != nil {
		return nil, false
	}
	return &Mapper{protocol: "natpmp", pmp: client}, true
}

func discoverUPnP() (*Mapper, bool) {
	clients, errs, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil {
		glog.V(logger.Debug).Infof("natpmp: upnp discovery: %v", err)
	}
	for _, e := range errs {
		if e != nil {
			glog.V(logger.Debug).Infof("natpmp: upnp probe: %v", e)
		}
	}
	if len(clients) == 0 {
		return nil, false
	}
	return &Mapper{protocol: "upnp", igd: clients[0]}, true
}

// ExternalAddr returns the gateway's external IPv4 address.
func (m *Mapper) ExternalAddr() (net.IP, error) {
	switch m.protocol {
	case "natpmp":
		resp, err := m.pmp.GetExternalAddress()
		if err != nil {
			return nil, err
		}
		ip := resp.ExternalIPAddress
		return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
	case "upnp":
		ip, err := m.igd.GetExternalIPAddress()
		if err != nil {
			return nil, err
		}
		return net.ParseIP(ip), nil
	default:
		return nil, fmt.Errorf("natpmp: no gateway protocol available")
	}
}

// AddMapping requests a UDP port mapping from the gateway for the given
// internal port, returning the externally-visible port. Calling it again
// with the same port refreshes the lease.
func (m *Mapper) AddMapping(internalPort int, lease time.Duration) (externalPort int, err error) {
	m.port = internalPort
	seconds := uint32(lease / time.Second)
	switch m.protocol {
	case "natpmp":
		resp, err := m.pmp.AddPortMapping("udp", internalPort, internalPort, int(seconds))
		if err != nil {
			return 0, err
		}
		return int(resp.MappedExternalPort), nil
	case "upnp":
		name := "mldht"
		if err := m.igd.AddPortMapping("", uint16(internalPort), "UDP", uint16(internalPort), localIP(), true, name, seconds); err != nil {
			return 0, err
		}
		return internalPort, nil
	default:
		return 0, fmt.Errorf("natpmp: no gateway protocol available")
	}
}

// DeleteMapping removes a previously-added mapping.
func (m *Mapper) DeleteMapping() error {
	switch m.protocol {
	case "natpmp":
		_, err := m.pmp.AddPortMapping("udp", m.port, 0, 0)
		return err
	case "upnp":
		return m.igd.DeletePortMapping("", uint16(m.port), "UDP")
	default:
		return nil
	}
}

// Refresh is meant to be wired into sched.Scheduler.RefreshNAT: it
// renews the port mapping and returns the next time it should be
// renewed again.
func (m *Mapper) Refresh(internalPort int) func(now time.Time) time.Time {
	return func(now time.Time) time.Time {
		if _, err := m.AddMapping(internalPort, DefaultLeaseDuration); err != nil {
			glog.V(logger.Error).Infof("natpmp: failed to refresh port mapping: %v", err)
		}
		return now.Add(DefaultLeaseDuration)
	}
}

func defaultGateway() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			gw := make(net.IP, len(ip4))
			copy(gw, ip4)
			gw[3] = 1
			return gw, nil
		}
	}
	return nil, fmt.Errorf("natpmp: no usable network interface found")
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
