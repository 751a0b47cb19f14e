package discovery

import "net"

// RouteIP returns the local IPv4 address the kernel would use to reach dst,
// or "" if there is no route. No packet is sent.
func RouteIP(dst net.IP) string {
	if dst == nil || dst.IsUnspecified() {
		return ""
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: dst, Port: 9})
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// PreferredOutboundIP returns the address of the interface used for the
// default route, or "" when offline.
func PreferredOutboundIP() string {
	return RouteIP(net.IPv4(8, 8, 8, 8))
}

// tailscaleNet is the CGNAT range used by Tailscale (100.64.0.0/10).
var tailscaleNet = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// TailscaleIP scans interfaces for a Tailscale address, or returns "".
func TailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
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
			if ip4 := ipnet.IP.To4(); ip4 != nil && tailscaleNet.Contains(ip4) {
				return ip4.String()
			}
		}
	}
	return ""
}
