// Package netutil picks the LAN-facing IPv4 address the hub should advertise
// to devices scanning a QR code or typing in a URL. There's no third-party
// library in the retrieval pack for this — it's five lines of net.InterfaceAddrs
// walking, and pulling in a dependency for it would just be indirection
// around the same stdlib call.
package netutil

import "net"

// LocalIPv4 returns the first non-loopback IPv4 address among the system's
// interface addresses, or "127.0.0.1" if none is found. Interface state
// (up or down) is not checked.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		return ip4.String()
	}

	return "127.0.0.1"
}
