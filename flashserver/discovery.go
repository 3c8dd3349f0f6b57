package flashserver

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service flash servers announce themselves as.
const ServiceType = "_spinor._tcp"

// Announcer advertises a flash server with mDNS. The TXT record carries the
// chip name and size.
type Announcer struct {
	name      string
	port      int
	txtRecord []string

	currentAddr string
	server      *zeroconf.Server
}

func NewAnnouncer(name string, port int, info spinor.ChipInfo) *Announcer {
	if name == "" {
		name = "spinor"
	}

	return &Announcer{
		txtRecord: []string{"chip=" + info.Name, fmt.Sprintf("size=%d", info.TotalSize), "vendor=" + info.Vendor},
		name:      name,
		port:      port,
	}
}

// TXT returns the TXT record that is announced.
func (a *Announcer) TXT() []string {
	return a.txtRecord
}

func (a *Announcer) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.currentAddr = ""
}

func getIfaceAddressV4(iface *net.Interface) (string, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}

	for _, m := range addrs {
		k, ok := m.(*net.IPNet)
		if ok {
			if k.IP.To4() == nil {
				continue
			}

			return k.IP.String(), nil
		}
	}

	return "", nil
}

func getIfaceAddressV4Timeout(iface *net.Interface, maxWaitIP time.Duration) (string, error) {
	for deadline := time.Now().Add(maxWaitIP); time.Now().Before(deadline); {
		addr, err := getIfaceAddressV4(iface)
		if err != nil {
			return "", err
		}

		if addr != "" {
			return addr, nil
		}

		time.Sleep(250 * time.Millisecond)
	}

	return "", errors.New("timeout waiting for IPv4 address")
}

// Start announces the service. With an empty ifaceName the service is
// registered on all interfaces with the host's own name, otherwise only on the
// named interface with its first IPv4 address.
func (a *Announcer) Start(ifaceName string, maxWaitIP time.Duration) error {
	a.Stop()

	if ifaceName == "" {
		server, err := zeroconf.Register(a.name, ServiceType, "local.", a.port, a.txtRecord, nil)
		if err != nil {
			return err
		}
		server.TTL(60)

		a.currentAddr = fmt.Sprintf(":%d", a.port)
		a.server = server
		return nil
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return err
	}

	addr, err := getIfaceAddressV4Timeout(iface, maxWaitIP)
	if err != nil {
		return err
	}

	server, err := zeroconf.RegisterProxy(a.name, ServiceType, "local.", a.port, a.name, []string{addr}, a.txtRecord, []net.Interface{*iface})
	if err != nil {
		return err
	}
	server.TTL(60)

	a.currentAddr = fmt.Sprintf("%s:%d", addr, a.port)
	a.server = server
	return nil
}

func (a *Announcer) CurrentAddress() string {
	return a.currentAddr
}
