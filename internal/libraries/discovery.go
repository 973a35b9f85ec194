package libraries

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
)

const mdnsDomain = "local."

// Peer is a board server found on the local network.
type Peer struct {
	Instance string
	Host     string
	Addrs    []net.IP
	Port     int
}

// Advertise registers this server under service (for example
// "_boardsync._tcp") until ctx is done.
func Advertise(ctx context.Context, service string, port int) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("boardsync-%s", host),
		service,
		mdnsDomain,
		port,
		[]string{"path=/ws"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Discover browses for servers until ctx is done.
func Discover(ctx context.Context, service string) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	var (
		mu    sync.Mutex
		peers []Peer
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for e := range entries {
			mu.Lock()
			peers = append(peers, Peer{Instance: e.Instance, Host: e.HostName, Addrs: e.AddrIPv4, Port: e.Port})
			mu.Unlock()
		}
	}()
	if err := resolver.Browse(ctx, service, mdnsDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]Peer(nil), peers...), nil
}
