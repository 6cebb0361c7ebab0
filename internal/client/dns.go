package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// cachingDialer resolves hostnames through a refreshed in-memory cache
// before dialing, so a busy gateway does not hit DNS on every new connection.
type cachingDialer struct {
	resolver *dnscache.Resolver
	dialer   *net.Dialer
	logger   *slog.Logger

	stop chan struct{}
	once sync.Once
}

func newCachingDialer(d *net.Dialer, ttl time.Duration, logger *slog.Logger) *cachingDialer {
	cd := &cachingDialer{
		resolver: &dnscache.Resolver{},
		dialer:   d,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go cd.refresh(ttl)
	return cd
}

// refresh periodically re-resolves cached names and drops unused ones.
func (cd *cachingDialer) refresh(ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.C:
			cd.resolver.Refresh(true)
			cd.logger.Debug("DNS cache refreshed", "ttl", ttl)
		}
	}
}

// Stop ends the refresh loop. It is safe to call more than once.
func (cd *cachingDialer) Stop() {
	cd.once.Do(func() { close(cd.stop) })
}

// DialContext dials address, trying each cached IP for its host in turn.
func (cd *cachingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		return cd.dialer.DialContext(ctx, network, address)
	}

	ips, err := cd.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	var errs []error
	for _, ip := range ips {
		conn, err := cd.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
