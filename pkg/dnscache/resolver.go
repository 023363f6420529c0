package dnscache

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
)

// Stats reports cache effectiveness.
type Stats struct {
	Hits       int `json:"hits"`
	Misses     int `json:"misses"`
	Entries    int `json:"entries"`
	TTLSeconds int `json:"ttl_seconds"`
}

type entry struct {
	ips     []net.IP
	expires time.Time
}

// Resolver is a TTL-caching DNS resolver. Registry and scanner hostnames
// (auth.docker.io, ghcr.io, ...) are looked up over and over during version
// passes; caching them for the configured TTL keeps that traffic off the
// DNS server while still letting changes propagate.
type Resolver struct {
	ttl      time.Duration
	upstream []string
	client   *dns.Client
	logger   zerolog.Logger

	mu     sync.Mutex
	cache  map[string]entry
	hits   int
	misses int

	// resolve is swappable in tests.
	resolve func(host string) ([]net.IP, error)

	now func() time.Time
}

// NewResolver creates a resolver with the given entry TTL. Upstream servers
// come from the system resolver configuration, with a public fallback.
func NewResolver(ttl time.Duration) *Resolver {
	var upstream []string
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, server := range conf.Servers {
			upstream = append(upstream, net.JoinHostPort(server, conf.Port))
		}
	}
	if len(upstream) == 0 {
		upstream = []string{"1.1.1.1:53"}
	}

	r := &Resolver{
		ttl:      ttl,
		upstream: upstream,
		client:   &dns.Client{Timeout: 5 * time.Second},
		logger:   log.WithComponent("dnscache"),
		cache:    make(map[string]entry),
		now:      time.Now,
	}
	r.resolve = r.queryUpstream

	r.logger.Info().Dur("ttl", ttl).Msg("dns cache enabled")
	return r
}

// queryUpstream asks each upstream for A records, falling back to the
// system resolver when none answers.
func (r *Resolver) queryUpstream(host string) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	for _, server := range r.upstream {
		reply, _, err := r.client.Exchange(msg, server)
		if err != nil || reply == nil {
			continue
		}
		var ips []net.IP
		for _, rr := range reply.Answer {
			if a, ok := rr.(*dns.A); ok {
				ips = append(ips, a.A)
			}
		}
		if len(ips) > 0 {
			return ips, nil
		}
	}

	// The system resolver still knows about /etc/hosts and search domains.
	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}

// LookupIP resolves host, serving repeated lookups from the cache until the
// TTL lapses.
func (r *Resolver) LookupIP(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	now := r.now()

	r.mu.Lock()
	if cached, ok := r.cache[host]; ok {
		if now.Before(cached.expires) {
			r.hits++
			ips := cached.ips
			r.mu.Unlock()
			return ips, nil
		}
		delete(r.cache, host)
	}
	r.mu.Unlock()

	ips, err := r.resolve(host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}

	r.mu.Lock()
	r.cache[host] = entry{ips: ips, expires: now.Add(r.ttl)}
	r.misses++
	r.mu.Unlock()

	return ips, nil
}

// DialContext is a net dialer that resolves through the cache. Plug it into
// an http.Transport to give that client cached DNS.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := r.LookupIP(host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Clear flushes the cache and resets the counters.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]entry)
	r.hits = 0
	r.misses = 0
	r.mu.Unlock()
}

// Stats returns hit/miss counters and the entry count.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Hits:       r.hits,
		Misses:     r.misses,
		Entries:    len(r.cache),
		TTLSeconds: int(r.ttl.Seconds()),
	}
}
