package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	srvService     = "_minecraft._tcp."
	resolvConfPath = "/etc/resolv.conf"
	defaultDNS     = "1.1.1.1:53"
)

// SRVResolver finds the endpoint advertised for a Minecraft host name.
type SRVResolver interface {
	LookupSRV(ctx context.Context, host string) (target string, port int, ok bool)
}

// DNSResolver queries _minecraft._tcp SRV records directly over DNS.
type DNSResolver struct {
	client *dns.Client
	server string
}

// NewDNSResolver returns a resolver that uses the first nameserver from
// /etc/resolv.conf, or a public resolver when none is configured.
func NewDNSResolver() *DNSResolver {
	server := defaultDNS
	if conf, err := dns.ClientConfigFromFile(resolvConfPath); err == nil && len(conf.Servers) > 0 {
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return NewDNSResolverWithServer(server)
}

// NewDNSResolverWithServer returns a resolver that queries server (host:port).
func NewDNSResolverWithServer(server string) *DNSResolver {
	return &DNSResolver{
		client: &dns.Client{Net: "udp", Timeout: 2 * time.Second},
		server: server,
	}
}

// LookupSRV returns the highest priority SRV target for host. Any failure
// reports ok=false so the caller falls back to the literal address.
func (r *DNSResolver) LookupSRV(ctx context.Context, host string) (string, int, bool) {
	msg := new(dns.Msg)
	msg.SetQuestion(srvService+dns.Fqdn(host), dns.TypeSRV)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return "", 0, false
	}

	var best *dns.SRV
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		if best == nil || srv.Priority < best.Priority ||
			(srv.Priority == best.Priority && srv.Weight > best.Weight) {
			best = srv
		}
	}
	if best == nil || best.Target == "." {
		return "", 0, false
	}

	return strings.TrimSuffix(best.Target, "."), int(best.Port), true
}
