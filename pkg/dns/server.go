package dns

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"

	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/storage"
)

const (
	// DefaultListenAddr matches the lighthouse DNS default in generated configs
	DefaultListenAddr = "0.0.0.0:53"

	// DefaultDomain is the default search domain for node names
	DefaultDomain = "mesh"

	// DefaultUpstream is the fallback DNS server for external queries
	DefaultUpstream = "8.8.8.8:53"
)

// Server is the lighthouse DNS server: node hostnames resolve to overlay
// addresses, everything else is forwarded upstream.
type Server struct {
	resolver   *Resolver
	dnsServer  *dns.Server
	listenAddr string
	upstream   []string
	mu         sync.RWMutex
	running    bool
}

// Config holds DNS server configuration
type Config struct {
	ListenAddr string   // Address to listen on (default: 0.0.0.0:53)
	Domain     string   // Search domain (default: "mesh")
	Upstream   []string // Upstream DNS servers (default: [8.8.8.8:53])
}

// NewServer creates a DNS server for one network
func NewServer(store storage.Store, networkID string, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if len(config.Upstream) == 0 {
		config.Upstream = []string{DefaultUpstream}
	}

	return &Server{
		resolver:   NewResolver(store, networkID, config.Domain),
		listenAddr: config.ListenAddr,
		upstream:   config.Upstream,
	}
}

// Start starts the DNS server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DNS server already running")
	}
	s.running = true
	s.mu.Unlock()

	log.WithComponent("dns").Info().
		Str("address", s.listenAddr).
		Msg("starting DNS server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSQuery)

	s.dnsServer = &dns.Server{
		Addr:    s.listenAddr,
		Net:     "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			log.WithComponent("dns").Error().
				Err(err).
				Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		log.WithComponent("dns").Info().
			Str("address", s.listenAddr).
			Msg("DNS server started successfully")
		return nil
	}
}

// Stop stops the DNS server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			log.WithComponent("dns").Error().
				Err(err).
				Msg("error stopping DNS server")
			return err
		}
	}

	s.running = false
	log.WithComponent("dns").Info().Msg("DNS server stopped")
	return nil
}

// handleDNSQuery handles incoming DNS queries
func (s *Server) handleDNSQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		// Only A records are served locally
		if q.Qtype != dns.TypeA {
			s.forwardQuery(w, r)
			return
		}

		answers, err := s.resolver.Resolve(q.Name)
		if err != nil {
			log.WithComponent("dns").Debug().
				Err(err).
				Str("query", q.Name).
				Msg("failed to resolve query, forwarding to upstream")
			s.forwardQuery(w, r)
			return
		}

		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		log.WithComponent("dns").Error().
			Err(err).
			Msg("failed to write DNS response")
	}
}

// forwardQuery forwards a DNS query to upstream DNS servers
func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}

	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			log.WithComponent("dns").Debug().
				Err(err).
				Str("upstream", upstream).
				Msg("failed to forward query to upstream")
			continue
		}

		if err := w.WriteMsg(resp); err != nil {
			log.WithComponent("dns").Error().
				Err(err).
				Msg("failed to write forwarded DNS response")
		}
		return
	}

	// All upstreams failed, return SERVFAIL
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure

	if err := w.WriteMsg(msg); err != nil {
		log.WithComponent("dns").Error().
			Err(err).
			Msg("failed to write DNS error response")
	}
}

// IsRunning returns true if the DNS server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
