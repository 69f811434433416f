// Package federation maintains the server-to-server mesh: dialing
// configured peers on boot, absorbing inbound links, gossiping known
// addresses, and running the typed cross-server queries the request
// handlers lean on when local storage comes up short.
package federation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/dispatch"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/protocol"
	"github.com/vedran77/lattice/internal/reconcile"
	"github.com/vedran77/lattice/internal/transport/ws"
)

type Manager struct {
	log        *zap.Logger
	dispatcher *dispatch.Dispatcher
	rec        *reconcile.Reconciler
	self       string

	// set once during wiring, before any link is opened
	router ws.Router

	mu    sync.Mutex
	links map[string]*ws.Client
}

func New(self string, d *dispatch.Dispatcher, rec *reconcile.Reconciler, log *zap.Logger) *Manager {
	return &Manager{
		log:        log,
		dispatcher: d,
		rec:        rec,
		self:       self,
		links:      make(map[string]*ws.Client),
	}
}

// SetRouter breaks the wiring cycle: the request router needs the manager
// for federation fallbacks, and dialed links need the router for inbound
// requests.
func (m *Manager) SetRouter(router ws.Router) { m.router = router }

func (m *Manager) Self() string { return m.self }

// Conns snapshots the live links as dispatch targets.
func (m *Manager) Conns() []dispatch.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatch.Conn, 0, len(m.links))
	for _, link := range m.links {
		out = append(out, link)
	}
	return out
}

// AddressList returns every server address this node knows, its own
// included, for gossip exchange.
func (m *Manager) AddressList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.links)+1)
	out = append(out, m.self)
	for addr := range m.links {
		out = append(out, addr)
	}
	return out
}

// Bootstrap dials the configured seed servers. Failures are logged and
// skipped; an unreachable seed must not keep the node from starting.
func (m *Manager) Bootstrap(ctx context.Context, seeds []string) {
	for _, addr := range seeds {
		if err := m.ConnectTo(ctx, addr); err != nil {
			m.log.Warn("seed server unreachable", zap.String("addr", addr), zap.Error(err))
		}
	}
}

// ConnectTo opens a link to addr, exchanges hellos, and follows the
// remote's known-server list. Already-linked and self addresses are no-ops.
func (m *Manager) ConnectTo(ctx context.Context, addr string) error {
	if addr == m.self {
		return nil
	}
	m.mu.Lock()
	if _, ok := m.links[addr]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	link, err := ws.Dial(ctx, addr, ws.RoleServer, m.router, m.dispatcher, m.log)
	if err != nil {
		return err
	}
	m.track(addr, link)

	hello := protocol.ServerHelloPayload{Address: m.self, KnownServers: m.AddressList()}
	req, err := protocol.NewRequest(protocol.TypeServerHello, hello)
	if err != nil {
		return err
	}
	resp, err := m.dispatcher.Do(ctx, link, req, dispatch.ServerTimeout)
	if err != nil {
		m.drop(addr, link)
		link.Close()
		return err
	}
	var theirs protocol.ServerHelloPayload
	if err := json.Unmarshal(resp.Payload, &theirs); err != nil {
		m.log.Debug("bad hello answer", zap.String("addr", addr), zap.Error(err))
		return nil
	}
	m.followGossip(theirs.KnownServers)
	return nil
}

// AcceptInbound registers a link another server opened to us, keyed by the
// address it announced, and returns our hello for the response. The
// announced peers get dialed in the background.
func (m *Manager) AcceptInbound(c *ws.Client, hello protocol.ServerHelloPayload) protocol.ServerHelloPayload {
	ours := protocol.ServerHelloPayload{Address: m.self, KnownServers: m.AddressList()}
	if hello.Address != "" && hello.Address != m.self {
		m.track(hello.Address, c)
	}
	m.followGossip(hello.KnownServers)
	return ours
}

func (m *Manager) followGossip(addrs []string) {
	for _, addr := range addrs {
		if addr == "" || addr == m.self {
			continue
		}
		go func(addr string) {
			ctx, cancel := context.WithTimeout(context.Background(), dispatch.ServerTimeout)
			defer cancel()
			if err := m.ConnectTo(ctx, addr); err != nil {
				m.log.Debug("gossiped server unreachable", zap.String("addr", addr), zap.Error(err))
			}
		}(addr)
	}
}

func (m *Manager) track(addr string, link *ws.Client) {
	m.mu.Lock()
	if old, ok := m.links[addr]; ok && old != link {
		// keep the existing link, close the duplicate
		m.mu.Unlock()
		link.Close()
		return
	}
	m.links[addr] = link
	total := len(m.links)
	m.mu.Unlock()
	m.log.Info("federation link up", zap.String("addr", addr), zap.Int("links", total))

	go func() {
		<-link.Done()
		m.drop(addr, link)
	}()
}

func (m *Manager) drop(addr string, link *ws.Client) {
	m.mu.Lock()
	if m.links[addr] == link {
		delete(m.links, addr)
	}
	total := len(m.links)
	m.mu.Unlock()
	m.log.Info("federation link down", zap.String("addr", addr), zap.Int("links", total))
}

// SearchProfile asks the whole mesh and keeps the newest valid snapshot.
func (m *Manager) SearchProfile(ctx context.Context, query protocol.UserSearchPayload) (*domain.UserProfile, error) {
	return m.dispatcher.SearchProfile(ctx, m.Conns(), query, dispatch.ServerTimeout)
}

// FetchPosts retrieves a verified post range from any server that has it.
func (m *Manager) FetchPosts(ctx context.Context, profile *domain.UserProfile, begin, end int64) ([]domain.Post, error) {
	return m.dispatcher.FetchPosts(ctx, m.Conns(), profile, begin, end, dispatch.ServerTimeout)
}

// FetchPostsBetween is FetchPosts for ranges that may cross a key rotation:
// the caller names the trusted key before the range and the key at its end.
func (m *Manager) FetchPostsBetween(ctx context.Context, userID, recoveryPublicKey string, begin, end int64, firstPublicKey, lastPublicKey string) ([]domain.Post, error) {
	return m.dispatcher.FetchPostsBetween(ctx, m.Conns(), userID, recoveryPublicKey,
		begin, end, firstPublicKey, lastPublicKey, dispatch.ServerTimeout)
}

// BroadcastProfileUpdate pushes a freshly accepted update to every link so
// the mesh converges without polling.
func (m *Manager) BroadcastProfileUpdate(ctx context.Context, update protocol.ProfileUpdatePayload) {
	m.dispatcher.Broadcast(ctx, m.Conns(), protocol.TypeProfileUpdate, update)
}

// RelaySignal forwards a signaling payload one hop into the mesh for a
// destination that is not online here.
func (m *Manager) RelaySignal(ctx context.Context, p protocol.EstablishConnectionPayload) {
	m.dispatcher.Broadcast(ctx, m.Conns(), protocol.TypeEstablishConnection, p)
}

// LookForProfileUpdates polls the mesh for anything newer than the local
// snapshot and merges what comes back. Used for users whose devices have
// been offline and on a slow timer for the rest.
func (m *Manager) LookForProfileUpdates(ctx context.Context, local *domain.UserProfile) (*domain.UserProfile, error) {
	conns := m.Conns()
	merged := local
	for _, conn := range conns {
		update, err := m.dispatcher.UserInfo(ctx, conn, merged, dispatch.ServerTimeout)
		if err != nil {
			m.log.Debug("user info poll failed",
				zap.String("addr", conn.Addr()), zap.Error(err))
			continue
		}
		if update == nil {
			continue
		}
		if update.PostCount < merged.PostCount {
			continue
		}
		next, err := m.rec.MergeProfile(ctx, merged, update)
		if err != nil {
			return merged, err
		}
		merged = next
	}
	return merged, nil
}

// RunUpdatePoller periodically sweeps every stored profile through
// LookForProfileUpdates until ctx ends.
func (m *Manager) RunUpdatePoller(ctx context.Context, interval time.Duration, list func(ctx context.Context) ([]*domain.UserProfile, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			profiles, err := list(ctx)
			if err != nil {
				m.log.Warn("profile sweep failed", zap.Error(err))
				continue
			}
			for _, p := range profiles {
				if p.Deleted {
					continue
				}
				if _, err := m.LookForProfileUpdates(ctx, p); err != nil {
					m.log.Warn("profile update poll failed",
						zap.String("userId", p.UserID), zap.Error(err))
				}
			}
		}
	}
}
