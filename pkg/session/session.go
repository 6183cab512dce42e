// Package session wires the store, the peer manager, the broadcast sync and
// the delivery pipeline together for one logged-in user. A Session is built
// on login and torn down on logout; nothing in it outlives the user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mahaj/zylos/pkg/broadcast"
	"github.com/mahaj/zylos/pkg/collab"
	"github.com/mahaj/zylos/pkg/delivery"
	"github.com/mahaj/zylos/pkg/ident"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/peer"
	"github.com/mahaj/zylos/pkg/store"
)

// Session is the network side of a logged-in user.
type Session struct {
	user     model.User
	address  string
	endpoint string

	store    *store.Store
	scheme   ident.Scheme
	dir      peer.Directory
	peers    *peer.Manager
	pipeline *delivery.Pipeline
	sync     *broadcast.Sync
	cloud    collab.CloudSync

	ln     net.Listener
	srv    *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ttlDirectory is a Directory whose registrations expire and must be
// refreshed, such as peer.RedisDirectory.
type ttlDirectory interface {
	peer.Directory
	TTL() time.Duration
}

func start(ctx context.Context, st *store.Store, u model.User, opts Options) (_ *Session, err error) {
	s := &Session{
		user:    u,
		address: opts.Scheme.PeerAddress(u.ID),
		store:   st,
		scheme:  opts.Scheme,
		dir:     opts.Directory,
		cloud:   opts.Cloud,
	}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	if opts.Channel != nil {
		ch, err := opts.Channel(ctx)
		if err != nil {
			return nil, fmt.Errorf("joining broadcast channel: %w", err)
		}
		s.sync = broadcast.NewSync(st, ch)
	}

	dcfg := delivery.Config{
		Store:      st,
		Scheme:     opts.Scheme,
		IDs:        opts.IDs,
		AckTimeout: opts.AckTimeout,
	}
	if s.sync != nil {
		dcfg.Broadcast = s.sync
	}
	if opts.Cloud != nil {
		dcfg.Cloud = opts.Cloud
	}
	s.pipeline, err = delivery.New(dcfg)
	if err != nil {
		return nil, err
	}

	s.peers, err = peer.NewManager(peer.Config{
		Self: peer.Hello{
			From:     s.address,
			UserID:   u.ID,
			Username: u.Username,
			Avatar:   u.Avatar,
		},
		Directory:      opts.Directory,
		Inbound:        s.pipeline,
		OnStatus:       s.peerStatus,
		ConnectTimeout: opts.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	s.pipeline.UsePeers(s.peers)

	s.ln, err = net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening for peers: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/peer", s.peers)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("session: peer listener stopped: %v", err)
		}
	}()

	s.endpoint = opts.PublicURL
	if s.endpoint == "" {
		s.endpoint = "ws://" + s.ln.Addr().String() + "/peer"
	}
	if err := s.dir.Register(ctx, s.address, s.endpoint); err != nil {
		return nil, fmt.Errorf("registering %s: %w", s.address, err)
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if d, ok := s.dir.(ttlDirectory); ok {
		s.wg.Add(1)
		go s.refresh(refreshCtx, d)
	}

	log.Printf("session: %s online as %s at %s", u.Username, s.address, s.endpoint)
	return s, nil
}

// refresh re-registers the endpoint before the directory entry expires.
func (s *Session) refresh(ctx context.Context, d ttlDirectory) {
	defer s.wg.Done()
	ticker := time.NewTicker(d.TTL() / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.Register(ctx, s.address, s.endpoint); err != nil {
				log.Printf("session: refreshing %s: %v", s.address, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// peerStatus mirrors connection state into every direct chat with the
// partner behind address.
func (s *Session) peerStatus(address string, state peer.State) {
	var status model.P2PStatus
	switch state {
	case peer.StateConnecting:
		status = model.P2PConnecting
	case peer.StateOpen:
		status = model.P2PConnected
	case peer.StateError:
		status = model.P2PError
	default:
		status = model.P2PDisconnected
	}

	seen := make(map[string]bool)
	for _, c := range s.store.Chats() {
		for _, id := range c.Others(s.user.ID) {
			if seen[id] || s.scheme.PeerAddress(id) != address {
				continue
			}
			seen[id] = true
			s.store.SetPeerStatus(id, status)
		}
	}
}

func (s *Session) User() model.User { return s.user }

func (s *Session) Address() string { return s.address }

func (s *Session) Endpoint() string { return s.endpoint }

// PeerState reports the connection state towards a user.
func (s *Session) PeerState(userID string) peer.State {
	return s.peers.Status(s.scheme.PeerAddress(userID))
}

// close tears every part down concurrently and waits for it. Parts that were
// never started are skipped.
func (s *Session) close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	var g errgroup.Group
	if s.peers != nil {
		g.Go(func() error {
			err := s.peers.Close()
			s.pipeline.Close()
			return err
		})
	} else if s.pipeline != nil {
		s.pipeline.Close()
	}
	if s.sync != nil {
		g.Go(s.sync.Close)
	}
	if s.srv != nil {
		g.Go(func() error { return s.srv.Shutdown(ctx) })
	} else if s.ln != nil {
		s.ln.Close()
	}
	if s.endpoint != "" {
		g.Go(func() error { return s.dir.Unregister(ctx, s.address) })
	}
	err := g.Wait()
	s.wg.Wait()
	return err
}
