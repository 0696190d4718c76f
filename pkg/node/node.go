package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/broadcast"
	"github.com/pixperk/solo/pkg/client"
	"github.com/pixperk/solo/pkg/discovery"
	"github.com/pixperk/solo/pkg/fsm"
	"github.com/pixperk/solo/pkg/gateway"
	"github.com/pixperk/solo/pkg/metrics"
	"github.com/pixperk/solo/pkg/quiesce"
	"github.com/pixperk/solo/pkg/resolver"
	"github.com/pixperk/solo/pkg/server"
	"github.com/pixperk/solo/pkg/storage"
	"github.com/pixperk/solo/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Shell is the window-owning part of the application.
type Shell interface {
	// show a freshly opened project
	OpenProject(ctx context.Context, project types.ProjectIdentity, args types.StartupArgs) error
	// bring an already open project to the front
	ActivateProject(project types.ProjectIdentity, args types.StartupArgs)
	FollowLink(args types.LinkArgs) bool
	CloseWindows()
}

// wires the ownership state, listener and coordination layers into one
// running instance and provides a clean api over them
type Node struct {
	cfg    Config
	id     uuid.UUID
	logger hclog.Logger

	fsm       *fsm.FSM
	listener  *server.Listener
	dir       discovery.Directory
	registrar discovery.Registrar
	coord     *broadcast.Coordinator
	resolver  *resolver.Resolver
	quiesce   *quiesce.Controller
	store     *storage.DirStore
	gateway   *gateway.Server
	shell     Shell

	mu   sync.Mutex
	lock *storage.ProjectLock

	done     chan struct{}
	doneOnce sync.Once
}

// NewNode binds the listener and builds every layer on top of it. A full
// port range is returned as types.ErrBindExhausted and must abort startup.
func NewNode(ctx context.Context, cfg Config, shell Shell) (*Node, error) {
	cfg.setDefaults()
	logger := cfg.Logger

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.NewDirStore(filepath.Join(cfg.DataDir, "projects"), logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}

	dir, err := cfg.directory(ctx)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:    cfg,
		id:     cfg.InstanceID,
		logger: logger,
		fsm:    fsm.NewFSM(),
		dir:    dir,
		store:  store,
		shell:  shell,
		done:   make(chan struct{}),
	}

	srv := server.NewServer(n.fsm, n, n.id, logger.Named("server"))
	n.listener, err = server.Bind(cfg.Listener, srv, logger.Named("listener"))
	if err != nil {
		logger.Error("cannot coordinate with other instances", "error", err)
		return nil, err
	}
	port := n.listener.Port()
	metrics.ListenerPort.Set(float64(port))

	if reg, ok := dir.(discovery.Registrar); ok {
		if err := reg.Register(ctx, port); err != nil {
			n.listener.Stop(time.Second)
			return nil, fmt.Errorf("failed to register instance: %w", err)
		}
		n.registrar = reg
	}

	cfg.Dialer.Logger = logger.Named("dialer")
	n.coord = broadcast.NewCoordinator(dir, broadcast.DialWith(client.NewDialer(cfg.Dialer)), logger.Named("broadcast"))
	n.coord.SetSelfPort(port)

	cfg.Resolver.Logger = logger.Named("resolver")
	n.resolver = resolver.New(n.fsm, n.coord, cfg.Resolver)
	n.resolver.SetRank(port - cfg.Listener.BasePort)

	cfg.Quiesce.Logger = logger.Named("quiesce")
	n.quiesce = quiesce.NewController(n.fsm, dir, n.coord, cfg.Terminator, n, cfg.Quiesce)

	if cfg.GatewayAddr != "" {
		n.gateway = gateway.NewServer(cfg.GatewayAddr, n.Status)
	}

	logger.Info("instance ready", "instance_id", n.id, "port", port)
	return n, nil
}

func (n *Node) ID() uuid.UUID {
	return n.id
}

func (n *Node) Port() int {
	return n.listener.Port()
}

func (n *Node) Store() *storage.DirStore {
	return n.store
}

// closed once another instance asked this one to shut down
func (n *Node) Done() <-chan struct{} {
	return n.done
}

func (n *Node) requestExit() {
	n.doneOnce.Do(func() { close(n.done) })
}

// Run serves peers (and the gateway when configured) until ctx ends or
// the instance is asked to exit.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(n.listener.Serve)
	if n.gateway != nil {
		g.Go(func() error { return n.gateway.Start(ctx) })
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-n.done:
		}
		n.listener.Stop(5 * time.Second)
		if n.gateway != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = n.gateway.Stop(sctx)
		}
		return nil
	})

	return g.Wait()
}

// Close releases everything this instance holds. Safe after Run returned.
func (n *Node) Close() error {
	n.requestExit()
	n.listener.Stop(time.Second)

	var errs []error
	if n.registrar != nil {
		if err := n.registrar.Unregister(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.releaseLock(); err != nil {
		errs = append(errs, err)
	}
	metrics.OwnsProject.Set(0)
	return errors.Join(errs...)
}

func (n *Node) Status() gateway.Status {
	snap := n.fsm.Snapshot()
	return gateway.Status{
		PID:        os.Getpid(),
		InstanceID: n.id.String(),
		Port:       n.listener.Port(),
		Project:    snap.Project,
		Waiting:    snap.Waiting,
		Exclusive:  snap.Exclusive,
	}
}

// fills in the path of a project given by name only
func (n *Node) normalize(p types.ProjectIdentity) types.ProjectIdentity {
	if p.Backend == "" && p.Name != "" {
		p.Backend = types.BackendXML
	}
	if p.Path == "" && p.Name != "" {
		p.Path = n.store.ProjectPath(p.Name)
	}
	return p
}

func (n *Node) releaseLock() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lock == nil {
		return nil
	}
	err := n.lock.Release()
	n.lock = nil
	return err
}

// inside the project root a moved project keeps its relative path
func rebase(p types.ProjectIdentity, oldRoot, newRoot string) types.ProjectIdentity {
	rel, err := filepath.Rel(oldRoot, p.Path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	p.Path = filepath.Join(newRoot, rel)
	return p
}
