package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/mahaj/zylos/pkg/broadcast"
	"github.com/mahaj/zylos/pkg/collab"
	"github.com/mahaj/zylos/pkg/config"
	"github.com/mahaj/zylos/pkg/ident"
	"github.com/mahaj/zylos/pkg/kv"
	"github.com/mahaj/zylos/pkg/peer"
	"github.com/mahaj/zylos/pkg/session"
	"github.com/mahaj/zylos/pkg/snowflake"
	"github.com/mahaj/zylos/pkg/store"
)

func main() {
	cfg := config.Load()

	app := &cli.App{
		Name:  "zylos-node",
		Usage: "run a peer-to-peer chat node on this device",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "log in as `NAME` on start"},
			&cli.StringFlag{Name: "listen", Value: cfg.ListenAddr, Usage: "peer listener address"},
			&cli.StringFlag{Name: "public-url", Value: cfg.PublicURL, Usage: "websocket URL other peers dial"},
			&cli.StringFlag{Name: "storage", Value: cfg.Storage, Usage: "leveldb, scylla or memory"},
			&cli.StringFlag{Name: "data-dir", Value: cfg.DataDir, Usage: "leveldb directory"},
			&cli.StringFlag{Name: "directory", Value: cfg.Directory, Usage: "peer directory: redis or static"},
			&cli.StringFlag{Name: "broadcast", Value: cfg.Broadcast, Usage: "cross-context sync: redis, kafka or none"},
			&cli.StringFlag{Name: "cloud", Value: cfg.Cloud, Usage: "cloud mirror: kafka or none"},
			&cli.StringFlag{Name: "log-file", Usage: "write logs to `FILE` instead of stderr"},
			&cli.BoolFlag{Name: "verify", Usage: "ask for a human verification code on login"},
		},
		Action: func(c *cli.Context) error {
			cfg.ListenAddr = c.String("listen")
			cfg.PublicURL = c.String("public-url")
			cfg.Storage = c.String("storage")
			cfg.DataDir = c.String("data-dir")
			cfg.Directory = c.String("directory")
			cfg.Broadcast = c.String("broadcast")
			cfg.Cloud = c.String("cloud")
			return run(c.Context, cfg, c.String("user"), c.String("log-file"), c.Bool("verify"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// node holds everything main opens, so it can be closed in reverse order.
type node struct {
	backend kv.Backend
	rdb     *redis.Client
	cloud   *collab.KafkaCloud
	client  *session.Client
}

func run(parent context.Context, cfg *config.Config, user, logFile string, verify bool) error {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	lines := readLines(os.Stdin)
	n, err := open(ctx, cfg, lines, verify)
	if err != nil {
		return err
	}
	defer n.close()

	con := newConsole(n.client, os.Stdout)
	if user != "" {
		con.login(ctx, user)
	} else if u, ok, err := n.client.Resume(ctx); err != nil {
		log.Printf("node: resuming session: %v", err)
	} else if ok {
		con.printf("welcome back, %s\n", u.Username)
	}
	return con.loop(ctx, lines)
}

// readLines feeds stdin to a channel so the command loop and the login
// prompt can share it.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func open(ctx context.Context, cfg *config.Config, lines <-chan string, verify bool) (_ *node, err error) {
	n := &node{}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	n.backend, err = openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage, err)
	}

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	scheme := ident.NewScheme(cfg.PeerPrefix)

	st, err := store.New(ctx, store.Config{Backend: n.backend, Scheme: scheme, IDs: ids})
	if err != nil {
		return nil, err
	}

	if cfg.Directory == "redis" || cfg.Broadcast == "redis" {
		n.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := n.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
	}

	opts := session.Options{
		Scheme:         scheme,
		IDs:            ids,
		ListenAddr:     cfg.ListenAddr,
		PublicURL:      cfg.PublicURL,
		ConnectTimeout: cfg.ConnectTimeout,
		AckTimeout:     cfg.AckTimeout,
	}

	if cfg.Directory == "redis" {
		opts.Directory = peer.NewRedisDirectory(n.rdb, 0)
	} else {
		dir := peer.NewStaticDirectory()
		for addr, endpoint := range cfg.Peers {
			if err := dir.Register(ctx, addr, endpoint); err != nil {
				return nil, err
			}
		}
		opts.Directory = dir
	}

	switch cfg.Broadcast {
	case "redis":
		rdb := n.rdb
		opts.Channel = func(ctx context.Context) (broadcast.Channel, error) {
			return broadcast.NewRedisChannel(ctx, rdb, cfg.Channel)
		}
	case "kafka":
		opts.Channel = func(context.Context) (broadcast.Channel, error) {
			return broadcast.NewKafkaChannel(cfg.KafkaBrokers, cfg.Channel), nil
		}
	}

	if cfg.Cloud == "kafka" {
		n.cloud = collab.NewKafkaCloud(cfg.KafkaBrokers, collab.DefaultCloudTopic)
		opts.Cloud = n.cloud
	}

	if verify {
		opts.Verifier = collab.CodeVerifier{Prompt: func(ctx context.Context, code string) (string, error) {
			fmt.Printf("type %s to continue: ", code)
			select {
			case line, ok := <-lines:
				if !ok {
					return "", io.EOF
				}
				return strings.TrimSpace(line), nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}}
	}

	n.client = session.NewClient(st, opts)
	return n, nil
}

func openBackend(cfg *config.Config) (kv.Backend, error) {
	switch cfg.Storage {
	case "memory":
		return kv.NewMemory(), nil
	case "scylla":
		b, err := kv.OpenScylla(cfg.ScyllaHosts, cfg.ScyllaKeyspace, fmt.Sprintf("node-%d", cfg.NodeID))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := kv.OpenLevelDB(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (n *node) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n.client != nil {
		if err := n.client.Close(ctx); err != nil {
			log.Printf("node: closing session: %v", err)
		}
	}
	if n.cloud != nil {
		if err := n.cloud.Close(); err != nil {
			log.Printf("node: closing cloud writer: %v", err)
		}
	}
	if n.rdb != nil {
		n.rdb.Close()
	}
	if n.backend != nil {
		if err := n.backend.Close(); err != nil {
			log.Printf("node: closing storage: %v", err)
		}
	}
}
