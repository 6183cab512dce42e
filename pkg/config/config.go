// Package config reads node settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	// PublicURL is the websocket endpoint other peers dial. Empty means
	// ws://<ListenAddr>/peer.
	PublicURL  string
	PeerPrefix string

	Storage        string // leveldb, scylla or memory
	DataDir        string
	ScyllaHosts    []string
	ScyllaKeyspace string

	// Directory is redis or static. Static peers come from Peers.
	Directory string
	Peers     map[string]string

	RedisAddr    string
	Broadcast    string // redis, kafka or none
	Channel      string
	KafkaBrokers []string
	Cloud        string // none or kafka

	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	NodeID         int64
}

// Load reads .env from the working directory when present and then the
// environment. Malformed numbers fall back to their defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: reading .env: %v", err)
	}

	return &Config{
		ListenAddr: getEnv("ZYLOS_LISTEN_ADDR", "127.0.0.1:7070"),
		PublicURL:  getEnv("ZYLOS_PUBLIC_URL", ""),
		PeerPrefix: getEnv("ZYLOS_PEER_PREFIX", "zylos-node-"),

		Storage:        getEnv("ZYLOS_STORAGE", "leveldb"),
		DataDir:        getEnv("ZYLOS_DATA_DIR", "zylos-data"),
		ScyllaHosts:    splitList(getEnv("SCYLLA_HOSTS", "localhost")),
		ScyllaKeyspace: getEnv("SCYLLA_KEYSPACE", "zylos"),

		Directory: getEnv("ZYLOS_DIRECTORY", "redis"),
		Peers:     parsePeers(getEnv("ZYLOS_PEERS", "")),

		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		Broadcast:    getEnv("ZYLOS_BROADCAST", "redis"),
		Channel:      getEnv("ZYLOS_CHANNEL", "zylos_global_sync"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:19092")),
		Cloud:        getEnv("ZYLOS_CLOUD", "none"),

		ConnectTimeout: getDuration("ZYLOS_CONNECT_TIMEOUT", 10*time.Second),
		AckTimeout:     getDuration("ZYLOS_ACK_TIMEOUT", 30*time.Second),
		NodeID:         getInt("ZYLOS_NODE_ID", 1),
	}
}

// Endpoint is the URL peers use to reach this node.
func (c *Config) Endpoint() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return "ws://" + c.ListenAddr + "/peer"
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("config: bad %s %q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("config: bad %s %q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

// parsePeers reads address=endpoint pairs separated by commas.
func parsePeers(s string) map[string]string {
	peers := make(map[string]string)
	for _, pair := range splitList(s) {
		addr, endpoint, ok := strings.Cut(pair, "=")
		if !ok || addr == "" || endpoint == "" {
			log.Printf("config: ignoring peer %q, want address=endpoint", pair)
			continue
		}
		peers[strings.TrimSpace(addr)] = strings.TrimSpace(endpoint)
	}
	return peers
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
