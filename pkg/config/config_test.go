package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg := Load()
	assert.Equal(t, "127.0.0.1:7070", cfg.ListenAddr)
	assert.Equal(t, "ws://127.0.0.1:7070/peer", cfg.Endpoint())
	assert.Equal(t, "zylos-node-", cfg.PeerPrefix)
	assert.Equal(t, "leveldb", cfg.Storage)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.AckTimeout)
	assert.Equal(t, int64(1), cfg.NodeID)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ZYLOS_PUBLIC_URL", "wss://alice.example/peer")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ZYLOS_CONNECT_TIMEOUT", "2s")
	t.Setenv("ZYLOS_ACK_TIMEOUT", "soon")
	t.Setenv("ZYLOS_NODE_ID", "7")
	t.Setenv("ZYLOS_DIRECTORY", "static")
	t.Setenv("ZYLOS_PEERS", "zylos-node-bob=ws://10.0.0.2:7070/peer, broken")

	cfg := Load()
	assert.Equal(t, "wss://alice.example/peer", cfg.Endpoint())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.AckTimeout, "unparsable values keep the default")
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.Equal(t, "static", cfg.Directory)
	assert.Equal(t, map[string]string{"zylos-node-bob": "ws://10.0.0.2:7070/peer"}, cfg.Peers)
}
