package kv

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gocql/gocql"
)

// KVTableSchema is the table Scylla expects; scripts/create_kv_table creates it.
const KVTableSchema = `CREATE TABLE IF NOT EXISTS kv (
	namespace text,
	key text,
	value blob,
	updated_at timestamp,
	PRIMARY KEY (namespace, key)
)`

// Scylla stores blobs in a kv table partitioned by namespace, so several
// devices can share one cluster without seeing each other's keys.
type Scylla struct {
	session   *gocql.Session
	namespace string
}

func NewSession(hosts []string, keyspace string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Println("kv: connected to ScyllaDB cluster")
	return session, nil
}

func OpenScylla(hosts []string, keyspace, namespace string) (*Scylla, error) {
	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return nil, err
	}
	if err := session.Query(KVTableSchema).Exec(); err != nil {
		session.Close()
		return nil, err
	}
	return &Scylla{session: session, namespace: namespace}, nil
}

func (s *Scylla) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.session.Query(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key).
		WithContext(ctx).Scan(&value)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *Scylla) Put(ctx context.Context, key string, value []byte) error {
	return s.session.Query(`INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		s.namespace, key, value, time.Now()).WithContext(ctx).Exec()
}

func (s *Scylla) Delete(ctx context.Context, key string) error {
	return s.session.Query(`DELETE FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key).
		WithContext(ctx).Exec()
}

func (s *Scylla) Close() error {
	s.session.Close()
	return nil
}
