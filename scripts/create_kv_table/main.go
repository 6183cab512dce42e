package main

import (
	"fmt"
	"log"

	"github.com/mahaj/zylos/pkg/config"
	"github.com/mahaj/zylos/pkg/kv"
)

func main() {
	cfg := config.Load()

	// The keyspace may not exist yet, so connect without one first.
	admin, err := kv.NewSession(cfg.ScyllaHosts, "")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	err = admin.Query(fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, cfg.ScyllaKeyspace)).Exec()
	admin.Close()
	if err != nil {
		log.Fatal(err)
	}

	session, err := kv.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	if err := session.Query(kv.KVTableSchema).Exec(); err != nil {
		log.Fatal(err)
	}

	log.Printf("Table %s.kv created successfully", cfg.ScyllaKeyspace)
}
