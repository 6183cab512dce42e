package main

import (
	"flag"
	"log"

	"github.com/mahaj/zylos/pkg/config"
	"github.com/mahaj/zylos/pkg/kv"
)

func main() {
	namespace := flag.String("namespace", "", "only delete this device's keys, e.g. node-1")
	flag.Parse()

	cfg := config.Load()

	session, err := kv.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	if *namespace != "" {
		log.Printf("Deleting namespace %s...", *namespace)
		if err := session.Query("DELETE FROM kv WHERE namespace = ?", *namespace).Exec(); err != nil {
			log.Fatalf("Failed to delete namespace: %v", err)
		}
		log.Println("Namespace deleted successfully.")
		return
	}

	log.Println("Dropping table kv...")
	if err := session.Query("DROP TABLE IF EXISTS kv").Exec(); err != nil {
		log.Fatalf("Failed to drop table: %v", err)
	}
	log.Println("Table dropped successfully.")
}
