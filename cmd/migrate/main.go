package main

import (
	"log"
	"os"

	"github.com/nitter-community/nitter-status/internal/config"
	"github.com/nitter-community/nitter-status/internal/store"
)

func main() {
	path := "config/config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", cfg.Database.Path, err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Database %s migrated", cfg.Database.Path)
}
