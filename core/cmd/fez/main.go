package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	fez "github.com/RobotDisco/fez-scheme/core"
	"github.com/RobotDisco/fez-scheme/store"
)

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func main() {
	sockPath := envOr("FEZ_SOCK", "/tmp/fez.sock")
	dbPath := envOr("FEZ_DB", "fez.db")

	var journal fez.Journal
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		journal = st
	}

	session, err := fez.NewSession(journal, os.Stdout)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	if err := session.Listen(sockPath); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	// Handle shutdown signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("shutting down...")
		session.Shutdown()
		os.Exit(0)
	}()

	log.Printf("fez listening (socket: %s, journal: %q)", sockPath, dbPath)
	session.Run()
}
