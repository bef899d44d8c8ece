package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"scripthost/internal/config"
	"scripthost/internal/httpserver"
	"scripthost/internal/userstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		passwdCmd(os.Args[2:])
		return
	}

	var (
		addr    = flag.String("addr", "0.0.0.0:8080", "listen address")
		dataDir = flag.String("data", "", "data dir for users and uploads (required if -config is not set)")
		cfgPath = flag.String("config", "", "path to config json (optional)")
	)
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			log.Fatalf("parse config: %v", err)
		}
	} else {
		if strings.TrimSpace(*dataDir) == "" {
			log.Fatalf("missing -data (or provide -config)")
		}
		cfg.DataDir = *dataDir
	}
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}

	if cfg.DataDir == "" {
		log.Fatalf("config: dataDir is required")
	}
	absData, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		log.Fatalf("abs data dir: %v", err)
	}
	cfg.DataDir = absData
	if cfg.UsersFile == "" {
		cfg.UsersFile = filepath.Join(cfg.DataDir, "users.json")
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(cfg.DataDir, "uploads")
	}
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		log.Fatalf("mkdir uploads: %v", err)
	}

	users, err := userstore.Open(cfg.UsersFile, cfg.UploadsDir)
	if err != nil {
		log.Fatalf("open user store: %v", err)
	}

	srv, err := httpserver.New(httpserver.Options{
		Config: cfg,
		Users:  users,
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	log.Printf("scripthost listening on http://%s (uploads=%s, users=%d)", cfg.Addr, cfg.UploadsDir, users.Count())
	if err := http.ListenAndServe(cfg.Addr, withHeaders(srv.Handler())); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: scripthost passwd -p <password>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
	if err != nil {
		log.Fatalf("bcrypt: %v", err)
	}
	fmt.Println(string(h))
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Basic hardening / UX.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		// Raw files may be fetched repeatedly by script loaders.
		if strings.HasPrefix(r.URL.Path, "/raw/") {
			w.Header().Set("Cache-Control", "public, max-age=60")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}
