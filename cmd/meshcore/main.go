// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Command meshcore runs a standalone development node: it wires up a
// mesh.Node, prints its identity, and serves a minimal debug HTTP surface
// for inspecting local DHT records and cached peer descriptors, mirroring
// the developer-facing surface a dev server exposes without pulling in any
// production rest/ or protocol/ layer. The dht-get and descriptor-dump
// subcommands are thin HTTP clients against that surface, for poking at an
// already-running node from a second invocation of this binary.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/veilmesh/meshcore/config"
	"github.com/veilmesh/meshcore/dht"
	"github.com/veilmesh/meshcore/identity"
	"github.com/veilmesh/meshcore/mesh"
)

func main() {
	cfg := config.Default()
	fs := flag.NewFlagSet("meshcore", flag.ExitOnError)
	config.RegisterFlags(fs, &cfg)
	seedHex := fs.String("seed", "", "hex-encoded 32 byte identity seed (dev only, generates a random one if empty)")

	if len(os.Args) < 2 {
		fs.Parse(os.Args[1:])
		runNode(cfg, *seedHex)
		return
	}

	switch os.Args[1] {
	case "dht-get":
		fs.Parse(os.Args[2:])
		dhtGet(cfg, fs.Arg(0))
	case "descriptor-dump":
		fs.Parse(os.Args[2:])
		descriptorDump(cfg, fs.Arg(0))
	default:
		fs.Parse(os.Args[1:])
		runNode(cfg, *seedHex)
	}
}

func runNode(cfg config.Config, seedHex string) {
	kp, err := loadOrGenerateIdentity(seedHex)
	if err != nil {
		log.Crit("Failed to establish node identity", "err", err)
	}

	n, err := mesh.New(cfg, kp)
	if err != nil {
		log.Crit("Failed to initialize mesh node", "err", err)
	}
	n.Start()
	defer n.Close()

	if cfg.DebugAddr != "" {
		go serveDebugHTTP(cfg.DebugAddr, n)
	}

	log.Info("Mesh node started", "peer", kp.PeerID, "datadir", cfg.DataDir, "debug", cfg.DebugAddr)
	select {}
}

// loadOrGenerateIdentity reconstructs the node's key pair from a supplied
// hex seed, or generates a fresh random one if none was given.
func loadOrGenerateIdentity(seedHex string) (*identity.KeyPair, error) {
	if seedHex == "" {
		return identity.Generate()
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid -seed hex: %w", err)
	}
	return identity.FromSeed(seed)
}

// serveDebugHTTP exposes the node's DHT store and descriptor cache for
// local inspection. It is never meant to be reachable from anywhere but
// localhost; it carries no auth of its own.
func serveDebugHTTP(addr string, n *mesh.Node) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dht/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/dht/")
		id, err := dht.ParseNodeID(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(n.Store.Get(id))
	})
	mux.HandleFunc("/descriptor/", func(w http.ResponseWriter, r *http.Request) {
		peerID := strings.TrimPrefix(r.URL.Path, "/descriptor/")
		d, ok := n.Descriptor(peerID)
		if !ok {
			http.Error(w, "no cached descriptor for peer", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Debug HTTP server exited", "err", err)
	}
}

func dhtGet(cfg config.Config, key string) {
	if key == "" {
		fmt.Fprintln(os.Stderr, "usage: meshcore dht-get <base32-key>")
		os.Exit(2)
	}
	fetchDebug(cfg, "/dht/"+key)
}

func descriptorDump(cfg config.Config, peerID string) {
	if peerID == "" {
		fmt.Fprintln(os.Stderr, "usage: meshcore descriptor-dump <peer-id>")
		os.Exit(2)
	}
	fetchDebug(cfg, "/descriptor/"+peerID)
}

// fetchDebug is a minimal HTTP client for this binary's own debug surface,
// assumed to be reachable at cfg.DebugAddr on the same machine.
func fetchDebug(cfg config.Config, path string) {
	if cfg.DebugAddr == "" {
		log.Crit("Debug HTTP surface is disabled (-debug-addr empty); nothing to query")
	}
	resp, err := http.Get("http://" + cfg.DebugAddr + path)
	if err != nil {
		log.Crit("Failed to reach node debug endpoint", "err", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		log.Crit("Failed to read debug response", "err", err)
	}
	fmt.Println()
}
