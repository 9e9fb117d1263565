// Command embbtreectl is a thin reference driver over the embbtree
// core: it wires a backing store, the tree, a deterministic key
// source, and a clock together to run single-insert, shuffled-insert,
// and recovery workloads from flags. It is a harness, not part of the
// core engine.
package main

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	embbtree "github.com/embbtree/embbtree"
	"github.com/embbtree/embbtree/config"
	"github.com/embbtree/embbtree/internal/clock"
	"github.com/embbtree/embbtree/internal/page"
	"github.com/embbtree/embbtree/internal/randkey"
	"github.com/embbtree/embbtree/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("embbtreectl", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	backingKind := fs.String("backing", "file", "backing store kind: file or mem")
	scenario := fs.String("scenario", "shuffled", "scenario to run: single, shuffled, recover")
	seed := fs.Int64("seed", 1, "seed for the shuffled key permutation")
	config.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	backing, err := openBacking(*backingKind, cfg)
	if err != nil {
		log.Error("open backing store failed", "error", err)
		os.Exit(1)
	}

	tree, err := embbtree.Open(backing, cfg.ToTreeConfig(), log)
	if err != nil {
		log.Error("open tree failed", "error", err)
		os.Exit(1)
	}
	defer tree.Close()

	clk := clock.Real{}
	start := clk.Now()

	var runErr error
	switch *scenario {
	case "single":
		runErr = runSingle(tree, cfg)
	case "shuffled":
		runErr = runShuffled(tree, cfg, randkey.NewShuffled(*seed))
	case "recover":
		runErr = runShuffled(tree, cfg, randkey.NewShuffled(*seed))
	default:
		runErr = fmt.Errorf("unknown scenario %q", *scenario)
	}
	if runErr != nil {
		log.Error("scenario failed", "scenario", *scenario, "error", runErr)
		os.Exit(1)
	}

	log.Info("scenario complete", "scenario", *scenario, "elapsed", clk.Now().Sub(start))
	tree.PrintStats(os.Stderr)
}

func openBacking(kind string, cfg config.Config) (store.BackingStore, error) {
	switch kind {
	case "mem":
		return store.NewMemStore(cfg.PageSize), nil
	case "file":
		return store.OpenFileStore(cfg.BackingPath, cfg.PageSize, cfg.DirectIO)
	default:
		return nil, fmt.Errorf("unknown backing kind %q", kind)
	}
}

func encodeKey(keySize uint32, v uint64) []byte { return page.EncodeKey(int(keySize), v) }

func encodeRecordData(dataSize uint32, v uint64) []byte {
	data := make([]byte, dataSize)
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], v)
	n := int(dataSize)
	if n > 8 {
		n = 8
	}
	copy(data, full[:n])
	return data
}

// runSingle performs a single insert followed by two lookups.
func runSingle(tree *embbtree.Tree, cfg config.Config) error {
	key := encodeKey(cfg.KeySize, 42)
	data := encodeRecordData(cfg.DataSize, 42)
	if err := tree.Put(key, data); err != nil {
		return err
	}
	out := make([]byte, cfg.DataSize)
	found, err := tree.Get(key, out)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("get(42): not found")
	}
	missKey := encodeKey(cfg.KeySize, 43)
	found, err = tree.Get(missKey, nil)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("get(43): unexpectedly found")
	}
	return nil
}

// runShuffled inserts a shuffled permutation of 1..1000, then verifies
// full lookup coverage, out-of-range probes, and a bounded range
// iteration. A nil src skips the inserts and only verifies.
func runShuffled(tree *embbtree.Tree, cfg config.Config, src randkey.Source) error {
	const n = 1000
	if src != nil {
		perm := src.Permutation(n)
		for _, v := range perm {
			k := v + 1
			if err := tree.Put(encodeKey(cfg.KeySize, k), encodeRecordData(cfg.DataSize, k)); err != nil {
				return err
			}
		}
	}

	out := make([]byte, cfg.DataSize)
	for k := uint64(1); k <= n; k++ {
		found, err := tree.Get(encodeKey(cfg.KeySize, k), out)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("get(%d): not found", k)
		}
	}
	for _, k := range []uint64{0, 3_500_000} {
		found, err := tree.Get(encodeKey(cfg.KeySize, k), nil)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("get(%d): unexpectedly found", k)
		}
	}

	it, err := tree.InitIterator(encodeKey(cfg.KeySize, 40), encodeKey(cfg.KeySize, 299))
	if err != nil {
		return err
	}
	count := 0
	for {
		_, _, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		count++
	}
	if count != 260 {
		return fmt.Errorf("range iteration: got %d keys, want 260", count)
	}
	return nil
}
