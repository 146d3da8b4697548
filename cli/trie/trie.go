package trie

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nspcc-dev/mptkv/cli/options"
	"github.com/nspcc-dev/mptkv/pkg/core/mpt"
	"github.com/nspcc-dev/mptkv/pkg/core/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var rootFlag = cli.StringFlag{
	Name:  "root, r",
	Usage: "state root to use instead of the persisted one",
}

// NewCommands returns 'trie' command.
func NewCommands() []cli.Command {
	flags := append([]cli.Flag{rootFlag}, options.Common...)
	return []cli.Command{{
		Name:  "trie",
		Usage: "work with the authenticated key-value store",
		Subcommands: []cli.Command{
			{
				Name:      "put",
				Usage:     "put value by key",
				ArgsUsage: "KEY VALUE",
				Action:    put,
				Flags:     flags,
			},
			{
				Name:      "get",
				Usage:     "get value by key",
				ArgsUsage: "KEY",
				Action:    get,
				Flags:     flags,
			},
			{
				Name:      "delete",
				Usage:     "delete key",
				ArgsUsage: "KEY",
				Action:    del,
				Flags:     flags,
			},
			{
				Name:   "root",
				Usage:  "print current state root",
				Action: root,
				Flags:  flags,
			},
			{
				Name:      "proof",
				Usage:     "print inclusion or exclusion proof for the key as JSON array",
				ArgsUsage: "KEY",
				Action:    proof,
				Flags:     flags,
			},
			{
				Name:      "verify",
				Usage:     "verify the proof against the state root",
				ArgsUsage: "--root ROOT --proof FILE KEY",
				Action:    verify,
				Flags: append([]cli.Flag{
					cli.StringFlag{
						Name:  "proof, p",
						Usage: "file with the JSON proof",
					},
				}, flags...),
			},
			{
				Name:      "batch",
				Usage:     "apply JSON list of {\"key\", \"value\"} operations, empty value deletes the key",
				ArgsUsage: "FILE",
				Action:    batch,
				Flags:     flags,
			},
			{
				Name:   "dump",
				Usage:  "print stored and reachable node counts",
				Action: dump,
				Flags:  flags,
			},
			{
				Name:   "stats",
				Usage:  "traverse the trie and print collected metrics",
				Action: stats,
				Flags:  flags,
			},
		},
	}}
}

// trieContext holds everything a command needs to work with the trie.
type trieContext struct {
	mpt   mpt.Config
	store storage.Store
	trie  *mpt.Trie
	log   *zap.Logger
}

func (c *trieContext) close() {
	if err := c.store.Close(); err != nil {
		c.log.Warn("failed to close the DB", zap.Error(err))
	}
	_ = c.log.Sync()
}

func newTrieContext(ctx *cli.Context, wrap func(storage.Store) storage.Store) (*trieContext, error) {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return nil, err
	}
	log, _, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.ApplicationConfiguration)
	if err != nil {
		return nil, err
	}
	st, err := storage.NewStore(cfg.ApplicationConfiguration.DBConfiguration)
	if err != nil {
		return nil, fmt.Errorf("could not initialize storage: %w", err)
	}
	if wrap != nil {
		st = wrap(st)
	}
	c := &trieContext{store: st, log: log}
	c.mpt, err = cfg.ApplicationConfiguration.Trie.MPTConfig(st, log)
	if err == nil {
		if r := ctx.String("root"); r != "" {
			var h common.Hash
			h, err = parseHash(r)
			if err == nil {
				c.trie, err = mpt.NewTrie(h, c.mpt)
			}
		} else {
			c.trie, err = mpt.Open(c.mpt)
		}
	}
	if err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash length: %d", len(b))
	}
	return common.BytesToHash(b), nil
}

func parseArgs(ctx *cli.Context, n int) ([][]byte, error) {
	args := ctx.Args()
	if len(args) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	res := make([][]byte, n)
	for i := range args {
		b, err := options.ParseBytes(ctx, args[i])
		if err != nil {
			return nil, err
		}
		res[i] = b
	}
	return res, nil
}

func printRoot(ctx *cli.Context, tr *mpt.Trie) {
	fmt.Fprintln(ctx.App.Writer, tr.StateRoot().Hex())
}

func put(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 2)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	if err := c.trie.Put(args[0], args[1]); err != nil {
		return cli.NewExitError(err, 1)
	}
	printRoot(ctx, c.trie)
	return nil
}

func get(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	val, err := c.trie.Get(args[0])
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if val == nil {
		return cli.NewExitError(mpt.ErrNotFound, 1)
	}
	fmt.Fprintln(ctx.App.Writer, options.FormatBytes(ctx, val))
	return nil
}

func del(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	if err := c.trie.Delete(args[0]); err != nil {
		return cli.NewExitError(err, 1)
	}
	printRoot(ctx, c.trie)
	return nil
}

func root(ctx *cli.Context) error {
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	printRoot(ctx, c.trie)
	return nil
}

func proof(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	p, err := c.trie.GetProof(args[0])
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	res := make([]hexutil.Bytes, len(p))
	for i := range p {
		res[i] = p[i]
	}
	data, err := json.Marshal(res)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, string(data))
	return nil
}

func verify(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if !ctx.IsSet("root") || !ctx.IsSet("proof") {
		return cli.NewExitError(errors.New("both --root and --proof are required"), 1)
	}
	r, err := parseHash(ctx.String("root"))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	data, err := os.ReadFile(ctx.String("proof"))
	if err != nil {
		return cli.NewExitError(fmt.Errorf("can't read proof: %w", err), 1)
	}
	var p []hexutil.Bytes
	if err := json.Unmarshal(data, &p); err != nil {
		return cli.NewExitError(fmt.Errorf("can't decode proof: %w", err), 1)
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	tc := cfg.ApplicationConfiguration.Trie
	h, err := mpt.HasherByName(tc.HashFunction)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	key := args[0]
	if tc.KeyHashing {
		hk := h(key)
		key = hk[:]
	}
	entries := make([][]byte, len(p))
	for i := range p {
		entries[i] = p[i]
	}
	val, err := mpt.VerifyProofWith(h, r, key, entries)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if val == nil {
		fmt.Fprintln(ctx.App.Writer, "absent")
		return nil
	}
	fmt.Fprintln(ctx.App.Writer, options.FormatBytes(ctx, val))
	return nil
}

// batchItem is a single operation of the batch file.
type batchItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func batch(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.NewExitError(errors.New("batch file is missing"), 1)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return cli.NewExitError(fmt.Errorf("can't read batch: %w", err), 1)
	}
	var items []batchItem
	if err := json.Unmarshal(data, &items); err != nil {
		return cli.NewExitError(fmt.Errorf("can't decode batch: %w", err), 1)
	}
	ops := make([]mpt.Operation, 0, len(items))
	for i, it := range items {
		var op mpt.Operation
		op.Key, err = options.ParseBytes(ctx, it.Key)
		if err != nil {
			return cli.NewExitError(fmt.Errorf("item %d: %w", i, err), 1)
		}
		if it.Value != "" {
			op.Value, err = options.ParseBytes(ctx, it.Value)
			if err != nil {
				return cli.NewExitError(fmt.Errorf("item %d: %w", i, err), 1)
			}
		}
		ops = append(ops, op)
	}

	var cache *storage.MemCachedStore
	c, err := newTrieContext(ctx, func(s storage.Store) storage.Store {
		cache = storage.NewMemCachedStore(s)
		return cache
	})
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	n, err := c.trie.PutBatch(mpt.NewBatch(mpt.OrderBatch(ops)))
	if err != nil {
		c.log.Error("batch is applied partially", zap.Int("applied", n), zap.Error(err))
	}
	keys, perr := cache.Persist()
	if perr != nil {
		return cli.NewExitError(fmt.Errorf("can't persist changes: %w", perr), 1)
	}
	c.log.Debug("batch persisted", zap.Int("keys", keys))
	if err != nil {
		return cli.NewExitError(fmt.Errorf("%d operations applied: %w", n, err), 1)
	}
	fmt.Fprintf(ctx.App.Writer, "applied: %d\n", n)
	printRoot(ctx, c.trie)
	return nil
}

func dump(ctx *cli.Context) error {
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	ns, err := mpt.NewNodeStore(c.store, c.mpt.Prefix, c.mpt.Hasher, 0, c.mpt.Pruning, c.log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	var (
		stored, size int
		byType       = make(map[string]int)
	)
	ns.Seek(func(_ common.Hash, data []byte) bool {
		stored++
		size += len(data)
		n, err := mpt.DecodeNode(data)
		if err != nil {
			byType["invalid"]++
			return true
		}
		byType[nodeTypeName(n.Type())]++
		return true
	})

	// The root is always stored, other nodes only when they're not embedded.
	var reachable int
	err = c.trie.Traverse(func(path []byte, _ mpt.Node, data []byte) bool {
		if len(path) == 0 || len(data) >= common.HashLength {
			reachable++
		}
		return false
	})
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	w := ctx.App.Writer
	fmt.Fprintf(w, "root: %s\n", c.trie.StateRoot().Hex())
	fmt.Fprintf(w, "stored: %d (%d bytes)\n", stored, size)
	fmt.Fprintf(w, "reachable: %d\n", reachable)
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "%s: %d\n", t, byType[t])
	}
	return nil
}

func nodeTypeName(t mpt.NodeType) string {
	switch t {
	case mpt.BranchT:
		return "branch"
	case mpt.ExtensionT:
		return "extension"
	case mpt.LeafT:
		return "leaf"
	default:
		return "other"
	}
}

func stats(ctx *cli.Context) error {
	c, err := newTrieContext(ctx, nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer c.close()

	var keys int
	err = c.trie.Traverse(func(_ []byte, n mpt.Node, _ []byte) bool {
		switch n := n.(type) {
		case *mpt.LeafNode:
			keys++
		case *mpt.BranchNode:
			if n.Value() != nil {
				keys++
			}
		}
		return false
	})
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(ctx.App.Writer, "keys: %d\n", keys)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), "mptkv_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			}
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", l.GetName(), l.GetValue())
			}
			fmt.Fprintf(ctx.App.Writer, "%s %v\n", name, v)
		}
	}
	return nil
}
