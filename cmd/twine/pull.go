package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
	"xdao.co/twine/twine"
)

// pullStats counts the blocks a pull saved and the ones the store refused.
type pullStats struct{ saved, failed int }

func (p *pullStats) add(results []storage.Result) {
	failed := len(storage.Failed(results))
	p.saved += len(results) - failed
	p.failed += failed
}

func (a *app) pullCommand() *cobra.Command {
	var (
		from  string
		batch uint64
	)
	cmd := &cobra.Command{
		Use:   "pull [selector]",
		Short: "Copy verified chains from a resolver into the local store",
		Long: `Copy the blocks a selector names from a source resolver into the local
store. Every block is verified as it is read. Without a selector every strand
the source knows is pulled.

The source is --from, a configured resolver name or a store URI, falling back
to --resolver. The local store is --store, or the default resolver.`,
		Example: "  twine pull zdpu... --from remote\n  twine pull --from grpc://peer:7070 --store bolt:./chains.db",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := resolver.Selector{Kind: resolver.SelectAll}
			if len(args) == 1 {
				var err error
				if sel, err = resolver.ParseSelector(args[0]); err != nil {
					return usageError{err}
				}
			}
			if from == "" {
				from = a.resolver
			}
			if from == "" {
				return usagef("pull needs a source: pass --from or --resolver")
			}
			ctx := cmd.Context()
			srcURI, dstURI, err := a.pullEnds(from)
			if err != nil {
				return err
			}
			opts := storeregistry.Options{Logger: a.log}
			src, closeSrc, err := storeregistry.Open(ctx, srcURI, storeregistry.UsageCLI, opts)
			if err != nil {
				return err
			}
			dst, closeDst, err := storeregistry.Open(ctx, dstURI, storeregistry.UsageCLI, opts)
			if err != nil {
				return multierr.Append(err, closeSrc())
			}

			var stats pullStats
			err = a.pull(ctx, src, dst, sel, batch, &stats)
			fmt.Fprintf(a.out, "Pulled %d blocks (%d failed)\n", stats.saved, stats.failed)
			return multierr.Combine(err, closeDst(), closeSrc())
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source resolver name or store URI (default --resolver)")
	cmd.Flags().Uint64Var(&batch, "batch", 1000, "Tixels per save batch, 0 for one batch per strand")
	return cmd
}

// pullEnds returns the source and destination store URIs. A source that
// is not a URI names a configured resolver.
func (a *app) pullEnds(from string) (string, string, error) {
	cfg, path, err := a.loadConfig()
	if err != nil {
		return "", "", err
	}
	src := from
	if !strings.Contains(from, ":") {
		e, ok := cfg.Lookup(from)
		if !ok {
			return "", "", usagef("no resolver named %q in %s", from, path)
		}
		src = e.URI
	}
	if _, _, err := storeregistry.Parse(src); err != nil {
		return "", "", usageError{err}
	}
	dst := a.storeURI
	if dst == "" {
		e, ok := cfg.Default()
		if !ok {
			return "", "", usagef("no default resolver in %s; pass --store", path)
		}
		dst = e.URI
	}
	if dst == src {
		return "", "", usagef("source and destination are both %s", src)
	}
	return src, dst, nil
}

func (a *app) pull(ctx context.Context, src resolver.Resolver, dst storage.Store, sel resolver.Selector, batch uint64, stats *pullStats) error {
	switch sel.Kind {
	case resolver.SelectSingle:
		res, err := resolver.Resolve(ctx, src, sel.Single)
		if err != nil {
			return err
		}
		results, err := dst.SaveMany(ctx, []twine.Twine{res.Strand, res.Tixel})
		stats.add(results)
		return err
	case resolver.SelectRange:
		rng, err := sel.Range.Resolve(ctx, src)
		if err != nil {
			return err
		}
		return a.pullRange(ctx, src, dst, rng.Strand, &rng, batch, stats)
	case resolver.SelectStrand:
		return a.pullStrand(ctx, src, dst, sel.Strand, batch, stats)
	}

	var ids []string
	var errs error
	for s, err := range src.FetchStrands(ctx) {
		if err != nil {
			return err
		}
		ids = append(ids, cidutil.Format(s.CID()))
		if err := a.pullStrand(ctx, src, dst, s.CID(), batch, stats); err != nil {
			if twine.IsKind(err, twine.KindCancelled) {
				return multierr.Append(errs, err)
			}
			a.log.Warn("pull failed", zap.String("strand", cidutil.Format(s.CID())), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	a.log.Debug("pulled strands", zap.Strings("strands", ids))
	return errs
}

// pullStrand pulls a strand and, when it has any, all of its tixels.
func (a *app) pullStrand(ctx context.Context, src resolver.Resolver, dst storage.Store, strand cid.Cid, batch uint64, stats *pullStats) error {
	latest, err := src.FetchLatest(ctx, strand)
	if twine.IsNotFound(err) {
		return a.pullRange(ctx, src, dst, strand, nil, batch, stats)
	}
	if err != nil {
		return err
	}
	rng := resolver.NewRange(strand, 0, latest.Index())
	return a.pullRange(ctx, src, dst, strand, &rng, batch, stats)
}

// pullRange saves the verified strand, then streams rng oldest first in
// batches. A nil rng saves the strand alone.
func (a *app) pullRange(ctx context.Context, src resolver.Resolver, dst storage.Store, strand cid.Cid, rng *resolver.AbsoluteRange, batch uint64, stats *pullStats) error {
	s, err := resolver.ResolveStrand(ctx, src, strand)
	if err != nil {
		return err
	}
	if err := dst.Save(ctx, s); err != nil {
		stats.failed++
		return err
	}
	stats.saved++
	if rng == nil {
		return nil
	}
	up := resolver.NewRange(strand, rng.Lower(), rng.Upper())
	for part := range up.Batches(batch) {
		var streamErr error
		tixels := func(yield func(twine.Twine) bool) {
			for res, err := range resolver.ResolveRange(ctx, src, part) {
				if err != nil {
					streamErr = err
					return
				}
				if !yield(res.Tixel) {
					return
				}
			}
		}
		results, err := dst.SaveStream(ctx, tixels)
		stats.add(results)
		if err = multierr.Append(streamErr, err); err != nil {
			return fmt.Errorf("pull %s: %w", part, err)
		}
		a.log.Debug("pulled batch", zap.Stringer("range", part), zap.Int("blocks", len(results)))
	}
	return nil
}
