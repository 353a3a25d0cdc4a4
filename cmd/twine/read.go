package main

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
	"xdao.co/twine/verify"
)

const (
	formatJSON = "json"
	formatCID  = "cid"
)

func (a *app) strandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strands",
		Short: "List every strand the resolvers know",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				for s, err := range st.FetchStrands(ctx) {
					if err != nil {
						return err
					}
					latest := "-"
					switch t, err := st.FetchLatest(ctx, s.CID()); {
					case err == nil:
						latest = strconv.FormatUint(t.Index(), 10)
					case !twine.IsNotFound(err):
						return err
					}
					fmt.Fprintf(a.out, "%s\tradix=%d\tlatest=%s\tspec=%s\n", cidutil.Format(s.CID()), s.Radix(), latest, s.Spec())
				}
				return nil
			})
		},
	}
}

func (a *app) getCommand() *cobra.Command {
	var (
		format    string
		unchecked bool
	)
	cmd := &cobra.Command{
		Use:   "get <selector>",
		Short: "Print the blocks a selector names",
		Long: `Print the blocks a selector names, one per line.

Selectors:
  all | *                       every strand
  <strand>                      the strand and all of its tixels
  <strand>:<index>              one tixel; also <strand>:latest or <strand>:<tixel cid>
  <strand>:<upper>:<lower>      an inclusive range; negative indices count back from latest

Every block is verified before it is printed unless --unchecked is set.`,
		Example: "  twine get zdpu...:latest\n  twine get zdpu...:-1:0 --format cid",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := resolver.ParseSelector(args[0])
			if err != nil {
				return usageError{err}
			}
			if format != formatJSON && format != formatCID {
				return usagef("invalid --format %q", format)
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				for tw, err := range a.selected(ctx, st, sel, !unchecked) {
					if err != nil {
						return err
					}
					if err := a.print(tw, format); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "Output format: json or cid")
	cmd.Flags().BoolVar(&unchecked, "unchecked", false, "Skip verification")
	return cmd
}

func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <selector>",
		Short: "Verify every block a selector names",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := resolver.ParseSelector(args[0])
			if err != nil {
				return usageError{err}
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				n := 0
				for tw, err := range a.selected(ctx, st, sel, true) {
					if err != nil {
						return fmt.Errorf("verification failed after %d blocks: %w", n, err)
					}
					n++
					a.log.Debug("verified", zap.String("cid", cidutil.Format(tw.CID())))
				}
				fmt.Fprintf(a.out, "OK: %d blocks verified\n", n)
				return nil
			})
		},
	}
}

// selected streams the blocks of sel, verifying each one when checked.
func (a *app) selected(ctx context.Context, r resolver.Resolver, sel resolver.Selector, checked bool) iter.Seq2[twine.Twine, error] {
	stream := sel.Stream(ctx, r)
	if !checked {
		return stream
	}
	return func(yield func(twine.Twine, error) bool) {
		for tw, err := range stream {
			if err == nil {
				err = verify.Twine(ctx, r, tw)
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(tw, nil) {
				return
			}
		}
	}
}

func (a *app) print(tw twine.Twine, format string) error {
	if format == formatCID {
		if t, ok := tw.(*twine.Tixel); ok {
			fmt.Fprintf(a.out, "%s:%d\t%s\n", cidutil.Format(t.StrandCID()), t.Index(), cidutil.Format(t.CID()))
			return nil
		}
		fmt.Fprintln(a.out, cidutil.Format(tw.CID()))
		return nil
	}
	data, err := twine.MarshalTaggedJSON(tw)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}
