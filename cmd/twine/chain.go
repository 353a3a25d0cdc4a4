package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/twine/builder"
	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
	"xdao.co/twine/value"
)

type keyFlags struct {
	name  string
	chain string
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&k.name, "key", "k", "", "Root key name in the key store")
	cmd.Flags().StringVar(&k.chain, "chain-key", "", "Use the derived chain key of --key")
	_ = cmd.MarkFlagRequired("key")
}

func (a *app) chainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Create strands and append tixels",
	}

	var (
		createKey       keyFlags
		radix           uint8
		predecessorOnly bool
		details, meta   string
		hashName        string
		subspec         string
		subspecVersion  string
		expiry          string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create and store a new strand",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := builder.StrandOptions{
				Radix:           radix,
				PredecessorOnly: predecessorOnly,
				Subspec:         subspec,
				SubspecVersion:  subspecVersion,
			}
			var err error
			if opts.Details, err = parseValue("--details", details); err != nil {
				return err
			}
			if opts.Meta, err = parseValue("--meta", meta); err != nil {
				return err
			}
			if hashName != "" {
				if opts.Hasher, err = cidutil.ParseHash(hashName); err != nil {
					return usagef("invalid --hash: %v", err)
				}
			}
			if expiry != "" {
				if opts.Expiry, err = time.Parse(time.RFC3339, expiry); err != nil {
					return usagef("invalid --expiry: %v", err)
				}
			}
			signer, err := a.signer(createKey.name, createKey.chain)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				s, err := builder.New(signer, st, builder.WithLogger(a.log)).CreateStrand(opts)
				if err != nil {
					return err
				}
				if err := st.Save(ctx, s); err != nil {
					return err
				}
				if err := a.bindStrand(createKey, s); err != nil {
					return err
				}
				fmt.Fprintln(a.out, cidutil.Format(s.CID()))
				return nil
			})
		},
	}
	createKey.register(create)
	create.Flags().Uint8Var(&radix, "radix", 0, fmt.Sprintf("Skip-list radix (default %d)", twine.DefaultRadix))
	create.Flags().BoolVar(&predecessorOnly, "predecessor-only", false, "Link each tixel to its predecessor only (radix 0)")
	create.Flags().StringVar(&details, "details", "", "Strand details as JSON")
	create.Flags().StringVar(&meta, "meta", "", "Strand metadata as JSON")
	create.Flags().StringVar(&hashName, "hash", "", "Hash function (default sha3-512)")
	create.Flags().StringVar(&subspec, "subspec", "", "Sub-specification name")
	create.Flags().StringVar(&subspecVersion, "subspec-version", "", "Sub-specification version")
	create.Flags().StringVar(&expiry, "expiry", "", "Expiry time, RFC 3339")

	var (
		appendKey keyFlags
		payload   string
		source    string
		mixins    []string
		noMixins  bool
	)
	appendCmd := &cobra.Command{
		Use:   "append <strand>",
		Short: "Append a tixel to a stored strand",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strand, err := cidutil.Parse(args[0])
			if err != nil {
				return usagef("invalid strand: %v", err)
			}
			opts := builder.TixelOptions{Source: source}
			if opts.Payload, err = parseValue("--payload", payload); err != nil {
				return err
			}
			sels := make([]resolver.SingleQuery, 0, len(mixins))
			for _, m := range mixins {
				sel, err := resolver.ParseSelector(m)
				if err != nil || sel.Kind != resolver.SelectSingle {
					return usagef("invalid --mixin %q: want <strand>:<index|latest|tixel>", m)
				}
				sels = append(sels, sel.Single)
			}
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := ks.CheckStrand(appendKey.name, appendKey.chain, strand); err != nil {
				return err
			}
			signer, err := a.signer(appendKey.name, appendKey.chain)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				if len(sels) > 0 || noMixins {
					opts.Mixins = make([]twine.Stitch, 0, len(sels))
				}
				for _, q := range sels {
					res, err := resolver.Resolve(ctx, st, q)
					if err != nil {
						return fmt.Errorf("mixin %s: %w", q, err)
					}
					opts.Mixins = append(opts.Mixins, res.Tixel.Stitch())
				}

				b := builder.New(signer, st, builder.WithLogger(a.log))
				var t *twine.Tixel
				prev, err := st.FetchLatest(ctx, strand)
				switch {
				case err == nil:
					t, err = b.Next(ctx, prev, opts)
				case twine.IsNotFound(err):
					var s *twine.Strand
					if s, err = resolver.ResolveStrand(ctx, st, strand); err == nil {
						t, err = b.First(s, opts)
					}
				}
				if err != nil {
					return err
				}
				if err := st.Save(ctx, t); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s:%d\t%s\n", cidutil.Format(strand), t.Index(), cidutil.Format(t.CID()))
				return nil
			})
		},
	}
	appendKey.register(appendCmd)
	appendCmd.Flags().StringVarP(&payload, "payload", "p", "", "Payload as JSON")
	appendCmd.Flags().StringVar(&source, "source", "", "Source identifier")
	appendCmd.Flags().StringArrayVar(&mixins, "mixin", nil, "Stitch to another strand, as a selector (repeatable)")
	appendCmd.Flags().BoolVar(&noMixins, "no-mixins", false, "Drop the mixins carried from the previous tixel")

	cmd.AddCommand(create, appendCmd)
	return cmd
}

// bindStrand records in the key store that k created s.
func (a *app) bindStrand(k keyFlags, s *twine.Strand) error {
	ks, err := a.keyStore()
	if err != nil {
		return err
	}
	if err := ks.Bind(k.name, k.chain, s.CID(), s.Key()); err != nil {
		return fmt.Errorf("bind %s: %w", cidutil.Format(s.CID()), err)
	}
	return nil
}

// parseValue decodes a JSON flag; empty is null.
func parseValue(flag, s string) (value.Value, error) {
	var v value.Value
	if s == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, usagef("invalid %s: %v", flag, err)
	}
	return v, nil
}
