package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/keys"
)

func (a *app) keyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage signing keys",
	}

	var (
		seedHex string
		force   bool
	)
	initCmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create a root ed25519 key",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keys.CheckName(args[0]); err != nil {
				return usagef("invalid name: %v", err)
			}
			var seed []byte
			if seedHex != "" {
				var err error
				if seed, err = keys.ParseSeedHex(seedHex); err != nil {
					return usagef("invalid --seed-hex: %v", err)
				}
			} else {
				seed = make([]byte, ed25519.SeedSize)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("rand: %w", err)
				}
			}
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			pub, err := ks.CreateRoot(args[0], seed, force)
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(a.out, "Created root key: %s\n", keys.FormatPublicKey(pub))
			return nil
		},
	}
	initCmd.Flags().StringVar(&seedHex, "seed-hex", "", "Seed as 64 hex chars (for reproducible demos)")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key")

	derive := &cobra.Command{
		Use:   "derive <name> <chain>",
		Short: "Derive a per-chain key from a root key",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keys.CheckName(args[1]); err != nil {
				return usagef("invalid chain name: %v", err)
			}
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			pub, err := ks.DeriveChain(args[0], args[1], force)
			if err != nil {
				return fmt.Errorf("derive chain key: %w", err)
			}
			fmt.Fprintf(a.out, "Created chain key: %s\n", keys.FormatPublicKey(pub))
			return nil
		},
	}
	derive.Flags().BoolVar(&force, "force", false, "Overwrite an existing key")

	export := &cobra.Command{
		Use:   "export <name> [chain]",
		Short: "Print a public key",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.RangeArgs(1, 2)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			chain := ""
			if len(args) == 2 {
				chain = args[1]
			}
			signer, err := a.signer(args[0], chain)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, keys.FormatPublicKey(signer.Public()))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			entries, err := ks.List()
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			for _, e := range entries {
				fmt.Fprintln(a.out, e.Name)
				a.printStrands("    ", e.Strands[""])
				for _, c := range e.Chains {
					fmt.Fprintf(a.out, "  - %s\n", c)
					a.printStrands("      ", e.Strands[c])
				}
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, derive, export, list)
	return cmd
}

func (a *app) printStrands(indent string, strands []cid.Cid) {
	for _, s := range strands {
		fmt.Fprintf(a.out, "%sstrand %s\n", indent, cidutil.Format(s))
	}
}

func (a *app) signer(name, chain string) (keys.Signer, error) {
	ks, err := a.keyStore()
	if err != nil {
		return nil, err
	}
	s, err := ks.Signer(name, chain)
	if err != nil {
		return nil, fmt.Errorf("load key %q: %w", name, err)
	}
	return s, nil
}
