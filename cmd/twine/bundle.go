package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/storage"
	"xdao.co/twine/storage/bundle"
	"xdao.co/twine/storage/carstore"
)

const (
	bundleTar = "tar"
	bundleCAR = "car"
)

// bundleFormat picks the archive format: the flag when set, else car for a
// .car file and tar otherwise.
func bundleFormat(flag, file string) (string, error) {
	switch flag {
	case bundleTar, bundleCAR:
		return flag, nil
	case "":
		if filepath.Ext(file) == ".car" {
			return bundleCAR, nil
		}
		return bundleTar, nil
	}
	return "", usagef("invalid --format %q: want tar or car", flag)
}

func (a *app) bundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Export and import chains as tar bundles or CAR files",
		Long: `Export and import chains as archives. A tar bundle carries an index and
is byte-for-byte reproducible; a CARv1 file is the format other twine
implementations read and write.`,
	}

	var output, exportFormat string
	export := &cobra.Command{
		Use:   "export <strand>",
		Short: "Write a strand and all of its tixels to a bundle",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			strand, err := cidutil.Parse(args[0])
			if err != nil {
				return usagef("invalid strand: %v", err)
			}
			format, err := bundleFormat(exportFormat, output)
			if err != nil {
				return err
			}
			w := a.out
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = cerr
					}
				}()
				w = f
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				if format == bundleCAR {
					return carstore.Export(ctx, w, st, strand)
				}
				return bundle.Export(ctx, w, st, strand)
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	export.Flags().StringVar(&exportFormat, "format", "", "Archive format: tar or car (default from the file extension, else tar)")

	var (
		ignoreUnknown bool
		importFormat  string
	)
	importCmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Verify and store every block of a bundle",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := bundleFormat(importFormat, args[0])
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st storage.Store) error {
				var results []storage.Result
				if format == bundleCAR {
					results, err = carstore.Import(ctx, r, st)
				} else {
					results, err = bundle.ImportWithOptions(ctx, r, st, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
				}
				failed := len(storage.Failed(results))
				fmt.Fprintf(a.out, "Imported %d blocks (%d failed)\n", len(results)-failed, failed)
				return err
			})
		},
	}
	importCmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip unrecognised tar entries")
	importCmd.Flags().StringVar(&importFormat, "format", "", "Archive format: tar or car (default from the file extension, else tar)")

	cmd.AddCommand(export, importCmd)
	return cmd
}
