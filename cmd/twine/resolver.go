package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/twine/storage/storeconfig"
	"xdao.co/twine/storage/storeregistry"
)

func (a *app) resolverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolver",
		Short: "Manage the configured resolvers",
	}

	var makeDefault bool
	add := &cobra.Command{
		Use:     "add <name> <uri>",
		Short:   "Add a named resolver",
		Example: "  twine resolver add local bolt:/home/me/.twine/chains.db --default",
		Args:    exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editConfig(func(c *storeconfig.Config) error {
				if err := c.Add(storeconfig.Entry{Name: args[0], URI: args[1], Default: makeDefault}); err != nil {
					return usageError{err}
				}
				fmt.Fprintf(a.out, "Added resolver %s (%s)\n", args[0], args[1])
				return nil
			})
		},
	}
	add.Flags().BoolVar(&makeDefault, "default", false, "Make this the default resolver")

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a resolver from the config",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editConfig(func(c *storeconfig.Config) error {
				if err := c.Remove(args[0]); err != nil {
					return usageError{err}
				}
				fmt.Fprintf(a.out, "Removed resolver %s\n", args[0])
				return nil
			})
		},
	}

	setDefault := &cobra.Command{
		Use:   "default <name>",
		Short: "Set the default resolver",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editConfig(func(c *storeconfig.Config) error {
				if err := c.SetDefault(args[0]); err != nil {
					return usageError{err}
				}
				return nil
			})
		},
	}

	var writeAll bool
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Choose whether writes go to the first resolver or to all of them",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editConfig(func(c *storeconfig.Config) error {
				c.WritePolicy = storeconfig.WriteFirst
				if writeAll {
					c.WritePolicy = storeconfig.WriteAll
				}
				fmt.Fprintf(a.out, "write_policy: %s\n", c.WritePolicy)
				return nil
			})
		},
	}
	policy.Flags().BoolVar(&writeAll, "all", false, "Write to every resolver")

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured resolvers",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			def, _ := cfg.Default()
			for _, e := range cfg.Resolvers {
				mark := ""
				if e.Name == def.Name {
					mark = "\t(default)"
				}
				fmt.Fprintf(a.out, "%s\t%s%s\n", e.Name, e.URI, mark)
			}
			return nil
		},
	}

	backends := &cobra.Command{
		Use:   "backends",
		Short: "List the store URI schemes this binary supports",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range storeregistry.List(storeregistry.UsageCLI) {
				fmt.Fprintf(a.out, "%s\t%s\te.g. %s\n", b.Scheme, b.Description, b.Example)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, setDefault, policy, list, backends)
	return cmd
}

func (a *app) editConfig(fn func(*storeconfig.Config) error) error {
	cfg, path, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return cfg.Save(path)
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
