package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pbaille/labeltree/internal/api"
	"github.com/pbaille/labeltree/internal/config"
	"github.com/pbaille/labeltree/internal/domain"
	"github.com/pbaille/labeltree/internal/fetcher"
	"github.com/pbaille/labeltree/internal/labeltree"
	"github.com/pbaille/labeltree/internal/logging"
	"github.com/pbaille/labeltree/internal/metrics"
	"github.com/pbaille/labeltree/internal/store"
	"github.com/pbaille/labeltree/internal/tabular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "labeltree",
		Short:        "Manage hierarchical label trees for annotation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(viper.New(), cmd.Flags())
			if err != nil {
				return err
			}
			logger, err = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			return err
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("db", config.DefaultDSN(), "database path or DSN")
	flags.String("driver", store.DriverSQLite, "database driver: sqlite, gorm-sqlite, mysql")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")

	rootCmd.AddCommand(createRootCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(childrenCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(serveCmd())

	return rootCmd
}

func getStore() (store.Repository, error) {
	if cfg.Database.Driver == store.DriverSQLite || cfg.Database.Driver == store.DriverGormSQLite {
		// Ensure directory exists
		dir := filepath.Dir(cfg.Database.DSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return store.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid leaf id %q", s)
	}
	return id, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func createRootCmd() *cobra.Command {
	var externalID string

	cmd := &cobra.Command{
		Use:   "create-root [name]",
		Short: "Create a new label tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tree := labeltree.New(s, labeltree.WithLogger(logger))
			root, err := tree.CreateRoot(cmd.Context(), args[0], optional(externalID))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created root: %d %s\n", root.ID, root.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&externalID, "external-id", "", "id in an external label system")
	return cmd
}

func addCmd() *cobra.Command {
	var externalID string

	cmd := &cobra.Command{
		Use:   "add [parent-id] [name]",
		Short: "Add a leaf under an existing leaf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseID(args[0])
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tree := labeltree.New(s, labeltree.WithLogger(logger))
			leaf, err := tree.CreateChild(cmd.Context(), parentID, args[1], optional(externalID))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added leaf: %d %s (under %d)\n", leaf.ID, leaf.Name, parentID)
			return nil
		},
	}

	cmd.Flags().StringVar(&externalID, "external-id", "", "id in an external label system")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [root-id]",
		Short: "Print a label tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := parseID(args[0])
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			root, err := s.Find(cmd.Context(), rootID)
			if err != nil {
				return err
			}
			// The hierarchy walks the store, so indexing the root is enough.
			tree := labeltree.FromLeaf(s, root, labeltree.WithLogger(logger))
			h, err := tree.Hierarchy(cmd.Context())
			if err != nil {
				return err
			}

			printTree(cmd.OutOrStdout(), h, 0)
			return nil
		},
	}
}

// printTree prints a hierarchy record, one indented leaf per line
func printTree(w io.Writer, node domain.Record, indent int) {
	prefix := strings.Repeat("  ", indent)
	fmt.Fprintf(w, "%s%v [%v]", prefix, node[domain.FieldName], node[domain.FieldID])
	if ext := node[domain.FieldExternalID]; ext != nil {
		fmt.Fprintf(w, " (%v)", ext)
	}
	fmt.Fprintln(w)

	children, _ := node[domain.FieldChildren].([]domain.Record)
	for _, child := range children {
		printTree(w, child, indent+1)
	}
}

func childrenCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "children [root-id] [parent-id]",
		Short: "List attributes of the direct children of a leaf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := parseID(args[0])
			if err != nil {
				return err
			}
			parentID, err := parseID(args[1])
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tree, err := labeltree.Load(cmd.Context(), s, rootID, labeltree.WithLogger(logger))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(fields) <= 1 {
				field := ""
				if len(fields) == 1 {
					field = fields[0]
				}
				values, err := tree.ChildValues(cmd.Context(), parentID, field)
				if err != nil {
					return err
				}
				for _, v := range values {
					fmt.Fprintln(out, v)
				}
				return nil
			}

			tuples, err := tree.ChildTuples(cmd.Context(), parentID, fields...)
			if err != nil {
				return err
			}
			for _, tuple := range tuples {
				parts := make([]string, len(tuple))
				for i, v := range tuple {
					parts[i] = fmt.Sprint(v)
				}
				fmt.Fprintln(out, strings.Join(parts, "\t"))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&fields, "field", "f", nil, "attribute(s) to print, e.g. name,external_id (default idx)")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		format       string
		output       string
		hierarchical bool
		renumber     bool
	)

	cmd := &cobra.Command{
		Use:   "export [root-id]",
		Short: "Export a label tree as CSV, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rootID, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := outputFormat(format, output)
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tree, err := labeltree.Load(cmd.Context(), s, rootID, labeltree.WithLogger(logger))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				var file *os.File
				file, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer closeOutput(file, &err)
				w = file
			}

			if hierarchical {
				h, err := tree.Hierarchy(cmd.Context())
				if err != nil {
					return err
				}
				return tabular.WriteHierarchy(w, f, h)
			}

			records := tree.Records()
			if renumber {
				records = labeltree.Renumber(records)
			}
			return tabular.WriteRecords(w, f, records)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "csv, json or yaml (default from output extension, else csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&hierarchical, "hierarchical", false, "export nested children instead of flat rows")
	cmd.Flags().BoolVar(&renumber, "renumber", false, "replace stored ids with row-local ids 1..N")
	return cmd
}

// closeOutput closes c and reports its error through err unless err is already set
func closeOutput(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close output: %w", cerr)
	}
}

func outputFormat(format, path string) (tabular.Format, error) {
	if format != "" {
		return tabular.ParseFormat(format)
	}
	return tabular.FormatFromPath(path), nil
}

func importCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import [file|url]",
		Short: "Import a label tree from CSV, JSON or YAML rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tree := labeltree.New(s, labeltree.WithLogger(logger))
			if err := tree.Import(cmd.Context(), rows); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d leaves, root: %d\n", tree.Len(), tree.Root().ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "csv, json or yaml (default from extension or content type)")
	return cmd
}

// readRows loads import rows from a local file or an http(s) URL
func readRows(ctx context.Context, source, format string) ([]domain.Record, error) {
	if !fetcher.IsURL(source) {
		f, err := outputFormat(format, source)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer file.Close()
		return tabular.ReadRecords(file, f)
	}

	logger.Info("fetching table", "url", source)
	doc, err := fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	var f tabular.Format
	switch ct, known := tabular.FormatFromContentType(doc.ContentType); {
	case format != "":
		f, err = tabular.ParseFormat(format)
		if err != nil {
			return nil, err
		}
	case known:
		f = ct
	default:
		u, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		f = tabular.FormatFromPath(u.Path)
	}
	return tabular.ReadRecords(bytes.NewReader(doc.Body), f)
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [root-id]",
		Short: "Delete a label tree and all its leaves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := parseID(args[0])
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tree, err := labeltree.Load(cmd.Context(), s, rootID, labeltree.WithLogger(logger))
			if err != nil {
				return err
			}
			if !tree.Root().IsRoot {
				return fmt.Errorf("leaf %d is not a tree root", rootID)
			}
			n := tree.Len()
			if err := tree.DeleteTree(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted tree %d (%d leaves)\n", rootID, n)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			// Note: don't defer s.Close() as server runs indefinitely

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}

			server := api.New(s, cfg.Server.Addr, logger, m, reg)
			return server.Run()
		},
	}

	cmd.Flags().StringP("addr", "a", ":8080", "server address")
	return cmd
}
