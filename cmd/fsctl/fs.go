package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/tenantfs/internal/fileops"
)

func newLsCmd() *cobra.Command {
	var (
		long, recursive, flat, hidden, asJSON, reverse bool
		sortBy, where                                  string
		depth                                          int
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			raw := map[string]any{
				"long_format": long,
				"recursive":   recursive,
				"flat":        flat,
				"show_hidden": hidden,
				"sort_by":     sortBy,
				"max_depth":   depth,
			}
			if reverse {
				raw["sort_order"] = fileops.SortDesc
			}
			if where != "" {
				raw["where"] = where
			}
			opts, err := fileops.DecodeListOptions(raw)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.svc.ListStream(cmd.Context(), s.req, path, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			if asJSON {
				entries, err := st.Collect()
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if !long {
				for st.Next() {
					e := st.Value()
					fmt.Fprintln(out, displayName(e, recursive))
				}
				return st.Err()
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
			for st.Next() {
				e := st.Value()
				fmt.Fprintf(w, "%s%s\t%s\t%s\t %s\n",
					e.FileType, e.FilePermissions,
					humanize.IBytes(uint64(e.FileSize)),
					e.Modified().Format("Jan _2 15:04"),
					displayName(e, recursive))
			}
			if err := st.Err(); err != nil {
				return err
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "long listing with permissions, sizes and times")
	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "descend into directories")
	cmd.Flags().BoolVar(&flat, "flat", false, "with -R, list files only")
	cmd.Flags().BoolVarP(&hidden, "all", "a", false, "show system fields")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	cmd.Flags().StringVar(&sortBy, "sort", fileops.SortName, "sort by name, size, time or type")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "reverse sort order")
	cmd.Flags().StringVar(&where, "where", "", `equality filter as JSON, e.g. '{"status":"active"}'`)
	cmd.Flags().IntVar(&depth, "depth", -1, "with -R, maximum depth (-1 for unlimited)")
	return cmd
}

func displayName(e fileops.FileEntry, recursive bool) string {
	name := e.Name
	if recursive {
		name = e.Path
	}
	if e.FileType == fileops.TypeDir && !strings.HasSuffix(name, "/") {
		name += "/"
	}
	return name
}

func newCatCmd() *cobra.Command {
	var (
		hidden, asJSON   bool
		offset, maxBytes int64
	)
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := map[string]any{"show_hidden": hidden}
			if !asJSON {
				raw["format"] = fileops.FormatRaw
				if offset > 0 {
					raw["start_offset"] = offset
				}
				if maxBytes >= 0 {
					raw["max_bytes"] = maxBytes
				}
			}
			opts, err := fileops.DecodeRetrieveOptions(raw)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.Retrieve(cmd.Context(), s.req, args[0], opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, res)
			}
			text, _ := res.Content.(string)
			fmt.Fprint(cmd.OutOrStdout(), text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&hidden, "all", "a", false, "include system fields")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result envelope as JSON")
	cmd.Flags().Int64Var(&offset, "offset", 0, "first byte to print")
	cmd.Flags().Int64Var(&maxBytes, "max", -1, "maximum bytes to print (-1 for all)")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var parseJSON, noOverwrite, appendMode, noValidate bool
	cmd := &cobra.Command{
		Use:   "write <path> [value]",
		Short: "Store a value; reads stdin when value is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 2 {
				text = args[1]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			var value any = text
			if parseJSON {
				if err := json.Unmarshal([]byte(text), &value); err != nil {
					return fmt.Errorf("parse value: %w", err)
				}
			}
			opts, err := fileops.DecodeStoreOptions(map[string]any{
				"overwrite":       !noOverwrite,
				"append_mode":     appendMode,
				"validate_schema": !noValidate,
			})
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.Store(cmd.Context(), s.req, args[0], value, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", res.Operation, res.Metadata.Path,
				humanize.IBytes(uint64(res.Metadata.Size)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&parseJSON, "json", false, "parse the value as JSON")
	cmd.Flags().BoolVar(&noOverwrite, "no-overwrite", false, "fail if the record exists")
	cmd.Flags().BoolVar(&appendMode, "append", false, "append to the field instead of replacing it")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip column validation")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Soft delete a record or clear a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.Delete(cmd.Context(), s.req, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Operation, res.Metadata.Path)
			return nil
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show metadata for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.Stat(cmd.Context(), s.req, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newSizeCmd() *cobra.Command {
	var human bool
	cmd := &cobra.Command{
		Use:   "size <path>",
		Short: "Print the byte size of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.Size(cmd.Context(), s.req, args[0])
			if err != nil {
				return err
			}
			if human {
				fmt.Fprintln(cmd.OutOrStdout(), humanize.IBytes(uint64(res.Size)))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Size)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&human, "human-readable", "H", false, "print a humanized size")
	return cmd
}

func newMdtmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mdtm <path>",
		Short: "Print the modification time of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.ModifyTime(cmd.Context(), s.req, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n",
				res.ModifiedTime.Format("20060102150405"), res.Source, humanize.Time(res.ModifiedTime))
			return nil
		},
	}
}
