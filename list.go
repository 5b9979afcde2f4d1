package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ossyrian/bundlr/internal/installer"
	"github.com/ossyrian/bundlr/internal/resource"
	"github.com/ossyrian/bundlr/internal/tararchive"
	"github.com/ossyrian/bundlr/internal/types"
	"github.com/ossyrian/bundlr/internal/ziparchive"
)

var listCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "Print the entries of a ZIP or TAR archive",
	Args:  cobra.ExactArgs(1),
	RunE:  list,
}

// list reads an archive the same way install does and prints one line per entry
func list(cmd *cobra.Command, args []string) error {
	closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	res := resource.New(args[0], resource.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	data, err := res.FetchAll(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if installer.IsZip(res.URI()) {
		return listZip(out, data)
	}
	return listTar(cmd, out, data)
}

func listZip(w io.Writer, data []byte) error {
	zr, err := ziparchive.NewReader(data, ziparchive.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	for _, f := range zr.Files {
		e := f.Entry()
		if f.IsSymlink() {
			text, err := f.Text()
			if err != nil {
				return err
			}
			printEntry(w, e, text)
			continue
		}
		printEntry(w, e, "")
	}
	if zr.Comment != "" {
		fmt.Fprintf(w, "comment: %s\n", zr.Comment)
	}
	return nil
}

func listTar(cmd *cobra.Command, w io.Writer, data []byte) error {
	payload, comp, err := tararchive.Decompress(data, tararchive.DefaultMaxSize)
	if err != nil {
		return err
	}
	slog.Debug("read tar stream", "compression", comp.String(), "size", humanize.Bytes(uint64(len(payload))))

	stream := tararchive.NewReader(payload, slog.Default()).Stream(cmd.Context())
	return stream.Walk(func(e *tararchive.Entry) error {
		printEntry(w, e.Entry, e.Linkname)
		return nil
	})
}

func printEntry(w io.Writer, e types.Entry, link string) {
	name := e.Name
	if e.Kind == types.KindSymlink {
		name += " -> " + link
	}
	fmt.Fprintf(w, "%-11s %07o %10s  %s\n", e.Kind, e.Mode, humanize.Bytes(uint64(e.Size)), name)
}
