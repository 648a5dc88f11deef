// cmd/librarylink/cover.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"librarylink/internal/catalog"
	"librarylink/internal/ids"
)

func newCoverCmd(a *app) *cobra.Command {
	var (
		size string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "cover <isbn>",
		Short: "Show or download a book cover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isbn := ids.ISBN(args[0])
			s := catalog.CoverSize(strings.ToUpper(size))
			if !s.Valid() {
				return userError("Cover size must be S, M or L.")
			}
			w := cmd.OutOrStdout()
			if out == "" {
				fmt.Fprintln(w, a.catalog.CoverURL(isbn, s))
				return nil
			}

			img, ok := a.catalog.FetchCover(cmd.Context(), isbn, s)
			if !ok {
				fmt.Fprintln(w, "No cover available.")
				return nil
			}
			if err := os.WriteFile(out, img, 0o644); err != nil {
				return fmt.Errorf("write cover: %w", err)
			}
			fmt.Fprintf(w, "Saved cover to %s.\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&size, "size", "M", "cover size: S, M or L")
	cmd.Flags().StringVarP(&out, "output", "o", "", "download the image to this file")
	return cmd
}
