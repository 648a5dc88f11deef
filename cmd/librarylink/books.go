// cmd/librarylink/books.go
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"librarylink/internal/catalog"
	"librarylink/internal/ids"
)

// holdingsView is the state of one library's book listing, fetched fresh for
// each command.
type holdingsView struct {
	libraryID ids.LibraryID
	holdings  []catalog.Holding
}

func (v *holdingsView) find(isbn ids.ISBN) (catalog.Holding, bool) {
	for _, h := range v.holdings {
		if h.ISBN == isbn {
			return h, true
		}
	}
	return catalog.Holding{}, false
}

func (v *holdingsView) render(w io.Writer) {
	if len(v.holdings) == 0 {
		fmt.Fprintln(w, "No books in this library.")
		return
	}
	fmt.Fprintf(w, "%-17s  %-30s  %-25s  %9s  %s\n", "ISBN", "Title", "Author", "Available", "Status")
	rule(w, 100)
	for _, h := range v.holdings {
		status := "Available"
		if !catalog.CanCheckout(h) {
			status = "Checked Out"
		}
		fmt.Fprintf(w, "%-17s  %-30s  %-25s  %9d  %s\n",
			h.ISBN,
			truncateString(h.Book.Title, 30),
			truncateString(h.Book.PrimaryAuthor(), 25),
			h.Available,
			status)
	}
}

func newBooksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "books",
		Aliases: []string{"book"},
		Short:   "Browse and add books in a library",
	}
	cmd.AddCommand(newBooksListCmd(a), newBookShowCmd(a), newBookAddCmd(a))
	return cmd
}

func newBooksListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <library-id>",
		Short: "List the books of a library with their availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := holdingsView{libraryID: ids.LibraryID(args[0])}
			holdings, err := a.loans.Holdings(cmd.Context(), v.libraryID)
			if err != nil {
				return err
			}
			v.holdings = holdings
			v.render(cmd.OutOrStdout())
			return nil
		},
	}
}

func newBookShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <library-id> <isbn>",
		Short: "Show a book's details and stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.catalog.GetHolding(cmd.Context(), ids.LibraryID(args[0]), ids.ISBN(args[1]))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Title:        %s\n", h.Book.Title)
			fmt.Fprintf(w, "Author:       %s\n", h.Book.PrimaryAuthor())
			fmt.Fprintf(w, "ISBN:         %s\n", h.ISBN)
			if h.Book.Description != "" {
				fmt.Fprintf(w, "Description:  %s\n", h.Book.Description)
			}
			fmt.Fprintf(w, "Stock:        %d\n", h.Stock)
			fmt.Fprintf(w, "Available:    %d\n", h.Available)
			fmt.Fprintf(w, "Checked out:  %d\n", h.CheckedOutCount())
			fmt.Fprintf(w, "Cover:        %s\n", a.catalog.CoverURL(h.ISBN, catalog.CoverMedium))
			return nil
		},
	}
}

func newBookAddCmd(a *app) *cobra.Command {
	var stock int
	cmd := &cobra.Command{
		Use:   "add <library-id> <isbn>",
		Short: "Add copies of a book to a library",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stock <= 0 {
				return userError("Stock must be a positive number.")
			}
			if err := a.catalog.AddBook(cmd.Context(), ids.LibraryID(args[0]), ids.ISBN(args[1]), stock); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d copies of %s.\n", stock, args[1])
			return nil
		},
	}
	cmd.Flags().IntVar(&stock, "stock", 1, "number of copies to add")
	return cmd
}
