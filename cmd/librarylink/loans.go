// cmd/librarylink/loans.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"librarylink/internal/apierr"
	"librarylink/internal/ids"
)

func userFlag(cmd *cobra.Command, user *string) {
	cmd.Flags().StringVarP(user, "user", "u", "", "username")
	_ = cmd.MarkFlagRequired("user")
}

func newCheckoutCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "checkout <library-id> <isbn>",
		Short: "Borrow a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v := holdingsView{libraryID: ids.LibraryID(args[0])}
			holdings, err := a.loans.Holdings(ctx, v.libraryID)
			if err != nil {
				return err
			}
			v.holdings = holdings

			holding, ok := v.find(ids.ISBN(args[1]))
			if !ok {
				return apierr.NotFound("checkout", 0, fmt.Sprintf("book %s is not held by this library", args[1]))
			}
			loan, err := a.loans.Checkout(ctx, v.libraryID, holding, user)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Checked out %q for %s.\n", holding.Book.Title, loan.Username)
			if !loan.DueDate.IsZero() {
				fmt.Fprintf(w, "Due %s.\n", loan.DueDate.Local().Format("Mon 2 Jan 2006"))
			}
			return a.refresh(cmd, v.libraryID, holding.ISBN)
		},
	}
	userFlag(cmd, &user)
	return cmd
}

func newCheckinCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "checkin <library-id> <isbn>",
		Short: "Return a book",
		Long: "Return a book. The library id is given as shown by the loans command,\n" +
			"32 characters without hyphens.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loans.Checkin(cmd.Context(), args[0], ids.ISBN(args[1]), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Returned %s.\n", args[1])

			libraryID, _ := ids.Normalize(args[0])
			return a.refresh(cmd, libraryID, ids.ISBN(args[1]))
		},
	}
	userFlag(cmd, &user)
	return cmd
}

func newExtendCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "extend <library-id> <isbn>",
		Short: "Extend the due date of a loan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loan, err := a.loans.Extend(cmd.Context(), ids.LibraryID(args[0]), ids.ISBN(args[1]), user)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if loan.DueDate.IsZero() {
				fmt.Fprintln(w, "Loan extended.")
				return nil
			}
			fmt.Fprintf(w, "Loan extended. Now due %s.\n", loan.DueDate.Local().Format("Mon 2 Jan 2006"))
			return nil
		},
	}
	userFlag(cmd, &user)
	return cmd
}

func newLoansCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List the books a user has checked out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := a.loans.Loans(cmd.Context(), user)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(books) == 0 {
				fmt.Fprintln(w, "No books checked out.")
				return nil
			}
			now := a.now()
			fmt.Fprintf(w, "%-32s  %-17s  %-30s  %-16s  %s\n", "Library", "ISBN", "Title", "Due", "")
			rule(w, 110)
			for _, b := range books {
				flag := ""
				if b.Overdue(now) {
					flag = "OVERDUE"
				}
				fmt.Fprintf(w, "%-32s  %-17s  %-30s  %-16s  %s\n",
					b.LibraryID,
					b.Book.ISBN,
					truncateString(b.Book.Title, 30),
					b.DueDate.Local().Format("Mon 2 Jan 2006"),
					flag)
			}
			return nil
		},
	}
	userFlag(cmd, &user)
	return cmd
}

// refresh re-fetches a holding after a mutation and prints what the service
// now reports.
func (a *app) refresh(cmd *cobra.Command, libraryID ids.LibraryID, isbn ids.ISBN) error {
	holdings, err := a.loans.Holdings(cmd.Context(), libraryID)
	if err != nil {
		a.logger.Debug("refresh after mutation", "error", err)
		return nil
	}
	v := holdingsView{libraryID: libraryID, holdings: holdings}
	if h, ok := v.find(isbn); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d copies now available.\n", h.Available, h.Stock)
	}
	return nil
}
