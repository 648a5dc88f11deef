// cmd/librarylink/libraries.go
package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/ids"
)

func newLibrariesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "libraries",
		Aliases: []string{"library"},
		Short:   "List and manage libraries",
	}
	cmd.AddCommand(
		newLibrariesListCmd(a),
		newLibraryAddCmd(a),
		newLibraryUpdateCmd(a),
		newLibraryDeleteCmd(a),
	)
	return cmd
}

func newLibrariesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			libs, err := a.catalog.ListLibraries(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(libs) == 0 {
				fmt.Fprintln(w, "No libraries found.")
				return nil
			}
			fmt.Fprintf(w, "%-36s  %-25s  %-30s  %-11s  %s\n", "ID", "Name", "Address", "Hours", "Days")
			rule(w, 120)
			for _, lib := range libs {
				fmt.Fprintf(w, "%-36s  %-25s  %-30s  %-11s  %s\n",
					lib.ID,
					truncateString(lib.Name, 25),
					truncateString(lib.Address, 30),
					lib.OpenTime+"-"+lib.CloseTime,
					lib.OpenDays)
			}
			return nil
		},
	}
}

// libraryForm is the field state of the add and update commands.
type libraryForm struct {
	name, address, openTime, closeTime, openDays string
}

func (f *libraryForm) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "library name")
	cmd.Flags().StringVar(&f.address, "address", "", "street address")
	cmd.Flags().StringVar(&f.openTime, "open", "", "opening time, e.g. 09:00")
	cmd.Flags().StringVar(&f.closeTime, "close", "", "closing time, e.g. 18:00")
	cmd.Flags().StringVar(&f.openDays, "days", "", "opening days, e.g. Mon-Fri")
}

func (f *libraryForm) library(id ids.LibraryID) catalog.Library {
	return catalog.Library{
		ID:        id,
		Name:      f.name,
		Address:   f.address,
		OpenTime:  f.openTime,
		CloseTime: f.closeTime,
		OpenDays:  f.openDays,
	}
}

func newLibraryAddCmd(a *app) *cobra.Command {
	var form libraryForm
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib := form.library("")
			if err := lib.Validate(); err != nil {
				return err
			}
			added, err := a.catalog.AddLibrary(cmd.Context(), lib)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added library %q", added.Name)
			if added.ID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " with ID %s", added.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	form.bind(cmd)
	return cmd
}

func newLibraryUpdateCmd(a *app) *cobra.Command {
	var form libraryForm
	cmd := &cobra.Command{
		Use:   "update <library-id>",
		Short: "Replace a library's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib := form.library(ids.LibraryID(args[0]))
			if err := lib.Validate(); err != nil {
				return err
			}
			updated, err := a.catalog.UpdateLibrary(cmd.Context(), lib)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated library %q\n", updated.Name)
			return nil
		},
	}
	form.bind(cmd)
	return cmd
}

func newLibraryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <library-id>",
		Short: "Delete a library that holds no books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.catalog.DeleteLibrary(cmd.Context(), ids.LibraryID(args[0]))
			var e *apierr.Error
			if errors.As(err, &e) && e.Kind == apierr.KindServer && e.Status == http.StatusInternalServerError {
				a.logger.Debug("delete library refused", "error", err)
				return userError("Cannot delete a library that still has books. Remove its books first.")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Library deleted.")
			return nil
		},
	}
}
