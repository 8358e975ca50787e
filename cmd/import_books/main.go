package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout accepted by the importer.
type catalogFile struct {
	Branches []struct {
		Name     string `yaml:"name"`
		Location string `yaml:"location"`
	} `yaml:"branches"`
	Books []catalogBook `yaml:"books"`
}

type catalogBook struct {
	library.NewBook `yaml:",inline"`
	Copies          map[string]int `yaml:"copies"`
}

func main() {
	var configPath, file string
	var reset bool

	cmd := &cobra.Command{
		Use:           "import_books",
		Short:         "Load branches, titles and copies from a YAML catalog",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			if reset {
				removeDatabase(cmd.OutOrStdout(), cfg.Database.Path)
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			var cat catalogFile
			if err := yaml.Unmarshal(raw, &cat); err != nil {
				return fmt.Errorf("parse catalog %s: %w", file, err)
			}

			manager, err := library.NewLibraryManager(cfg.Database.Path,
				library.WithLogger(log), library.WithBusyTimeout(cfg.Database.BusyTimeout()))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer manager.Close()

			return importCatalog(cmd.Context(), cmd.OutOrStdout(), manager, cat, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&file, "file", "f", "catalog.yaml", "catalog to import")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete the existing database first")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func removeDatabase(out io.Writer, path string) {
	fmt.Fprintln(out, "Cleaning up existing database files...")
	for _, file := range []string{path, path + "-shm", path + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(out, "Warning: Could not remove %s: %v\n", file, err)
		}
	}
}

// importCatalog adds missing branches, catalogues each title and stocks its
// copies. A title whose ISBN is already present only gets its copies added.
// A title naming an unknown branch is skipped untouched. Per-title failures
// are counted and reported; they do not stop the run.
func importCatalog(ctx context.Context, out io.Writer, mgr *library.LibraryManager, cat catalogFile, log *zap.Logger) error {
	branchIDs := map[string]int64{}
	existing, err := mgr.Branches(ctx)
	if err != nil {
		return err
	}
	for _, b := range existing {
		branchIDs[b.Name] = b.ID
	}
	for _, b := range cat.Branches {
		if _, ok := branchIDs[b.Name]; ok {
			continue
		}
		id, err := mgr.AddBranch(ctx, b.Name, b.Location)
		if err != nil {
			return fmt.Errorf("branch %q: %w", b.Name, err)
		}
		branchIDs[b.Name] = id
	}

	successCount, errorCount := 0, 0
	for _, book := range cat.Books {
		fmt.Fprintf(out, "Importing: %s (%s)... ", book.Title, book.ISBN)
		var bookID int64
		err := checkBranches(book.Copies, branchIDs)
		if err == nil {
			bookID, err = upsertBook(ctx, mgr, book.NewBook)
		}
		if err == nil {
			err = stock(ctx, mgr, bookID, book.Copies, branchIDs)
		}
		if err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			log.Warn("import title", zap.String("isbn", book.ISBN), zap.Error(err))
			errorCount++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", bookID)
		successCount++
	}

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d books\n", successCount)
	fmt.Fprintf(out, "Errors: %d\n", errorCount)

	if successCount > 0 {
		books, err := mgr.SearchBooks(ctx, library.BookFilter{})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%-4s %-20s %-45s %-20s\n", "ID", "ISBN", "Title", "Category")
		fmt.Fprintln(out, strings.Repeat("-", 92))
		for _, b := range books {
			fmt.Fprintf(out, "%-4d %-20s %-45s %-20s\n", b.ID, b.ISBN, truncateString(b.Title, 45), truncateString(b.Category, 20))
		}
	}
	return nil
}

func upsertBook(ctx context.Context, mgr *library.LibraryManager, nb library.NewBook) (int64, error) {
	id, err := mgr.AddBook(ctx, nb)
	if err == nil || !errors.Is(err, library.ErrInvalidInput) {
		return id, err
	}
	found, serr := mgr.SearchBooks(ctx, library.BookFilter{ISBN: nb.ISBN})
	if serr != nil || len(found) == 0 {
		return 0, err
	}
	return found[0].ID, nil
}

// checkBranches rejects a title before anything is written when one of its
// copy counts names a branch that does not exist or is not positive.
func checkBranches(copies map[string]int, branchIDs map[string]int64) error {
	for name, n := range copies {
		if _, ok := branchIDs[name]; !ok {
			return fmt.Errorf("unknown branch %q", name)
		}
		if n <= 0 {
			return fmt.Errorf("copies for %s must be greater than zero", name)
		}
	}
	return nil
}

func stock(ctx context.Context, mgr *library.LibraryManager, bookID int64, copies map[string]int, branchIDs map[string]int64) error {
	for name, n := range copies {
		if err := mgr.StockCopies(ctx, bookID, branchIDs[name], n); err != nil {
			return fmt.Errorf("stock %s: %w", name, err)
		}
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
