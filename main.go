package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"online-books/config"
	"online-books/library"
	"online-books/web"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "online-books",
	Short:         "A small lending library: search the catalog, borrow and return books",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: $ONLINEBOOKS_CONFIG)")
	rootCmd.AddCommand(serveCmd, addUserCmd, booksCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// openLibrary loads config and opens the database with the configured logger.
func openLibrary() (*config.Config, *slog.Logger, *library.LibraryManager, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	mgr, err := library.NewLibraryManager(cfg.DB.Path, cfg.Session.TTL, library.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, logger, mgr, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, mgr, err := openLibrary()
		if err != nil {
			return err
		}
		defer mgr.Close()

		site, err := web.NewServer(mgr, logger, web.Options{
			CookieName:   cfg.Session.CookieName,
			SecureCookie: cfg.Session.SecureCookie,
		})
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      site.Routes(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server starting", "addr", cfg.HTTP.Addr, "db", cfg.DB.Path)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server shut down")
		return nil
	},
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return string(bytePassword), nil
}

var addUserCmd = &cobra.Command{
	Use:   "adduser <username>",
	Short: "Create an account from the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, mgr, err := openLibrary()
		if err != nil {
			return err
		}
		defer mgr.Close()

		password1, err := readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password2, err := readPassword("Enter the same password again: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		id, err := mgr.CreateUser(cmd.Context(), args[0], password1, password2)
		if err != nil {
			return err
		}
		fmt.Printf("Added user '%s' with ID %d\n", args[0], id)
		return nil
	},
}

var flagAvailable bool

var booksCmd = &cobra.Command{
	Use:   "books [query]",
	Short: "List the catalog, optionally filtered by title, author or category",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, mgr, err := openLibrary()
		if err != nil {
			return err
		}
		defer mgr.Close()

		var query string
		if len(args) == 1 {
			query = args[0]
		}
		books, err := mgr.SearchBooks(cmd.Context(), query, flagAvailable)
		if err != nil {
			return err
		}
		if len(books) == 0 {
			fmt.Println("No books found.")
			return nil
		}

		fmt.Printf("%-5s %-30s %-25s %-15s %-13s %3s\n", "ID", "Title", "Author", "Category", "ISBN", "Qty")
		fmt.Println(strings.Repeat("-", 96))
		for _, b := range books {
			line := library.PrettyBook(b)
			if b.Available() {
				fmt.Println(color.GreenString(line))
			} else {
				fmt.Println(color.RedString(line))
			}
		}
		return nil
	},
}

func init() {
	booksCmd.Flags().BoolVar(&flagAvailable, "available", false, "Only list books with copies on the shelf")
}
