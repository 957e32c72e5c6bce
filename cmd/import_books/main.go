package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"online-books/config"
	"online-books/library"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: import_books <catalog.yml>")
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	manager, err := library.NewLibraryManager(cfg.DB.Path, cfg.Session.TTL, library.WithLogger(cfg.NewLogger(os.Stderr)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening catalog: %v\n", err)
		os.Exit(1)
	}
	entries, err := library.ParseCatalog(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading catalog: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Importing %d books into %s...\n", len(entries), cfg.DB.Path)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	successCount, errorCount := 0, 0
	for _, res := range manager.ImportCatalog(ctx, entries) {
		fmt.Printf("Importing: %s by %s... ", res.Entry.Title, res.Entry.Author)
		if res.Err != nil {
			fmt.Println(color.RedString("ERROR - %v", res.Err))
			errorCount++
			continue
		}
		fmt.Println(color.GreenString("SUCCESS (ID: %d)", res.ID))
		successCount++
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	if successCount > 0 {
		fmt.Println("\nCatalog:")
		books, err := manager.GetAllBooks(ctx)
		if err != nil {
			fmt.Printf("Error retrieving books: %v\n", err)
			return
		}
		fmt.Printf("%-5s %-30s %-25s %-15s %-13s %3s\n", "ID", "Title", "Author", "Category", "ISBN", "Qty")
		fmt.Println(strings.Repeat("-", 96))
		for _, book := range books {
			fmt.Println(library.PrettyBook(book))
		}
	}
	if errorCount > 0 {
		os.Exit(1)
	}
}
