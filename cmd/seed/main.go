// File: cmd/seed/main.go
// Seeds a development workspace with sample documents so an indexing run
// has something to chew on. Idempotent: an already-seeded workspace is
// left alone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"document-ai-indexing/internal/config"
	"document-ai-indexing/internal/domain/model"
	pg "document-ai-indexing/internal/infra/db/postgres"
	"document-ai-indexing/internal/infra/s3storage"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	workspaceID := flag.String("workspace", "dev-workspace", "workspace to seed")
	dir := flag.String("dir", "./testdata", "directory of PDF files to upload")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	store, err := s3storage.New(&cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("storage bucket: %v", err)
	}

	docRepo := pg.NewDocumentRepo(pool)

	// If documents already exist, do nothing.
	existing, err := docRepo.ListByWorkspace(ctx, nil, *workspaceID, nil)
	if err != nil {
		log.Fatalf("list documents: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d documents already present in %s. No changes.\n", len(existing), *workspaceID)
		for _, d := range existing {
			fmt.Printf("  - %s (%s, %d pages)\n", d.Name, d.Status, d.PageCount)
		}
		return
	}

	matches, err := filepath.Glob(filepath.Join(*dir, "*.pdf"))
	if err != nil || len(matches) == 0 {
		log.Fatalf("no PDF files found under %s", *dir)
	}

	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		name := filepath.Base(path)
		contentKey := fmt.Sprintf("%s/sources/%s", *workspaceID, name)

		if err := store.Put(ctx, contentKey, content, "application/pdf"); err != nil {
			log.Fatalf("upload %s: %v", name, err)
		}
		doc, err := model.NewDocument(*workspaceID, name, contentKey)
		if err != nil {
			log.Fatalf("new document %s: %v", name, err)
		}
		if err := docRepo.Save(ctx, nil, doc); err != nil {
			log.Fatalf("save document %s: %v", name, err)
		}
		fmt.Printf("seeded %s -> %s\n", name, doc.ID)
	}
	fmt.Printf("seeded %d documents into %s\n", len(matches), *workspaceID)
}
