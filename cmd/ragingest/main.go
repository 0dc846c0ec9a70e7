// Command ragingest loads passages into the retrieval index: it embeds each
// passage and upserts the text alongside its vector, creating the index on
// first run.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/oriade/ragserve/internal/config"
	dbRedis "github.com/oriade/ragserve/internal/db/redis"
	logpkg "github.com/oriade/ragserve/internal/logger"
	"github.com/oriade/ragserve/internal/repository/passage"
	openaiEmb "github.com/oriade/ragserve/internal/transport/openai"
)

// sampleDocs seeds a fresh index when no input file is given, so the service
// answers something out of the box.
var sampleDocs = []string{
	"Retrieval-augmented generation combines a document retriever with a text generator. The retriever finds passages relevant to a question and the generator synthesizes an answer grounded in them.",
	"An embedding is a dense vector representation of text. Texts with similar meaning map to nearby points in the vector space, which makes similarity search possible.",
	"A vector index such as HNSW organizes embeddings into a graph so that approximate nearest-neighbor queries run in sublinear time.",
	"Caching query embeddings avoids repeated calls to the embedding provider. Identical queries reuse the stored vector until the cache entry expires.",
}

func main() {
	_ = godotenv.Load()

	var (
		filePath  = flag.String("file", "", "path to a text file with one passage per line (sample passages are used when empty)")
		batchSize = flag.Int("batch", 32, "passages per embedding request")
	)
	flag.Parse()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	docs := sampleDocs
	if *filePath != "" {
		docs, err = readPassages(*filePath)
		if err != nil {
			logger.Fatal("Failed to read passages", zap.Error(err))
		}
	}
	if len(docs) == 0 {
		logger.Fatal("No passages to ingest")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	repo := passage.New(store, cfg.Database.KeyPrefix, cfg.Retrieval.IndexName).
		WithHNSW(passage.HNSWConfig{
			M:           cfg.Retrieval.HNSWM,
			EFConstruct: cfg.Retrieval.HNSWEFConstruct,
		})

	start := time.Now()
	total := 0
	for offset := 0; offset < len(docs); offset += *batchSize {
		end := offset + *batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[offset:end]

		vectors, err := embedder.BatchEmbed(ctx, batch)
		if err != nil {
			logger.Fatal("Failed to embed batch", zap.Int("offset", offset), zap.Error(err))
		}

		// The index dimension follows the provider's actual output.
		if offset == 0 {
			if err := repo.EnsureIndex(ctx, len(vectors[0])); err != nil {
				logger.Fatal("Failed to ensure index", zap.Error(err))
			}
		}

		passages := make([]passage.Passage, len(batch))
		for i, text := range batch {
			passages[i] = passage.Passage{
				ID:     fmt.Sprintf("doc%d", offset+i),
				Text:   text,
				Vector: vectors[i],
			}
		}
		if err := repo.Upsert(ctx, passages); err != nil {
			logger.Fatal("Failed to upsert batch", zap.Int("offset", offset), zap.Error(err))
		}
		total += len(batch)
	}

	logger.Info("Ingestion complete",
		zap.Int("passages", total),
		zap.String("index", cfg.Retrieval.IndexName),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// readPassages reads one passage per non-blank line.
func readPassages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var docs []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			docs = append(docs, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return docs, nil
}
