package main

import (
	"context"
	"log"
	"os"
	"time"

	"shopchat/internal/api"
	"shopchat/internal/auth"
	"shopchat/internal/catalog"
	"shopchat/internal/config"
	"shopchat/internal/index"
	"shopchat/internal/redis"
	"shopchat/internal/service/chat"
	"shopchat/internal/service/completion"
	"shopchat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("SHOPCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("SHOPCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Redis is optional; without it context retrieval just skips the cache.
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	catalogStore := catalog.NewStore(db, dbType)
	if path := cfg.BasicConfig.ProductsPath; path != "" {
		n, err := catalogStore.Seed(context.Background(), path)
		if err != nil {
			log.Fatalf("seed catalog: %v", err)
		}
		log.Printf("seeded %d products from %s\n", n, path)
	}

	searcher := index.NewLazy(func(ctx context.Context) (index.Searcher, error) {
		return buildIndex(ctx, cfg, catalogStore)
	})

	secret := os.Getenv(cfg.Auth.SecretEnv)
	if secret == "" {
		log.Fatalf("%s must be set", cfg.Auth.SecretEnv)
	}
	authService := auth.NewService([]byte(secret), time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	completionTimeout := time.Duration(cfg.BasicConfig.CompletionTimeoutSecs) * time.Second
	completer := completion.NewClient(completion.Config{
		BaseURL: cfg.Completion.BaseURL,
		Model:   cfg.Completion.Model,
		APIKey:  os.Getenv(cfg.Completion.APIKeyEnv),
		Referer: cfg.Completion.Referer,
		Timeout: completionTimeout,
	})

	chatService := chat.NewService(db, searcher, completer, rdb, chat.Config{
		TopK:              cfg.BasicConfig.RetrievalTopK,
		CompletionTimeout: completionTimeout,
		ContextCacheTTL:   time.Duration(cfg.BasicConfig.ContextCacheTTLSecs) * time.Second,
	})

	handlers := api.NewHandler(chatService, authService, catalogStore)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildIndex assembles the configured embedder and vector store, then
// ingests the catalog. Runs once, on the first chat turn that needs it.
func buildIndex(ctx context.Context, cfg *config.Config, catalogStore *catalog.Store) (index.Searcher, error) {
	var embedder index.Embedder
	if cfg.Index.Embedder == "openai" {
		openAICfg := cfg.Index.OpenAI
		if openAICfg == nil {
			openAICfg = &config.OpenAIEmbedderConfig{APIKeyEnv: "OPENAI_API_KEY"}
		}
		remote, err := index.NewOpenAIEmbedder(index.OpenAIEmbedderConfig{
			BaseURL: openAICfg.BaseURL,
			APIKey:  os.Getenv(openAICfg.APIKeyEnv),
			Model:   openAICfg.Model,
			Timeout: time.Duration(openAICfg.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		embedder = remote
	} else {
		embedder = index.NewTFIDF()
	}
	return ingest(ctx, embedder, buildStore(cfg), catalogStore)
}

func buildStore(cfg *config.Config) index.Store {
	if cfg.Index.Store == "qdrant" && cfg.Index.Qdrant != nil {
		return index.NewQdrantStore(index.QdrantConfig{
			URL:        cfg.Index.Qdrant.URL,
			APIKey:     cfg.Index.Qdrant.APIKey,
			Collection: cfg.Index.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Index.Qdrant.TimeoutSecs) * time.Second,
		})
	}
	return index.NewMemoryStore()
}

func ingest(ctx context.Context, embedder index.Embedder, store index.Store, catalogStore *catalog.Store) (index.Searcher, error) {
	products, err := catalogStore.List(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]index.Document, 0, len(products))
	for _, p := range products {
		docs = append(docs, index.Document{ProductID: p.ID, Text: catalog.DocumentText(p)})
	}
	ix := index.New(embedder, store)
	if err := ix.Ingest(ctx, docs); err != nil {
		return nil, err
	}
	log.Printf("similarity index ready with %d products\n", len(docs))
	return ix, nil
}
