package chat

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shopchat/internal/index"
	"shopchat/internal/models"
)

const systemPrompt = "You are a product expert assistant for electronics."

// ErrEmptyQuery signals a chat request without a query.
var ErrEmptyQuery = errors.New("query is required")

// Completer is the remote chat-completion contract.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Cache stores retrieval context blocks between turns. Satisfied by
// *redis.Client; a nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Service resolves sessions, retrieves grounding context, invokes the
// completion client and persists both turns of the exchange.
type Service struct {
	db          *sql.DB
	search      index.Searcher
	completions Completer
	cache       Cache

	topK              int
	completionTimeout time.Duration
	cacheTTL          time.Duration

	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex
}

type Config struct {
	TopK              int
	CompletionTimeout time.Duration
	ContextCacheTTL   time.Duration
}

func NewService(db *sql.DB, search index.Searcher, completions Completer, cache Cache, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 60 * time.Second
	}
	if cfg.ContextCacheTTL <= 0 {
		cfg.ContextCacheTTL = 5 * time.Minute
	}
	return &Service{
		db:                db,
		search:            search,
		completions:       completions,
		cache:             cache,
		topK:              cfg.TopK,
		completionTimeout: cfg.CompletionTimeout,
		cacheTTL:          cfg.ContextCacheTTL,
		userLocks:         make(map[int64]*sync.Mutex),
	}
}

// Reply is the outcome of one chat turn.
type Reply struct {
	SessionID int64  `json:"session_id"`
	Response  string `json:"response"`
}

// Chat runs one request/response cycle: resolve the session, persist the
// user's turn, retrieve grounding context, generate, persist the reply.
// A failed generation leaves the user's message recorded and appends
// nothing for the assistant.
func (s *Service) Chat(ctx context.Context, userID, sessionID int64, query string) (*Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var (
		session *models.Session
		err     error
	)
	if sessionID > 0 {
		session, err = s.GetSession(ctx, userID, sessionID)
	} else {
		session, err = s.GetOrCreateCurrentSession(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.AppendMessage(ctx, session.ID, models.RoleUser, query); err != nil {
		return nil, err
	}

	contextBlock, err := s.retrieveContext(ctx, query)
	if err != nil {
		return nil, err
	}

	// Generation and reply persistence run detached from the caller's
	// cancellation: once the user's turn is recorded the exchange is
	// completed even if the client disconnects.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.completionTimeout)
	defer cancel()

	reply, err := s.completions.Complete(genCtx, systemPrompt, buildPrompt(contextBlock, query))
	if err != nil {
		return nil, err
	}

	if _, err := s.AppendMessage(genCtx, session.ID, models.RoleAssistant, reply); err != nil {
		return nil, err
	}
	return &Reply{SessionID: session.ID, Response: reply}, nil
}

// retrieveContext joins the top-k retrieved product texts into one block,
// read through the redis cache when available. Cache failures are misses;
// an empty index yields an empty block, which is valid.
func (s *Service) retrieveContext(ctx context.Context, query string) (string, error) {
	key := contextCacheKey(query)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			return cached, nil
		}
	}

	results, err := s.search.Search(ctx, query, s.topK)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}
	block := strings.Join(texts, "\n")

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, block, s.cacheTTL)
	}
	return block, nil
}

func contextCacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "chat:context:" + hex.EncodeToString(sum[:16])
}

func buildPrompt(contextBlock, query string) string {
	return fmt.Sprintf(`You are a helpful AI assistant for an electronics e-commerce store.
Based on the following product data, respond to the user's query.

--- Product Info ---
%s
---------------------
User query: %s
AI:`, contextBlock, query)
}
