package api

import (
	"context"
	"sync/atomic"
	"time"

	"chatrelay/llm"

	"github.com/rs/zerolog/log"
)

// ToolsCache holds the tool specs discovered from the tool gateway. It is
// written at most once and read by every chat request afterwards.
type ToolsCache struct {
	tools atomic.Pointer[[]llm.ToolSpec]
}

// Set stores tools if nothing was stored yet and reports whether it did.
func (tc *ToolsCache) Set(tools []llm.ToolSpec) bool {
	stored := append([]llm.ToolSpec(nil), tools...)
	return tc.tools.CompareAndSwap(nil, &stored)
}

// Get returns the cached tools, or nil while the cache is unpopulated.
func (tc *ToolsCache) Get() []llm.ToolSpec {
	tools := tc.tools.Load()
	if tools == nil {
		return nil
	}
	return *tools
}

func (tc *ToolsCache) Len() int {
	return len(tc.Get())
}

type ToolFetcher func(ctx context.Context, endpoint string) ([]llm.ToolSpec, error)

// InitToolsCache performs the one-time tool discovery handshake. Failure
// leaves the cache empty, which disables tool advertisement for the rest of
// the process lifetime; there is no retry.
func InitToolsCache(ctx context.Context, cache *ToolsCache, endpoint string, timeout time.Duration, fetch ToolFetcher) error {
	if endpoint == "" {
		log.Info().Msg("No tool server configured, tool augmentation disabled")
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tools, err := fetch(ctx, endpoint)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("Tool discovery failed, tool augmentation disabled")
		return err
	}

	cache.Set(tools)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	log.Info().Strs("tools", names).Str("endpoint", endpoint).Msg("Tool discovery complete")
	return nil
}
