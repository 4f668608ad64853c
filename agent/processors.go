package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/najoast/conductor/core"
)

// ErrUnknownProcessor is returned for a kind missing from a Catalog.
var ErrUnknownProcessor = errors.New("unknown processor kind")

// ErrProcessorFailed is what the "fail" processor returns.
var ErrProcessorFailed = errors.New("processor failed")

// Catalog maps processor kinds, as named in configuration, to Processors.
type Catalog struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewCatalog returns a catalog holding the built-in text processors.
func NewCatalog() *Catalog {
	c := &Catalog{processors: make(map[string]Processor)}
	c.Add("echo", textProcessor(func(s string) string { return s }))
	c.Add("upper", textProcessor(strings.ToUpper))
	c.Add("lower", textProcessor(strings.ToLower))
	c.Add("trim", textProcessor(strings.TrimSpace))
	c.Add("reverse", textProcessor(reverse))
	c.Add("fail", ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		return nil, ErrProcessorFailed
	}))
	return c
}

// Add registers p under kind, replacing any previous entry.
func (c *Catalog) Add(kind string, p Processor) {
	c.mu.Lock()
	c.processors[kind] = p
	c.mu.Unlock()
}

// Get returns the processor registered for kind.
func (c *Catalog) Get(kind string) (Processor, error) {
	c.mu.RLock()
	p, ok := c.processors[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	kinds := make([]string, 0, len(c.processors))
	for kind := range c.processors {
		kinds = append(kinds, kind)
	}
	c.mu.RUnlock()
	sort.Strings(kinds)
	return kinds
}

// textProcessor applies fn to the payload rendered as a string.
func textProcessor(fn func(string) string) Processor {
	return ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn(fmt.Sprint(msg.Payload)), nil
	})
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
