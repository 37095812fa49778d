package nlu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MikeSquared-Agency/envoy/internal/ollama"
)

const (
	// KeywordConfidence is reported for keyword and control-phrase matches.
	KeywordConfidence = 0.8
	// RemoteConfidence is reported for anything that reached the remote model.
	RemoteConfidence = 0.3

	defaultClassifyTimeout = 10 * time.Second
	defaultCacheSize       = 512
)

// Classification sources.
const (
	SourceKeyword  = "keyword"
	SourceControl  = "control"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Completer is the remote text-generation dependency. *ollama.Client
// satisfies it.
type Completer interface {
	Generate(ctx context.Context, prompt string, opts ollama.Options) (string, error)
}

// Classification is the result of classifying one message.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type ClassifierOption func(*Classifier)

// WithTimeout bounds a single remote classification call.
func WithTimeout(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheSize sets the number of remote verdicts kept in memory. Zero
// disables caching.
func WithCacheSize(n int) ClassifierOption {
	return func(c *Classifier) { c.cacheSize = n }
}

type Classifier struct {
	llm       Completer
	logger    *slog.Logger
	timeout   time.Duration
	cacheSize int
	cache     *lru.Cache[string, Intent]
}

// NewClassifier builds a classifier. llm may be nil, in which case every
// message that misses the keyword tables is classified as unknown.
func NewClassifier(llm Completer, logger *slog.Logger, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		llm:       llm,
		logger:    logger,
		timeout:   defaultClassifyTimeout,
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheSize > 0 {
		cache, err := lru.New[string, Intent](c.cacheSize)
		if err == nil {
			c.cache = cache
		}
	}
	return c
}

// Classify never fails: remote errors degrade to unknown.
func (c *Classifier) Classify(ctx context.Context, text string) Classification {
	t := normalize(text)

	if in, ok := MatchKeywords(t); ok {
		return Classification{Intent: in, Confidence: KeywordConfidence, Source: SourceKeyword}
	}
	if in, ok := MatchControl(t); ok {
		return Classification{Intent: in, Confidence: KeywordConfidence, Source: SourceControl}
	}

	if c.cache != nil {
		if in, ok := c.cache.Get(t); ok {
			return Classification{Intent: in, Confidence: RemoteConfidence, Source: SourceRemote}
		}
	}

	in, err := c.classifyRemote(ctx, text)
	if err != nil {
		c.logger.Warn("remote classification failed", "error", err)
		return Classification{Intent: IntentUnknown, Confidence: RemoteConfidence, Source: SourceFallback}
	}
	if c.cache != nil {
		c.cache.Add(t, in)
	}
	return Classification{Intent: in, Confidence: RemoteConfidence, Source: SourceRemote}
}

// Analyze classifies text and extracts its entities in one pass.
func (c *Classifier) Analyze(ctx context.Context, text string) Analysis {
	return Analysis{
		Classification: c.Classify(ctx, text),
		Entities:       Extract(text),
	}
}

func (c *Classifier) classifyRemote(ctx context.Context, text string) (Intent, error) {
	if c.llm == nil {
		return IntentUnknown, fmt.Errorf("no remote classifier configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.llm.Generate(ctx, buildClassifyPrompt(text), ollama.Options{Temperature: 0.3})
	if err != nil {
		return IntentUnknown, fmt.Errorf("generate: %w", err)
	}

	in, ok := ParseIntent(raw)
	if !ok {
		c.logger.Debug("remote label rejected", "raw", raw)
		return IntentUnknown, nil
	}
	return in, nil
}

func buildClassifyPrompt(text string) string {
	labels := make([]string, 0, len(allIntents))
	for _, in := range allIntents {
		labels = append(labels, string(in))
	}
	return fmt.Sprintf(classifyPrompt, text, strings.Join(labels, ", "))
}

const classifyPrompt = `Определи намерение пользователя в сообщении: "%s"

Возможные намерения: %s

Ответь только одним словом из списка.`
