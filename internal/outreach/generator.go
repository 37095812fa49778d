// Package outreach writes and paces first-contact messages to scraped users.
package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/envoy/internal/ollama"
)

const (
	DefaultGenerateEvery = 3
	DefaultMaxRemote     = 20

	defaultGenerateTimeout = 15 * time.Second
	maxMessageRunes        = 200
	maxBioRunes            = 100
)

// Completer is the remote text-generation dependency. *ollama.Client
// satisfies it.
type Completer interface {
	Generate(ctx context.Context, prompt string, opts ollama.Options) (string, error)
}

type greeting struct {
	opener string
	tail   string
}

var fallbackGreetings = []greeting{
	{"Привет", "Как дела?"},
	{"Здравствуйте", "Нашел ваш профиль."},
	{"Приветствую", "Рад познакомиться."},
	{"Добрый день", "Заметил вашу активность."},
	{"Привет", "Интересный профиль."},
}

var rolePrefixes = []string{"Assistant:", "AI:", "Bot:", "Ассистент:", "Бот:"}

type GeneratorOption func(*Generator)

// WithEvery asks the model for every nth message. Zero or less disables
// generation entirely.
func WithEvery(n int) GeneratorOption {
	return func(g *Generator) { g.every = n }
}

// WithMaxRemote caps the number of model requests made by one generator.
func WithMaxRemote(n int) GeneratorOption {
	return func(g *Generator) { g.maxRemote = n }
}

func WithGenerateTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRand fixes the random source used to pick fallback greetings.
func WithRand(r *rand.Rand) GeneratorOption {
	return func(g *Generator) { g.rnd = r }
}

// Generator produces greeting text, mixing model output with templates.
type Generator struct {
	llm       Completer
	logger    *slog.Logger
	every     int
	maxRemote int
	timeout   time.Duration

	mu       sync.Mutex
	rnd      *rand.Rand
	messages int
	remote   int
}

// NewGenerator builds a generator. llm may be nil, in which case only
// templates are used.
func NewGenerator(llm Completer, logger *slog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		llm:       llm,
		logger:    logger,
		every:     DefaultGenerateEvery,
		maxRemote: DefaultMaxRemote,
		timeout:   defaultGenerateTimeout,
		rnd:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Message returns the greeting for one recipient. It never fails: model
// errors fall back to a template.
func (g *Generator) Message(ctx context.Context, firstName, bio string) string {
	if g.useRemote() {
		text, err := g.generate(ctx, firstName, bio)
		if err == nil && text != "" {
			return text
		}
		g.logger.Warn("greeting generation failed, using template", "error", err)
	}
	return g.Fallback(firstName)
}

// RemoteRequests reports how many model requests have been made.
func (g *Generator) RemoteRequests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remote
}

func (g *Generator) useRemote() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.messages
	g.messages++
	if g.llm == nil || g.every <= 0 || n%g.every != 0 || g.remote >= g.maxRemote {
		return false
	}
	g.remote++
	return true
}

func (g *Generator) generate(ctx context.Context, firstName, bio string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.llm.Generate(ctx, buildGreetingPrompt(firstName, bio), ollama.Options{Temperature: 0.7, NumPredict: 100})
	if err != nil {
		return "", fmt.Errorf("generate greeting: %w", err)
	}
	return CleanResponse(raw), nil
}

// Fallback picks a template greeting, addressed to firstName when known.
func (g *Generator) Fallback(firstName string) string {
	g.mu.Lock()
	t := fallbackGreetings[g.rnd.IntN(len(fallbackGreetings))]
	g.mu.Unlock()

	firstName = strings.TrimSpace(firstName)
	if firstName == "" {
		return t.opener + "! " + t.tail
	}
	return t.opener + ", " + firstName + "! " + t.tail
}

// CleanResponse strips quoting and role prefixes from model output,
// collapses whitespace and caps the length.
func CleanResponse(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"'«»`)
	text = strings.TrimSpace(text)
	for _, p := range rolePrefixes {
		if strings.HasPrefix(text, p) {
			text = strings.TrimSpace(text[len(p):])
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	return truncate(text, maxMessageRunes, "...")
}

func truncate(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + suffix
}

func buildGreetingPrompt(firstName, bio string) string {
	who := firstName
	if who == "" {
		who = "пользователя"
	}
	prompt := fmt.Sprintf(greetingPrompt, who)
	if bio = strings.TrimSpace(bio); bio != "" {
		prompt += "\n\nПользователь интересуется: " + truncate(bio, maxBioRunes, "")
	}
	return prompt
}

const greetingPrompt = `Напиши короткое приветственное сообщение (1-2 предложения) для %s.

Сообщение должно быть:
- Дружелюбным, но не навязчивым
- Без спама и рекламы
- Естественным, как будто пишешь знакомому
- На русском языке

Не используй эмодзи в начале сообщения.`
