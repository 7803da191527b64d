package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/store"
)

// Sink is the write-once output store stages persist to.
type Sink interface {
	WriteOutput(ctx context.Context, key, content string) error
}

// timestampLayout names outputs, e.g. market_analysis_20250102_150405.
const timestampLayout = "20060102_150405"

// maxKeyCollisions bounds the suffixes tried when a key already exists.
const maxKeyCollisions = 10

// Stages sends stage prompts and persists each completion under a key
// unique to the run, the stage and the time. Stages never inspect what they
// persist.
type Stages struct {
	sink  Sink
	runID string
	now   func() time.Time

	mu   sync.Mutex
	keys []string
}

// NewStages creates a stage runner writing under runID.
func NewStages(sink Sink, runID string) *Stages {
	return &Stages{sink: sink, runID: runID, now: time.Now}
}

// Run sends prompt, persists the completion as stage (suffixed by scope
// when set) and returns the raw text. A persistence failure is logged and
// does not fail the stage.
func (s *Stages) Run(ctx context.Context, sender Sender, stage, scope, prompt string, tools bool) (string, error) {
	resp, err := sender.Send(ctx, prompt, tools)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: stage %s", stage)
	}
	s.Persist(ctx, outputName(stage, scope), resp.Text)
	return resp.Text, nil
}

// PersistJSON writes v as indented JSON.
func (s *Stages) PersistJSON(ctx context.Context, name string, v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		zap.L().Warn("pipeline: marshal output", zap.String("output", name), zap.Error(err))
		return ""
	}
	return s.Persist(ctx, name, string(data))
}

// Persist writes content under {runID}/{name}_{timestamp}, adding a numeric
// suffix when that key is taken. It returns the key written, or "" when the
// write failed. Writes outlive cancellation of ctx so finished work is kept.
func (s *Stages) Persist(ctx context.Context, name, content string) string {
	ctx = context.WithoutCancel(ctx)
	base := fmt.Sprintf("%s/%s_%s", s.runID, name, s.now().UTC().Format(timestampLayout))

	for i := 1; i <= maxKeyCollisions; i++ {
		key := base
		if i > 1 {
			key = fmt.Sprintf("%s_%d", base, i)
		}
		err := s.sink.WriteOutput(ctx, key, content)
		if err == nil {
			s.mu.Lock()
			s.keys = append(s.keys, key)
			s.mu.Unlock()
			return key
		}
		if !errors.Is(err, store.ErrOutputExists) {
			zap.L().Warn("pipeline: failed to persist output", zap.String("key", key), zap.Error(err))
			return ""
		}
	}
	zap.L().Warn("pipeline: output key exhausted", zap.String("key", base))
	return ""
}

// Keys returns the keys written so far, in write order.
func (s *Stages) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func outputName(stage, scope string) string {
	if scope == "" {
		return stage
	}
	return stage + "_" + slug(scope)
}

// slug makes a name safe for an output key.
func slug(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, name)
}
