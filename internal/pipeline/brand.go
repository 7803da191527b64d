package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/prompts"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// Brander turns an analysis into a brand strategy. The call is stateless
// and wrapped in the fixed-attempt retry.
type Brander struct {
	sender   Sender
	prompts  *prompts.Set
	attempts resilience.AttemptConfig
}

// NewBrander creates a Brander. sender should not carry conversation
// history.
func NewBrander(sender Sender, ps *prompts.Set, attempts resilience.AttemptConfig) *Brander {
	if attempts.OnRetry == nil {
		attempts.OnRetry = func(attempt int, err error) {
			zap.L().Warn("brand: attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", attempts.Delay),
				zap.Error(err),
			)
		}
	}
	return &Brander{sender: sender, prompts: ps, attempts: attempts}
}

// Attempt runs the brand prompt over data. An answer that is not a valid
// brand strategy counts as a failed attempt.
func (b *Brander) Attempt(ctx context.Context, data any) resilience.Outcome[model.BrandStrategy] {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return resilience.Exhausted[model.BrandStrategy](0, eris.Wrap(err, "brand: marshal input"))
	}
	prompt, err := b.prompts.Brand(string(payload), model.BrandFeatureCount)
	if err != nil {
		return resilience.Exhausted[model.BrandStrategy](0, err)
	}

	return resilience.Attempt(ctx, b.attempts, func(ctx context.Context) (model.BrandStrategy, error) {
		resp, err := b.sender.Send(ctx, prompt, false)
		if err != nil {
			return model.BrandStrategy{}, eris.Wrap(err, "brand: completion")
		}
		var bs model.BrandStrategy
		if err := decodeJSON(resp.Text, &bs); err != nil {
			return model.BrandStrategy{}, eris.Wrap(err, "brand: parse")
		}
		bs.Fallback = false
		if err := bs.Validate(); err != nil {
			return model.BrandStrategy{}, err
		}
		return bs, nil
	})
}

// Strategy returns the brand strategy for data, or the default strategy
// when every attempt failed.
func (b *Brander) Strategy(ctx context.Context, data any) model.BrandStrategy {
	out := b.Attempt(ctx, data)
	if out.Exhausted() {
		monitoring.RetryExhausted.WithLabelValues(model.StageBrand).Inc()
		zap.L().Warn("brand: attempts exhausted, using default strategy",
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
	}
	return out.OrElse(model.DefaultBrandStrategy())
}
