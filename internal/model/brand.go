package model

import (
	"github.com/rotisserie/eris"
)

// BrandFeatureCount is the number of core features a brand strategy carries.
const BrandFeatureCount = 4

// BrandFeature is one headline product feature.
type BrandFeature struct {
	FeatureTitle string `json:"feature_title"`
	Intro        string `json:"intro"`
}

// BrandStrategy is the brand-strategy stage output.
type BrandStrategy struct {
	ChatappName        string         `json:"chatapp_name"`
	ChatappDescription string         `json:"chatapp_description"`
	CoreFeatures       []BrandFeature `json:"chatapp_core_features"`
	Fallback           bool           `json:"fallback,omitempty"`
}

// Validate checks the fields the brand prompt requires.
func (b *BrandStrategy) Validate() error {
	if b.ChatappName == "" {
		return eris.New("brand: chatapp_name is empty")
	}
	if len(b.CoreFeatures) != BrandFeatureCount {
		return eris.Errorf("brand: expected %d core features, got %d", BrandFeatureCount, len(b.CoreFeatures))
	}
	for i, f := range b.CoreFeatures {
		if f.FeatureTitle == "" {
			return eris.Errorf("brand: feature %d has no title", i)
		}
	}
	return nil
}

// DefaultBrandStrategy is the canned result used when the brand stage
// exhausts its attempts.
func DefaultBrandStrategy() BrandStrategy {
	return BrandStrategy{
		ChatappName:        "Aurora Insights",
		ChatappDescription: "An AI-powered brand platform that transforms analytical insights into compelling, market-ready product narratives.",
		CoreFeatures: []BrandFeature{
			{FeatureTitle: "Brand Positioning Engine", Intro: "Defines the brand's competitive edge and value promise using structured strategic logic."},
			{FeatureTitle: "Market Intelligence Hub", Intro: "Aggregates and analyzes market data to identify opportunities and trends."},
			{FeatureTitle: "Audience Insight Generator", Intro: "Creates detailed audience personas and behavioral analysis."},
			{FeatureTitle: "Narrative Builder", Intro: "Transforms insights into compelling brand stories and messaging."},
		},
		Fallback: true,
	}
}
