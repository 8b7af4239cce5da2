package providers

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/providers/anthropic"
	"github.com/anthonybaldwin/crewforge/internal/providers/bedrock"
	"github.com/anthonybaldwin/crewforge/internal/providers/openai"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// NewDefaultRegistry builds the Registry used in production: anthropic,
// openai, and bedrock bind to real SDKs; google, xai, deepseek, and mistral
// are registered but fail fast until a client is wired for them (see
// DESIGN.md). Adding real support for one of those later is a single
// Register call. logger is threaded into each adapter so a tool-input
// repair falling back to an empty object is observable rather than silent.
func NewDefaultRegistry(logger telemetry.Logger) *Registry {
	r := NewRegistry()

	// One limiter per provider, shared across every run and every set of
	// credentials, so the adaptive budget reflects real per-provider traffic
	// rather than resetting on each call.
	anthropicLimiter := NewAdaptiveRateLimiter(60000, 240000)
	openaiLimiter := NewAdaptiveRateLimiter(60000, 240000)
	bedrockLimiter := NewAdaptiveRateLimiter(60000, 240000)

	r.Register("anthropic", func(creds Credentials) (model.Client, error) {
		c, err := anthropic.NewFromAPIKey(creds.APIKey, creds.ProxyURL, logger)
		if err != nil {
			return nil, err
		}
		return anthropicLimiter.Wrap(c), nil
	})
	r.Register("openai", func(creds Credentials) (model.Client, error) {
		c, err := openai.NewFromAPIKey(creds.APIKey, creds.ProxyURL, logger)
		if err != nil {
			return nil, err
		}
		return openaiLimiter.Wrap(c), nil
	})
	r.Register("bedrock", func(creds Credentials) (model.Client, error) {
		cfg := awssdk.Config{
			Region: creds.Region,
			Credentials: awssdk.CredentialsProviderFunc(func(context.Context) (awssdk.Credentials, error) {
				return awssdk.Credentials{
					AccessKeyID:     creds.AccessKeyID,
					SecretAccessKey: creds.SecretAccessKey,
				}, nil
			}),
		}
		c, err := bedrock.NewFromConfig(cfg, logger)
		if err != nil {
			return nil, err
		}
		return bedrockLimiter.Wrap(c), nil
	})
	for _, id := range []string{"google", "xai", "deepseek", "mistral"} {
		id := id
		r.Register(id, func(Credentials) (model.Client, error) {
			return nil, fmt.Errorf("providers: %s has no bound SDK in this build", id)
		})
	}
	return r
}
