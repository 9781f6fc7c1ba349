package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/supportops/mailtriage/internal/config"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

// New assembles the classifier chain from configuration: remote with
// heuristic degradation when both are configured, either one alone
// otherwise, and a stub that rejects every call when neither is.
func New(cfg config.ClassifierConfig, maxDraftChars, retrieverTopK int, searcher KBSearcher) (Classifier, error) {
	hasRemote := strings.TrimSpace(cfg.URL) != ""
	heuristic := NewHeuristicClassifier(searcher, retrieverTopK, maxDraftChars)

	if !hasRemote {
		if cfg.Fallback {
			return heuristic, nil
		}
		return unconfigured{}, nil
	}

	remote, err := NewRemoteClassifier(cfg.URL, cfg.Token, cfg.Model, cfg.Timeout(), maxDraftChars)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback {
		return WithFallback(remote, heuristic), nil
	}
	return remote, nil
}

// WithFallback degrades to the fallback classifier when the primary
// fails. The primary's error is kept when the fallback cannot produce a
// verdict either.
func WithFallback(primary, fallback Classifier) Classifier {
	return &fallbackClassifier{primary: primary, fallback: fallback}
}

type fallbackClassifier struct {
	primary  Classifier
	fallback Classifier
}

func (f *fallbackClassifier) Classify(ctx context.Context, input Input) (*Verdict, error) {
	verdict, primaryErr := f.primary.Classify(ctx, input)
	if primaryErr == nil {
		return verdict, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, primaryErr
	}
	verdict, err := f.fallback.Classify(ctx, input)
	if err != nil {
		return nil, primaryErr
	}
	verdict.FallbackUsed = true
	return verdict, nil
}

type unconfigured struct{}

func (unconfigured) Classify(context.Context, Input) (*Verdict, error) {
	return nil, apperrors.NewClassifierUnconfigured()
}
