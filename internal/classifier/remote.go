package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/supportops/mailtriage/pkg/apperrors"
)

// verdictSchema is what a remote inference endpoint must return.
// Confidence is deliberately unbounded here; out-of-range values are
// clamped rather than rejected.
const verdictSchema = `{
  "type": "object",
  "required": ["category", "priority", "tone", "confidence", "draft_reply"],
  "properties": {
    "category":    {"type": "string", "minLength": 1},
    "priority":    {"type": "string"},
    "tone":        {"type": "string"},
    "confidence":  {"type": "number"},
    "draft_reply": {"type": "string"},
    "reasoning":   {"type": "string"},
    "model":       {"type": "string"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kb_entry_id"],
        "properties": {
          "kb_entry_id": {"type": "string"},
          "title":       {"type": "string"},
          "snippet":     {"type": "string"}
        }
      }
    }
  }
}`

type remoteRequest struct {
	Model       string `json:"model"`
	Subject     string `json:"subject"`
	Question    string `json:"question"`
	ClientEmail string `json:"client_email,omitempty"`
}

type remoteCitation struct {
	KBEntryID string `json:"kb_entry_id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
}

type remoteResponse struct {
	Category   string           `json:"category"`
	Priority   string           `json:"priority"`
	Tone       string           `json:"tone"`
	Confidence float64          `json:"confidence"`
	DraftReply string           `json:"draft_reply"`
	Reasoning  string           `json:"reasoning"`
	Model      string           `json:"model"`
	Citations  []remoteCitation `json:"citations"`
}

// RemoteClassifier calls an HTTP inference endpoint. Every call runs
// under the configured deadline; deadline overruns surface as classifier
// timeouts, everything else as classifier errors.
type RemoteClassifier struct {
	client        *http.Client
	url           string
	token         string
	model         string
	timeout       time.Duration
	maxDraftChars int
	schema        *gojsonschema.Schema
}

// NewRemoteClassifier builds a remote classifier for the given endpoint.
func NewRemoteClassifier(url, token, model string, timeout time.Duration, maxDraftChars int) (*RemoteClassifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("classifier url is empty")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchema))
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &RemoteClassifier{
		client:        &http.Client{},
		url:           url,
		token:         token,
		model:         model,
		timeout:       timeout,
		maxDraftChars: maxDraftChars,
		schema:        schema,
	}, nil
}

func (c *RemoteClassifier) Classify(ctx context.Context, input Input) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(remoteRequest{
		Model:       c.model,
		Subject:     input.Subject,
		Question:    input.Question,
		ClientEmail: input.ClientEmail,
	})
	if err != nil {
		return nil, apperrors.NewClassifierError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewClassifierError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, apperrors.NewClassifierTimeout(err)
		}
		return nil, apperrors.NewClassifierError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, apperrors.NewClassifierTimeout(err)
		}
		return nil, apperrors.NewClassifierError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewClassifierError(fmt.Errorf("classifier endpoint returned %d", resp.StatusCode))
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, apperrors.NewClassifierError(fmt.Errorf("validate verdict: %w", err))
	}
	if !result.Valid() {
		return nil, apperrors.NewClassifierError(fmt.Errorf("malformed verdict: %s", schemaErrors(result)))
	}

	var decoded remoteResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apperrors.NewClassifierError(fmt.Errorf("decode verdict: %w", err))
	}
	return c.toVerdict(decoded), nil
}

func (c *RemoteClassifier) toVerdict(decoded remoteResponse) *Verdict {
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	verdict := &Verdict{
		Category:   strings.TrimSpace(decoded.Category),
		Priority:   NormalizePriority(decoded.Priority),
		Tone:       decoded.Tone,
		Confidence: ClampConfidence(decoded.Confidence),
		DraftReply: TruncateDraft(decoded.DraftReply, c.maxDraftChars),
		Reasoning:  decoded.Reasoning,
		Model:      model,
	}
	for _, citation := range decoded.Citations {
		verdict.Citations = append(verdict.Citations, CitationRef{
			KBEntryID: citation.KBEntryID,
			Title:     citation.Title,
			Snippet:   citation.Snippet,
		})
	}
	return verdict
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func schemaErrors(result *gojsonschema.Result) string {
	descriptions := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		descriptions = append(descriptions, issue.String())
	}
	return strings.Join(descriptions, "; ")
}
