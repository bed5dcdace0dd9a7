package risk

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// Metrics holds the rolling counts fed to the classifier.
type Metrics struct {
	EventsByIP24h          int `json:"eventsByIp24h"`
	EventsByFingerprint24h int `json:"eventsByFingerprint24h"`
	TotalEvents24h         int `json:"totalEvents24h"`
}

// Input describes one identity to classify.
type Input struct {
	IPHash          string
	FingerprintHash string
	UserAgent       string
	Browser         string
	OS              string
	Metrics         Metrics
}

// Decision is the classifier verdict.
type Decision struct {
	Label  string // normal|suspicious|abusive.
	Score  int    // 0-100.
	Reason string
	Source string // groq|fallback.
	Raw    string // Raw model output, empty for fallback.
}

// Classifier produces risk verdicts for abuse-check inputs.
type Classifier interface {
	Classify(ctx context.Context, in Input) Decision
}

// Fallback thresholds. These are the acceptance oracle when no LLM is
// reachable.
const (
	abusiveIPCount       = 200
	abusiveFPCount       = 300
	abusiveTotalCount    = 500
	suspiciousIPCount    = 50
	suspiciousFPCount    = 80
	suspiciousTotalCount = 200
)

// GroqClassifier calls a Groq chat-completions endpoint and falls back to a
// deterministic threshold rule when the call or parse fails.
type GroqClassifier struct {
	cfg    config.GroqConfig
	client *resty.Client
}

// NewGroqClassifier constructs a classifier from config.
func NewGroqClassifier(cfg config.GroqConfig) *GroqClassifier {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &GroqClassifier{cfg: cfg, client: client}
}

var _ Classifier = (*GroqClassifier)(nil)

const systemPrompt = "You are a risk analyst for abuse detection. " +
	"Classify the request as normal, suspicious, or abusive. " +
	`Return STRICT JSON: {"label":"normal|suspicious|abusive","score":0-100,"reason":"short explanation"}.`

// chatRequest is the Groq chat-completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the completion response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify attempts the LLM call and falls back on any failure.
func (c *GroqClassifier) Classify(ctx context.Context, in Input) Decision {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return FallbackDecision(in)
	}

	userPayload := map[string]any{
		"ipHash":          in.IPHash,
		"userAgent":       in.UserAgent,
		"browser":         in.Browser,
		"os":              in.OS,
		"fingerprintHash": in.FingerprintHash,
		"metrics":         in.Metrics,
		"guidance": map[string]any{
			"suspiciousSignals": []string{
				"High request volume from same IP or fingerprint",
				"Multiple fingerprints per IP",
				"Multiple IPs per fingerprint",
			},
		},
	}
	userJSON, errMarshal := json.Marshal(userPayload)
	if errMarshal != nil {
		return FallbackDecision(in)
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Temperature: 0.2,
		MaxTokens:   256,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userJSON)},
		},
	}

	resp, errPost := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetBody(body).
		Post(c.cfg.Endpoint)
	if errPost != nil {
		log.WithError(errPost).Warn("risk: groq call failed, using fallback")
		return FallbackDecision(in)
	}
	if resp.IsError() {
		log.WithField("status", resp.StatusCode()).Warn("risk: groq returned error status, using fallback")
		return FallbackDecision(in)
	}

	var parsed chatResponse
	if errUnmarshal := json.Unmarshal(resp.Body(), &parsed); errUnmarshal != nil {
		return FallbackDecision(in)
	}
	if len(parsed.Choices) == 0 {
		return FallbackDecision(in)
	}
	content := parsed.Choices[0].Message.Content

	decision, ok := ParseDecision(content)
	if !ok {
		fallback := FallbackDecision(in)
		fallback.Raw = content
		return fallback
	}
	decision.Source = models.DecisionSourceGroq
	decision.Raw = content
	return decision
}

// ParseDecision extracts and validates a decision from free-form model
// output. The model is told to return strict JSON but sometimes wraps it in
// prose, so the first brace-delimited substring is tried.
func ParseDecision(raw string) (Decision, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Decision{}, false
	}

	var parsed struct {
		Label  string          `json:"label"`
		Score  json.RawMessage `json:"score"`
		Reason string          `json:"reason"`
	}
	if errUnmarshal := json.Unmarshal([]byte(raw[start:end+1]), &parsed); errUnmarshal != nil {
		return Decision{}, false
	}
	if parsed.Label == "" || parsed.Reason == "" || len(parsed.Score) == 0 {
		return Decision{}, false
	}
	switch parsed.Label {
	case models.RiskLabelNormal, models.RiskLabelSuspicious, models.RiskLabelAbusive:
	default:
		return Decision{}, false
	}

	score, okScore := parseScore(parsed.Score)
	if !okScore {
		return Decision{}, false
	}

	return Decision{
		Label:  parsed.Label,
		Score:  clampScore(int(score)),
		Reason: parsed.Reason,
	}, true
}

// FallbackDecision applies the deterministic threshold rule.
func FallbackDecision(in Input) Decision {
	ipCount := in.Metrics.EventsByIP24h
	fpCount := in.Metrics.EventsByFingerprint24h
	total := in.Metrics.TotalEvents24h

	if ipCount >= abusiveIPCount || fpCount >= abusiveFPCount || total >= abusiveTotalCount {
		return Decision{
			Label:  models.RiskLabelAbusive,
			Score:  90,
			Reason: "High volume of requests within 24h window.",
			Source: models.DecisionSourceFallback,
		}
	}
	if ipCount >= suspiciousIPCount || fpCount >= suspiciousFPCount || total >= suspiciousTotalCount {
		return Decision{
			Label:  models.RiskLabelSuspicious,
			Score:  65,
			Reason: "Repeated requests detected within 24h window.",
			Source: models.DecisionSourceFallback,
		}
	}
	return Decision{
		Label:  models.RiskLabelNormal,
		Score:  10,
		Reason: "No strong abuse signals detected.",
		Source: models.DecisionSourceFallback,
	}
}

// parseScore accepts the score as a JSON number or a numeric string; models
// emit both forms.
func parseScore(raw json.RawMessage) (float64, bool) {
	var score float64
	if errUnmarshal := json.Unmarshal(raw, &score); errUnmarshal == nil {
		return score, true
	}
	var text string
	if errUnmarshal := json.Unmarshal(raw, &text); errUnmarshal != nil {
		return 0, false
	}
	score, errParse := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if errParse != nil {
		return 0, false
	}
	return score, true
}

func clampScore(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
