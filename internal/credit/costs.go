package credit

import "math"

// Credit costs per billable action.
const (
	CostSearch        = 5.0
	CostScriptPlan    = 10.0
	CostScriptOutline = 5.0
	CostScriptChunk   = 5.0
	CostImageGen      = 5.0
	CostTTSPerChar    = 0.1
	CostAnalysis      = 1.0
	CostIdeation      = 1.0
)

// costByAction maps gate action names to flat costs. Per-character actions
// are handled separately in CostForAction.
var costByAction = map[string]float64{
	"search":                 CostSearch,
	"analyzeTranscript":      CostAnalysis,
	"generateIdeas":          CostIdeation,
	"generateActingPrompt":   CostIdeation,
	"reformatTopic":          CostIdeation,
	"generateNewPlan":        CostScriptPlan,
	"generateChapterOutline": CostScriptOutline,
	"generateChapterScript":  CostScriptChunk,
	"generateImage":          CostImageGen,
}

// ttsActions are billed per character of input text.
var ttsActions = map[string]bool{
	"synthesizeSpeech": true,
	"generateSsml":     true,
}

// TTSCost converts a character count to whole credits. Any non-empty input
// costs at least one credit.
func TTSCost(charCount int) float64 {
	if charCount < 1 {
		charCount = 1
	}
	cost := math.Ceil(float64(charCount) * CostTTSPerChar)
	if cost < 1 {
		cost = 1
	}
	return cost
}

// CostForAction resolves the credit cost of a gate action. charCount is only
// consulted for per-character actions. Unknown actions report ok=false.
func CostForAction(action string, charCount int) (float64, bool) {
	if ttsActions[action] {
		return TTSCost(charCount), true
	}
	cost, ok := costByAction[action]
	return cost, ok
}
