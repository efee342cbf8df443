package scoring

// Hand-tuned heuristic point values, tabulated in one place so they can be
// reviewed and adjusted without touching the scoring logic. The top-level
// factor weights and decision thresholds live in config.ScoringConfig.
const (
	baseScore = 50.0

	// Lead compatibility.
	hotStageBonus        = 15.0
	warmStageBonus       = 10.0
	coldStagePenalty     = 10.0
	interestMatchBonus   = 10.0
	highResponseBonus    = 15.0
	midResponseBonus     = 8.0
	lowResponseBonus     = 3.0
	unresponsivePenalty  = 10.0
	hotEngagementBonus   = 10.0
	warmEngagementBonus  = 5.0
	coldEngagementPenalty = 5.0
	deepHistoryBonus     = 8.0
	someHistoryBonus     = 4.0
	noHistoryPenalty     = 10.0

	// Timing.
	businessHoursBonus = 15.0
	weekdayBonus       = 10.0
	highUrgencyBonus   = 10.0
	frequencyPenalty   = 10.0 // per extra message beyond the first in 24h

	// Content quality.
	goodLengthBonus   = 15.0
	tooShortPenalty   = 15.0
	slightlyLongPenalty = 5.0
	tooLongPenalty    = 15.0
	firstNameBonus    = 10.0
	interestRefBonus  = 10.0
	questionBonus     = 8.0
	courtesyBonus     = 5.0
	pressurePenalty   = 12.0
	pressurePenaltyCap = 24.0

	minGoodWords     = 10
	maxGoodWords     = 50
	maxTolerableWords = 80

	// Risk (higher is worse).
	compliancePenalty     = 20.0
	compliancePenaltyCap  = 60.0
	harassmentRisk        = 25.0
	frequencyRisk         = 20.0 // per extra message beyond the first in 24h
	frequencyRiskCap      = 60.0
	genericContentRisk    = 15.0

	// Confidence building blocks (data availability, not score quality).
	confidenceBase           = 30.0
	templateExactConfidence  = 25.0
	templateFuzzyConfidence  = 15.0
	deepConversationConfidence = 20.0
	someConversationConfidence = 10.0
	feedbackConfidence       = 15.0
	richFeedbackConfidence   = 25.0
)

// pressurePhrases are penalized in content quality scoring.
var pressurePhrases = []string{
	"limited time", "act now", "don't miss", "last chance", "expires", "hurry",
	"urgent", "final offer",
}

// compliancePhrases flag language that raises regulatory or spam risk.
var compliancePhrases = []string{
	"guarantee", "guaranteed", "no credit check", "0% apr", "winner",
	"risk-free", "cash back", "free money",
}

// courtesyWords are small positive signals of polite phrasing.
var courtesyWords = []string{"please", "thank", "thanks", "appreciate", "welcome"}

// hotStages and coldStages bucket funnel stages for compatibility scoring.
var hotStages = map[string]bool{"hot": true, "negotiation": true, "ready_to_buy": true}
var warmStages = map[string]bool{"qualified": true, "warm": true, "engaged": true}
var coldStages = map[string]bool{"cold": true, "unresponsive": true, "lost": true}
