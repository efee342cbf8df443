package pipeline

import (
	"time"

	"github.com/acme/outbound-message-automation/internal/domain"
)

// Priority point values. Urgency sets the base; lead context and message age
// adjust it. Clamped to [0,100].
const (
	highUrgencyBase   = 70
	mediumUrgencyBase = 50
	lowUrgencyBase    = 30

	recentInboundBonus  = 10 // lead replied within the last day
	activeLeadBonus     = 10 // lead replied within the last week
	lukewarmLeadBonus   = 5  // lead replied within the last month
	hotStageBonus       = 10
	warmStageBonus      = 5
	coldStagePenalty    = 10
	agingBonus          = 5 // waiting over a day
	staleBonus          = 10 // waiting over three days
)

var hotStages = map[string]bool{"hot": true, "negotiation": true, "ready_to_buy": true}
var warmStages = map[string]bool{"qualified": true, "warm": true, "engaged": true}
var coldStages = map[string]bool{"cold": true, "unresponsive": true, "lost": true}

// enhancedPriority computes the processing priority for one pending message.
func enhancedPriority(msg *domain.QueuedMessage, lead *domain.Lead, now time.Time) int {
	priority := mediumUrgencyBase
	switch msg.Urgency {
	case domain.UrgencyHigh:
		priority = highUrgencyBase
	case domain.UrgencyLow:
		priority = lowUrgencyBase
	}

	if lead != nil {
		if lead.LastReplyAt != nil {
			since := now.Sub(*lead.LastReplyAt)
			switch {
			case since <= 24*time.Hour:
				priority += recentInboundBonus + activeLeadBonus
			case since <= 7*24*time.Hour:
				priority += activeLeadBonus
			case since <= 30*24*time.Hour:
				priority += lukewarmLeadBonus
			}
		}

		switch {
		case hotStages[lead.Stage]:
			priority += hotStageBonus
		case warmStages[lead.Stage]:
			priority += warmStageBonus
		case coldStages[lead.Stage]:
			priority -= coldStagePenalty
		}
	}

	age := now.Sub(msg.CreatedAt)
	switch {
	case age > 72*time.Hour:
		priority += staleBonus
	case age > 24*time.Hour:
		priority += agingBonus
	}

	if priority < 0 {
		priority = 0
	}
	if priority > 100 {
		priority = 100
	}
	return priority
}
