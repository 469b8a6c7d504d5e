package decision

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
)

// applyConstraints enforces global submission policy in a fixed order:
// blacklist first, then the per-organization cap, then the daily cap. Each
// pass only flips Submit from true to false, never back, and appends the
// reason to the decision's reasoning.
func applyConstraints(decisions []model.Decision, criteria Criteria) {
	applyBlacklist(decisions, criteria.Blacklist)
	applyOrganizationCap(decisions, criteria.MaxPerOrganization)
	applyDailyCap(decisions, criteria.MaxPerDay)
}

func applyBlacklist(decisions []model.Decision, blacklist []string) {
	if len(blacklist) == 0 {
		return
	}
	blocked := make(map[string]struct{}, len(blacklist))
	for _, org := range blacklist {
		blocked[strings.ToLower(strings.TrimSpace(org))] = struct{}{}
	}
	for i := range decisions {
		d := &decisions[i]
		if !d.Submit {
			continue
		}
		if _, ok := blocked[strings.ToLower(strings.TrimSpace(d.Organization))]; ok {
			suppress(d, fmt.Sprintf("organization %q is blacklisted", d.Organization))
		}
	}
}

// applyOrganizationCap keeps the limit highest-scoring submittable decisions
// per organization and suppresses the rest. A cap of zero means unlimited.
func applyOrganizationCap(decisions []model.Decision, limit int) {
	if limit <= 0 {
		return
	}
	byOrg := make(map[string][]int)
	for i := range decisions {
		if !decisions[i].Submit {
			continue
		}
		org := strings.ToLower(strings.TrimSpace(decisions[i].Organization))
		byOrg[org] = append(byOrg[org], i)
	}
	for org, idx := range byOrg {
		if len(idx) <= limit {
			continue
		}
		sortDecisionsByScore(idx, decisions)
		for _, i := range idx[limit:] {
			suppress(&decisions[i],
				fmt.Sprintf("per-organization limit of %d reached for %q", limit, org))
		}
	}
}

// applyDailyCap keeps the limit highest-scoring submittable decisions across
// the whole batch. A cap of zero means unlimited.
func applyDailyCap(decisions []model.Decision, limit int) {
	if limit <= 0 {
		return
	}
	var idx []int
	for i := range decisions {
		if decisions[i].Submit {
			idx = append(idx, i)
		}
	}
	if len(idx) <= limit {
		return
	}
	sortDecisionsByScore(idx, decisions)
	for _, i := range idx[limit:] {
		suppress(&decisions[i], fmt.Sprintf("daily submission limit of %d reached", limit))
	}
	zap.L().Info("decision: daily cap applied",
		zap.Int("limit", limit),
		zap.Int("suppressed", len(idx)-limit),
	)
}

func suppress(d *model.Decision, reason string) {
	d.Submit = false
	d.Reasoning = append(d.Reasoning, "suppressed: "+reason)
}
