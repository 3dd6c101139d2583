package domain

import "strings"

// typeAliases maps a task type to skill tokens that also qualify for it,
// beyond plain substring overlap. Matching is intentionally permissive:
// reject is the exception, not the default.
var typeAliases = map[TaskType][]string{
	TypeSetup:       {"delivery", "install"},
	TypeDelivery:    {"setup", "transport", "pickup"},
	TypePickup:      {"delivery", "setup", "transport"},
	TypeMaintenance: {"repair", "service"},
}

// universalSkills match every task type.
var universalSkills = []string{"maintenance", "general", "all"}

// SkillsMatchType reports whether a contractor's free-text skills qualify
// for a task type. An empty skill list matches everything.
func SkillsMatchType(skills []string, taskType TaskType) bool {
	t := strings.ToLower(string(taskType))
	sawSkill := false
	for _, raw := range skills {
		s := strings.ToLower(strings.TrimSpace(raw))
		if s == "" {
			continue
		}
		sawSkill = true
		if strings.Contains(s, t) || strings.Contains(t, s) {
			return true
		}
		for _, u := range universalSkills {
			if strings.Contains(s, u) {
				return true
			}
		}
		for _, alias := range typeAliases[TaskType(t)] {
			if strings.Contains(s, alias) {
				return true
			}
		}
	}
	// No usable skill tokens means no restriction.
	return !sawSkill
}

// SkillTokensMatch reports whether a registered skill satisfies a requested
// skill token, by substring overlap in either direction.
func SkillTokensMatch(registered, requested string) bool {
	r := strings.ToLower(strings.TrimSpace(registered))
	q := strings.ToLower(strings.TrimSpace(requested))
	if r == "" || q == "" {
		return false
	}
	return strings.Contains(r, q) || strings.Contains(q, r)
}
