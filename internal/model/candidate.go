package model

// Candidate is one scored opportunity produced by the matching stage and
// consumed once by the decision engine.
type Candidate struct {
	ID           string         `json:"id" validate:"required"`
	Title        string         `json:"title" validate:"required"`
	Organization string         `json:"organization" validate:"required"`
	Location     string         `json:"location"`
	MatchScore   float64        `json:"match_score" validate:"gte=0,lte=1"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// SalaryRange returns the candidate's salary bounds from its contextual
// fields, if both are present and numeric.
func (c *Candidate) SalaryRange() (min, max float64, ok bool) {
	min, okMin := numField(c.Fields, "salary_min")
	max, okMax := numField(c.Fields, "salary_max")
	return min, max, okMin && okMax
}

// SalaryMidpoint returns the midpoint of the salary range if known.
func (c *Candidate) SalaryMidpoint() (float64, bool) {
	min, max, ok := c.SalaryRange()
	if !ok {
		return 0, false
	}
	return (min + max) / 2, true
}

// Description returns the free-text description field, if any.
func (c *Candidate) Description() string {
	if c.Fields == nil {
		return ""
	}
	if s, ok := c.Fields["description"].(string); ok {
		return s
	}
	return ""
}

func numField(fields map[string]any, key string) (float64, bool) {
	if fields == nil {
		return 0, false
	}
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
