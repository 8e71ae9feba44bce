package model

// HighValueLeadScore is the score above which a lead is treated as
// high-value: priority enqueue and boosted routing to the new pipeline.
const HighValueLeadScore = 75

// LeadProfile is the processed profile of a prospective mortgage customer,
// produced upstream by the lead intake flow.
type LeadProfile struct {
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	LeadScore     int     `json:"lead_score"`
	LoanType      string  `json:"loan_type,omitempty"`
	PropertyPrice float64 `json:"property_price,omitempty"`
	MonthlyIncome float64 `json:"monthly_income,omitempty"`
}

// Persona is the configured tone and identity assigned to the automated
// responder for a conversation.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Style        string `json:"style,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}
