package profile

import "time"

// Profile is the locally cached view of a marketplace user. It is owned by an
// external store; this subsystem upserts it from event payloads and reads it
// for rule matching.
type Profile struct {
	ID            string      `json:"id" yaml:"id"`
	Email         string      `json:"email" yaml:"email"`
	FirstName     string      `json:"first_name" yaml:"first_name"`
	LastName      string      `json:"last_name" yaml:"last_name"`
	Cohort        string      `json:"cohort" yaml:"cohort"`
	LifetimeSpend float64     `json:"lifetime_spend" yaml:"lifetime_spend"`
	Active        bool        `json:"active" yaml:"active"`
	SignedUpAt    time.Time   `json:"signed_up_at" yaml:"signed_up_at"`
	LastActiveAt  time.Time   `json:"last_active_at" yaml:"last_active_at"`
	Preferences   Preferences `json:"preferences" yaml:"preferences"`
}

// Preferences holds the user's messaging and shopping preferences.
type Preferences struct {
	Categories       []string `json:"categories" yaml:"categories"`
	PriceSensitivity string   `json:"price_sensitivity" yaml:"price_sensitivity"`
	ContactCadence   string   `json:"contact_cadence" yaml:"contact_cadence"`
}

// BehaviorSnapshot captures recent behavior signals handed to the external
// segmentation engine when a cohort is re-derived.
type BehaviorSnapshot struct {
	CategoryViews     map[string]int `json:"category_views"`
	RecentSpend       float64        `json:"recent_spend"`
	CartValue         float64        `json:"cart_value"`
	CompetitorSignals []string       `json:"competitor_signals"`
}

// Fields returns the dot-addressable view of the profile used by condition
// evaluation. Preference entries appear under the "preferences." prefix.
func (p *Profile) Fields() map[string]any {
	return map[string]any{
		"id":             p.ID,
		"email":          p.Email,
		"first_name":     p.FirstName,
		"last_name":      p.LastName,
		"cohort":         p.Cohort,
		"lifetime_spend": p.LifetimeSpend,
		"active":         p.Active,
		"signed_up_at":   p.SignedUpAt,
		"last_active_at": p.LastActiveAt,
		"preferences": map[string]any{
			"categories":        p.Preferences.Categories,
			"price_sensitivity": p.Preferences.PriceSensitivity,
			"contact_cadence":   p.Preferences.ContactCadence,
		},
	}
}

// SetField mutates a named profile field. Unknown fields return false and
// leave the profile untouched.
func (p *Profile) SetField(field string, value any) bool {
	switch field {
	case "email":
		if s, ok := value.(string); ok {
			p.Email = s
			return true
		}
	case "first_name":
		if s, ok := value.(string); ok {
			p.FirstName = s
			return true
		}
	case "last_name":
		if s, ok := value.(string); ok {
			p.LastName = s
			return true
		}
	case "cohort":
		if s, ok := value.(string); ok {
			p.Cohort = s
			return true
		}
	case "active":
		if b, ok := value.(bool); ok {
			p.Active = b
			return true
		}
	case "preferences.price_sensitivity":
		if s, ok := value.(string); ok {
			p.Preferences.PriceSensitivity = s
			return true
		}
	case "preferences.contact_cadence":
		if s, ok := value.(string); ok {
			p.Preferences.ContactCadence = s
			return true
		}
	}
	return false
}
