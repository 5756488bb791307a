package segment

import (
	"context"

	"github.com/mattjoyce/herald/internal/profile"
)

//go:generate mockgen -source=classifier.go -destination=mocks/mock_classifier.go -package=mocks

// Classifier assigns a user to a cohort. The engine never computes cohort
// membership itself; when classification fails it keeps the profile's
// last-known cohort and continues in degraded mode.
type Classifier interface {
	Classify(ctx context.Context, p profile.Profile, behavior profile.BehaviorSnapshot) (string, error)
}
