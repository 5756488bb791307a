package rule

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Fingerprint returns the BLAKE3 hash of a rule's canonical YAML encoding.
// Logged when a rule fires and exposed on the rules API so operators can
// confirm which definition produced a delivery.
func Fingerprint(r Rule) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode rule %q: %w", r.ID, err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
