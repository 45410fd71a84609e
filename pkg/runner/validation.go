package runner

import (
	"fmt"
	"strings"

	"github.com/dukex/apiflow/pkg/models"
)

// ValidateAssertions checks every assertion node before a run is sent to the run service. Assertions
// reading anything but the status need a path; operators other than exists/notExists need an
// expected value. It returns a *ValidationError listing all violations, or nil.
func ValidateAssertions(nodes []*models.Node) error {
	var validationErr ValidationError

	for _, node := range nodes {
		if node.Type != models.NodeTypeAssertion {
			continue
		}

		var config models.AssertionConfig
		if err := models.DecodeConfig(node.Data.Config, &config); err != nil {
			validationErr.add(node.ID, models.ConfigKeyAssertions)

			continue
		}

		for i, assertion := range config.Assertions {
			if assertion.NeedsPath() && strings.TrimSpace(assertion.Path) == "" {
				validationErr.add(node.ID, fmt.Sprintf("assertion[%d].path", i))
			}

			if assertion.NeedsExpectedValue() && !assertion.HasExpectedValue() {
				validationErr.add(node.ID, fmt.Sprintf("assertion[%d].expectedValue", i))
			}
		}
	}

	if len(validationErr.nodeOrder) == 0 {
		return nil
	}

	return &validationErr
}
