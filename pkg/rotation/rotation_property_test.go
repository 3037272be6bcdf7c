//go:build property
// +build property

package rotation_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/reins-ai/agentd/pkg/rotation"
)

// TestRotationGenerationMonotonic verifies that RotationGen always climbs by
// exactly one per successful Rotate call, regardless of how many times a
// credential is rotated.
func TestRotationGenerationMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("RotationGen increments by one per Rotate", prop.ForAll(
		func(rotations int) bool {
			m := rotation.NewManager(rotation.Policy{MaxAge: time.Hour})
			cred := m.Issue("gmail", "oauth")
			id := cred.CredentialID

			for i := 0; i < rotations; i++ {
				next, err := m.Rotate(id)
				if err != nil {
					return false
				}
				if next.RotationGen != i+2 {
					return false
				}
				id = next.CredentialID
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestRotatedCredentialNeverValid verifies a credential marked ROTATED is
// never reported valid again, no matter how many further rotations occur
// downstream of it.
func TestRotatedCredentialNeverValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a rotated credential stays invalid", prop.ForAll(
		func(rotations int) bool {
			m := rotation.NewManager(rotation.Policy{MaxAge: time.Hour})
			cred := m.Issue("gmail", "oauth")
			first := cred.CredentialID
			id := first

			for i := 0; i < rotations+1; i++ {
				next, err := m.Rotate(id)
				if err != nil {
					return false
				}
				id = next.CredentialID
			}
			return !m.IsValid(first)
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
