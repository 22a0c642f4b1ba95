package dist

import (
	"strings"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// ExpectedCheckOutput is the only metadata check output accepted for an
// artifact.
func ExpectedCheckOutput(artifact string) string {
	return "Checking " + artifact + ": PASSED"
}

// CheckOutput compares the metadata checker's output with the expected
// message. Trailing line breaks are dropped the way command substitution
// drops them; anything else, trailing blanks and warnings included, is a
// mismatch.
func CheckOutput(artifact, output string) error {
	expected := ExpectedCheckOutput(artifact)
	actual := strings.TrimRight(output, "\r\n")
	if actual != expected {
		return errors.NewMetadataMismatchError(expected, actual)
	}
	return nil
}
