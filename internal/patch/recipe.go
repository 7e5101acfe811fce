// Package patch inserts a fixed corrective method into a located class,
// exactly once.
package patch

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// Recipe describes one structural insertion.
type Recipe struct {
	// ClassHeader is the literal class-definition line, e.g. "class Foo(Base):".
	ClassHeader string `yaml:"class_header" json:"class_header"`
	// Signature marks the method as present, e.g. "def find_pending(".
	Signature string `yaml:"signature" json:"signature"`
	// Method is the method source written at zero indentation.
	Method string `yaml:"method" json:"method"`
	// Include lists doublestar globs searched for the class (default: **/*.py).
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
}

// Validate checks the recipe can be applied idempotently.
func (r Recipe) Validate() error {
	switch {
	case strings.TrimSpace(r.ClassHeader) == "":
		return errkind.Errorf(errkind.Config, "patch recipe", "class header is empty")
	case strings.TrimSpace(r.Signature) == "":
		return errkind.Errorf(errkind.Config, "patch recipe", "signature is empty")
	case !strings.Contains(r.Method, r.Signature):
		// Without the signature in the inserted text a second run would insert again.
		return errkind.Errorf(errkind.Config, "patch recipe", "method does not contain signature %q", r.Signature)
	}
	return nil
}

// String identifies the recipe in logs.
func (r Recipe) String() string {
	return fmt.Sprintf("%s %s", strings.TrimSpace(r.ClassHeader), strings.TrimSpace(r.Signature))
}

// DefaultRecipe adds ImportItem.find_staged_or_pending, the lookup the
// import tests exercise.
func DefaultRecipe() Recipe {
	return Recipe{
		ClassHeader: "class ImportItem(web.storage):",
		Signature:   "def find_staged_or_pending(",
		Method: `@staticmethod
def find_staged_or_pending(identifiers, sources=("amazon", "idb")):
    """Find staged or pending import items whose ia_id matches the identifiers."""
    ia_ids = [
        f"{source}:{identifier}" for identifier in identifiers for source in sources
    ]
    query = (
        "SELECT * "
        "FROM import_item "
        "WHERE status IN ('staged', 'pending') "
        "AND ia_id IN $ia_ids"
    )
    return db.query(query, vars={'ia_ids': ia_ids})
`,
	}
}
