// Package remediation repairs missing test dependencies in a bounded loop.
package remediation

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/verifix/pkg/models"
)

// Policy is the fixed per-deployment repair applied to every missing dependency.
type Policy string

const (
	// PolicyInstall installs the package.
	PolicyInstall Policy = "install"
	// PolicyReinstall uninstalls then installs the package.
	PolicyReinstall Policy = "reinstall"
	// PolicyStub creates an empty placeholder module inside the repository.
	PolicyStub Policy = "stub"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyInstall, PolicyReinstall, PolicyStub:
		return p, nil
	default:
		return "", fmt.Errorf("unknown remediation policy %q (want install, reinstall or stub)", s)
	}
}

// Action maps the policy onto the action recorded for an attempt.
func (p Policy) Action() models.ActionKind {
	switch p {
	case PolicyReinstall:
		return models.ActionReinstall
	case PolicyStub:
		return models.ActionStubCreated
	default:
		return models.ActionInstall
	}
}

// PackageName maps a dotted module name onto the package to install.
// An alias for the full module wins over one for its top-level segment.
func PackageName(module string, aliases map[string]string) string {
	if pkg, ok := aliases[module]; ok && pkg != "" {
		return pkg
	}
	top, _, _ := strings.Cut(module, ".")
	if pkg, ok := aliases[top]; ok && pkg != "" {
		return pkg
	}
	return top
}
