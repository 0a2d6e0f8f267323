package deps

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/fatih/color"
)

// Checker verifies that external tools are available.
type Checker struct {
	dependencies []string
	lookPath     func(string) (string, error)
}

// NewChecker creates a new dependency checker. Each dependency is a command
// name looked up in PATH, or a path to an executable.
func NewChecker(deps ...string) *Checker {
	return &Checker{dependencies: deps, lookPath: exec.LookPath}
}

// CheckAll verifies all dependencies are available.
// Returns an error listing all missing dependencies.
func (c *Checker) CheckAll() error {
	var missing []string

	for _, dep := range c.dependencies {
		if !c.IsAvailable(dep) {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}

	return nil
}

// IsAvailable checks if a single dependency can be executed.
func (c *Checker) IsAvailable(name string) bool {
	_, err := c.lookPath(name)
	return err == nil
}

// CheckAndPrint checks all dependencies and writes one coloured status line
// per dependency to w. Returns error if any dependency is missing.
func (c *Checker) CheckAndPrint(w io.Writer) error {
	var missing []string

	ok := color.New(color.FgGreen).Sprint("OK")
	bad := color.New(color.FgRed).Sprint("MISSING")

	for _, dep := range c.dependencies {
		if path, err := c.lookPath(dep); err == nil {
			fmt.Fprintf(w, "  %-8s %s (%s)\n", ok, dep, path)
		} else {
			fmt.Fprintf(w, "  %-8s '%s' not found in PATH\n", bad, dep)
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		fmt.Fprintf(w, "  Install %s and retry; uploads still work but conversions will fail.\n",
			strings.Join(missing, ", "))
		return &MissingDepsError{Dependencies: missing}
	}

	return nil
}

// MissingDepsError is returned when required dependencies are missing.
type MissingDepsError struct {
	Dependencies []string
}

func (e *MissingDepsError) Error() string {
	return fmt.Sprintf("missing dependencies: %v", e.Dependencies)
}
