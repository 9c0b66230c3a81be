package domain

import (
	"regexp"
	"strings"
	"time"
)

const (
	MinExtrudeDepth     = 0.01
	MaxExtrudeDepth     = 1.0
	DefaultExtrudeDepth = 0.1

	MinBevelDepth     = 0.0
	MaxBevelDepth     = 0.1
	DefaultBevelDepth = 0.02
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Params are the validated knobs of one render.
type Params struct {
	Material     string
	ExtrudeDepth float64
	BevelDepth   float64
	Transparent  bool
	UserID       string
	JobID        string
	// Timeout of zero means the configured default.
	Timeout time.Duration
}

// Validate normalizes the material name and checks every range. maxTimeout
// bounds a caller-supplied timeout; zero disables the check.
func (p *Params) Validate(maxTimeout time.Duration) error {
	if p.Material == "" {
		p.Material = DefaultMaterial
	}
	m, ok := LookupMaterial(p.Material)
	if !ok {
		return Errorf(KindInvalidParameter, "Invalid material. Choose from: %s", strings.Join(MaterialNames(), ", "))
	}
	p.Material = m.Name

	if !inRange(p.ExtrudeDepth, MinExtrudeDepth, MaxExtrudeDepth) {
		return Errorf(KindInvalidParameter, "Extrude depth must be between %g and %g", MinExtrudeDepth, MaxExtrudeDepth)
	}
	if !inRange(p.BevelDepth, MinBevelDepth, MaxBevelDepth) {
		return Errorf(KindInvalidParameter, "Bevel depth must be between %g and %g", MinBevelDepth, MaxBevelDepth)
	}
	if p.UserID != "" && !idPattern.MatchString(p.UserID) {
		return Errorf(KindInvalidParameter, "Invalid user_id: use 1-64 letters, digits, '-' or '_'")
	}
	if p.JobID != "" && !idPattern.MatchString(p.JobID) {
		return Errorf(KindInvalidParameter, "Invalid job_id: use 1-64 letters, digits, '-' or '_'")
	}
	if p.Timeout < 0 {
		return Errorf(KindInvalidParameter, "Timeout must not be negative")
	}
	if maxTimeout > 0 && p.Timeout > maxTimeout {
		return Errorf(KindInvalidParameter, "Timeout must not exceed %d seconds", int(maxTimeout.Seconds()))
	}
	return nil
}

// inRange is false for NaN and infinities.
func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// ValidID reports whether s can be used as a user or job id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
