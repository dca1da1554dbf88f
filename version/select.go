package version

import (
	"fmt"
	"strings"

	"factorio-server-manager/domain"
)

// Candidate is the view of a game release the selector needs.
type Candidate struct {
	Version  string
	Flavor   domain.BuildFlavor
	Platform domain.Platform
	// Ref lets callers map the selection back to their own record.
	Ref any
}

// Select picks one candidate for approx:
//  1. keep candidates whose version has approx as a prefix,
//  2. group by exact version,
//  3. keep groups comparing equal to approx,
//  4. take the highest group,
//  5. pick the (flavor, platform) entry inside it.
//
// Groups that compare equal to each other (for example "1.0" and "1.0.0")
// tie; which one wins is unspecified.
func Select(candidates []Candidate, approx string, flavor domain.BuildFlavor, platform domain.Platform) (Candidate, error) {
	groups := make(map[string][]Candidate)
	for _, c := range candidates {
		if !strings.HasPrefix(c.Version, approx) {
			continue
		}
		groups[c.Version] = append(groups[c.Version], c)
	}

	best := ""
	for v := range groups {
		if Compare(v, approx) != 0 {
			continue
		}
		if best == "" || Compare(v, best) > 0 {
			best = v
		}
	}
	if best == "" {
		return Candidate{}, fmt.Errorf("%w for %s", domain.ErrNoMatchingVersion, approx)
	}

	for _, c := range groups[best] {
		if c.Flavor == flavor && c.Platform == platform {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w for %s (%s %s)", domain.ErrNoMatchingVersion, best, flavor, platform)
}
