// =============================================================================
// Payment Import - Loan Resolver
// =============================================================================
//
// This module links payment rows to loan accounts.
//
// PROCESS:
//   1. Collect the distinct identities of the rows that were not looked up yet
//   2. Query the loan service once per identity (never once per row)
//   3. Keep only loans in an active servicing state
//   4. Store the list under every alias of the identity (V12345678 and
//      V-12345678 resolve identically)
//   5. Hand the set to the target, which applies the classification below
//
// CLASSIFICATION:
//   0 candidates  -> None       row may commit without a loan, with a warning
//   1 candidate   -> Unique     loan id auto-assigned unless already explicit
//   >1 candidates -> Ambiguous  operator must select a loan before commit
//
// =============================================================================

package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/normalize"
	"github.com/ginjaninja78/payment-import/internal/types"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Resolution is the policy applied to a row given its candidate count.
type Resolution int

const (
	// None: commit allowed without a loan; the operator is warned.
	None Resolution = iota
	// Unique: the single candidate is auto-assigned.
	Unique
	// Ambiguous: a loan must be selected before commit.
	Ambiguous
)

func (r Resolution) String() string {
	switch r {
	case None:
		return "none"
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// Classify maps a candidate count onto exactly one Resolution. Negative
// counts are treated as zero.
func Classify(n int) Resolution {
	switch {
	case n <= 0:
		return None
	case n == 1:
		return Unique
	default:
		return Ambiguous
	}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// LoanLookup fetches the loans of one account holder. identity is passed in
// hyphenated form ("V-12345678").
type LoanLookup interface {
	LoansByIdentity(ctx context.Context, identity string) ([]types.Loan, error)
}

// Target receives resolution results; *session.Session implements it.
type Target interface {
	// PendingIdentities returns the canonical identities with no entry in the
	// target's candidate set yet.
	PendingIdentities() []string

	// ApplyCandidates merges set into the target. failures holds identities
	// whose lookup failed, keyed by canonical identity.
	ApplyCandidates(set types.LoanCandidateSet, failures map[string]error)
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver fetches and filters loan candidates.
type Resolver struct {
	lookup LoanLookup
	active map[string]struct{}
	log    *logger.Logger
}

// New creates a Resolver that keeps only loans whose status is in
// activeStates (compared case-insensitively).
func New(lookup LoanLookup, activeStates []string) *Resolver {
	active := make(map[string]struct{}, len(activeStates))
	for _, s := range activeStates {
		active[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return &Resolver{
		lookup: lookup,
		active: active,
		log:    logger.Named("resolver"),
	}
}

// Fetch looks up each distinct identity once.
//
// PARAMETERS:
//   - ctx: Bounds the remote calls. Cancellation stops before the next call.
//   - identities: Raw or canonical identities; duplicates and aliases of the
//     same identity are collapsed.
//
// RETURNS:
//   - The candidate set, with an entry (possibly empty) under every alias of
//     every identity whose lookup succeeded.
//   - The lookup failures keyed by canonical identity.
func (r *Resolver) Fetch(ctx context.Context, identities []string) (types.LoanCandidateSet, map[string]error) {
	set := make(types.LoanCandidateSet)
	failures := make(map[string]error)
	seen := make(map[string]struct{})

	for _, raw := range identities {
		aliases := normalize.IdentityAliases(raw)
		if len(aliases) == 0 {
			continue
		}
		canonical := aliases[0]
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}

		if err := ctx.Err(); err != nil {
			failures[canonical] = err
			continue
		}

		loans, err := r.lookup.LoansByIdentity(ctx, normalize.Hyphenated(canonical))
		if err != nil {
			r.log.Warn().Err(err).Str("identity", canonical).Msg("loan lookup failed")
			failures[canonical] = err
			continue
		}

		kept := r.filterActive(loans)
		for _, alias := range aliases {
			set[alias] = kept
		}
		r.log.Debug().
			Str("identity", canonical).
			Int("returned", len(loans)).
			Int("active", len(kept)).
			Str("resolution", Classify(len(kept)).String()).
			Msg("loans resolved")
	}
	return set, failures
}

// Resolve fetches candidates for the target's pending identities and applies
// them. Identities already resolved are not looked up again.
func (r *Resolver) Resolve(ctx context.Context, t Target) {
	pending := t.PendingIdentities()
	if len(pending) == 0 {
		return
	}
	set, failures := r.Fetch(ctx, pending)
	t.ApplyCandidates(set, failures)
}

func (r *Resolver) filterActive(loans []types.Loan) []types.Loan {
	kept := make([]types.Loan, 0, len(loans))
	for _, l := range loans {
		if _, ok := r.active[strings.ToLower(strings.TrimSpace(l.Status))]; ok {
			kept = append(kept, l)
		}
	}
	return kept
}
