package certify

import (
	"fmt"
	"sort"
	"sync"

	"certtrace/internal/logging"
)

// Registry owns configuration versions and safety cases. It is the
// configuration layer's explicit store: constructed once and passed
// by reference, never global.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*ConfigVersion
	cases    map[string]*SafetyCase
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string]*ConfigVersion),
		cases:    make(map[string]*SafetyCase),
	}
}

// CreateVersion registers a new draft version derived from
// baseVersion. An empty baseVersion starts from an empty config; a
// named base must exist and its component map is copied.
func (r *Registry) CreateVersion(version, baseVersion string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[version]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, version)
	}

	cfg := make(map[string]string)
	if baseVersion != "" {
		base, ok := r.versions[baseVersion]
		if !ok {
			return fmt.Errorf("%w: base %s", ErrUnknownVersion, baseVersion)
		}
		for k, v := range base.Config {
			cfg[k] = v
		}
	}

	r.versions[version] = &ConfigVersion{
		Version:     version,
		BaseVersion: baseVersion,
		Config:      cfg,
		Status:      StatusDraft,
	}
	logging.Certify("created version %s (base %q)", version, baseVersion)
	return nil
}

// SetComponent edits one component entry of a version. Every edit
// bumps the revision counter; an in-flight gate evaluation becomes
// stale. Editing a certified version is an invalid transition — it
// must be revoked by a change first.
func (r *Registry) SetComponent(version, component, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	if v.Status == StatusCertified {
		return fmt.Errorf("%w: cannot edit certified version %s", ErrInvalidTransition, version)
	}
	v.Config[component] = value
	v.Revision++
	return nil
}

// Version returns a copy of the named version.
func (r *Registry) Version(version string) (ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[version]
	if !ok {
		return ConfigVersion{}, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return copyVersion(v), nil
}

// Versions returns copies of all versions, ordered by version id.
func (r *Registry) Versions() []ConfigVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.versions))
	for id := range r.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ConfigVersion, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyVersion(r.versions[id]))
	}
	return out
}

// CreateSafetyCase registers a draft safety case and links it to the
// given version.
func (r *Registry) CreateSafetyCase(id, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cases[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	v, ok := r.versions[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	r.cases[id] = &SafetyCase{
		ID:       id,
		Version:  version,
		Evidence: make(map[string][]string),
		Status:   CaseDraft,
	}
	v.SafetyCaseID = id
	v.Revision++
	return nil
}

// AddCaseEvidence appends an evidence reference under a category.
func (r *Registry) AddCaseEvidence(caseID, category, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.cases[caseID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCase, caseID)
	}
	sc.Evidence[category] = append(sc.Evidence[category], ref)
	return nil
}

// ApproveSafetyCase approves a case. Approval requires every required
// evidence category to be present with at least one reference.
func (r *Registry) ApproveSafetyCase(caseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.cases[caseID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCase, caseID)
	}
	if missing := sc.MissingEvidence(); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrEvidenceMissing, missing)
	}
	sc.Status = CaseApproved
	logging.Certify("approved safety case %s for version %s", caseID, sc.Version)
	return nil
}

// SafetyCase returns a copy of the named case.
func (r *Registry) SafetyCase(id string) (SafetyCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sc, ok := r.cases[id]
	if !ok {
		return SafetyCase{}, fmt.Errorf("%w: %s", ErrUnknownCase, id)
	}
	return copyCase(sc), nil
}

// SafetyCases returns copies of all cases, ordered by id.
func (r *Registry) SafetyCases() []SafetyCase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.cases))
	for id := range r.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]SafetyCase, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyCase(r.cases[id]))
	}
	return out
}

// RevokeTouching revokes certification of every certified version
// whose config references any touched component id. This is the only
// path by which a certified version regresses. Implements the
// propagator's revoker contract.
func (r *Registry) RevokeTouching(componentIDs []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string]bool, len(componentIDs))
	for _, id := range componentIDs {
		touched[id] = true
	}

	var revoked []string
	for _, v := range r.versions {
		if v.Status != StatusCertified {
			continue
		}
		for component := range v.Config {
			if touched[component] {
				v.Status = StatusChangesPending
				v.Verified = false
				v.Revision++
				revoked = append(revoked, v.Version)
				logging.CertifyWarn("revoked certification of %s: component %s changed", v.Version, component)
				break
			}
		}
	}
	sort.Strings(revoked)
	return revoked
}

func copyVersion(v *ConfigVersion) ConfigVersion {
	out := *v
	out.Config = make(map[string]string, len(v.Config))
	for k, val := range v.Config {
		out.Config[k] = val
	}
	return out
}

func copyCase(sc *SafetyCase) SafetyCase {
	out := *sc
	out.Evidence = make(map[string][]string, len(sc.Evidence))
	for k, refs := range sc.Evidence {
		out.Evidence[k] = append([]string(nil), refs...)
	}
	return out
}
