package certify

import "fmt"

// Restore rebuilds a registry from persisted versions and cases.
func Restore(versions []ConfigVersion, cases []SafetyCase) (*Registry, error) {
	r := NewRegistry()
	for _, v := range versions {
		if _, ok := r.versions[v.Version]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, v.Version)
		}
		vc := copyVersion(&v)
		r.versions[v.Version] = &vc
	}
	for _, sc := range cases {
		if _, ok := r.cases[sc.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, sc.ID)
		}
		if _, ok := r.versions[sc.Version]; !ok {
			return nil, fmt.Errorf("%w: %s (required by case %s)", ErrUnknownVersion, sc.Version, sc.ID)
		}
		cc := copyCase(&sc)
		if cc.Evidence == nil {
			cc.Evidence = make(map[string][]string)
		}
		r.cases[sc.ID] = &cc
	}
	return r, nil
}
