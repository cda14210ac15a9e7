package category

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/xzhHas/configflow/types"
)

// ErrMappingMismatch is returned when the watched collections and the
// category mapping do not cover exactly the same collections.
var ErrMappingMismatch = errors.New("category mapping does not match watched collections")

// MismatchError lists every collection present on only one side.
type MismatchError struct {
	Missing []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("missing configuration category for: %s", strings.Join(e.Missing, ","))
}

func (e *MismatchError) Is(target error) bool { return target == ErrMappingMismatch }

// Resolver maps a physical collection name to its configuration category.
// It is immutable once built.
type Resolver struct {
	categories  map[string]types.Category
	collections []string
}

// New validates that mapping covers watch exactly.
func New(mapping map[string]types.Category, watch []string) (*Resolver, error) {
	watched := make(map[string]struct{}, len(watch))
	for _, c := range watch {
		watched[c] = struct{}{}
	}
	var missing []string
	for c := range watched {
		if _, ok := mapping[c]; !ok {
			missing = append(missing, c)
		}
	}
	for c := range mapping {
		if _, ok := watched[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MismatchError{Missing: missing}
	}

	r := &Resolver{
		categories:  make(map[string]types.Category, len(mapping)),
		collections: make([]string, 0, len(watched)),
	}
	for c, cat := range mapping {
		r.categories[c] = cat
	}
	for c := range watched {
		r.collections = append(r.collections, c)
	}
	sort.Strings(r.collections)
	return r, nil
}

// FromConfig builds the resolver the bridge runs with: every known category
// must name its physical collection under [collections].
func FromConfig(cfg types.Config) (*Resolver, error) {
	mapping := make(map[string]types.Category)
	var absent []string
	for _, cat := range types.Categories() {
		physical := cfg.Collections[cat.String()]
		if physical == "" {
			absent = append(absent, "collections."+cat.String())
			continue
		}
		mapping[physical] = cat
	}
	if len(absent) > 0 {
		return nil, &types.MissingConfigError{Keys: absent}
	}
	return New(mapping, cfg.WatchedCollections())
}

// Resolve returns the category of collection. The second result is false only
// for collections that are not watched.
func (r *Resolver) Resolve(collection string) (types.Category, bool) {
	c, ok := r.categories[collection]
	return c, ok
}

// Collections returns the watched physical collection names, sorted.
func (r *Resolver) Collections() []string {
	return append([]string(nil), r.collections...)
}
