// Package listing implements the community boards: feed posts, housing,
// marketplace, jobs, local services and academic resources. All of them
// share one table and one set of operations, parametrized by Kind.
package listing

import "sort"

// Kind describes one board.
type Kind struct {
	Name string

	RequireTitle    bool
	RequirePrice    bool
	RequireLocation bool

	// Attributes lists the accepted keys of Listing.Attributes.
	Attributes []string

	// Moderated kinds are created pending and shown once approved.
	Moderated bool

	// HideContact strips the contact field for viewers who are neither
	// verified nor the owner.
	HideContact bool
}

const (
	KindPost        = "post"
	KindHousing     = "housing"
	KindMarketplace = "marketplace"
	KindJob         = "job"
	KindService     = "service"
	KindResource    = "resource"
)

var kinds = map[string]Kind{
	KindPost: {
		Name:       KindPost,
		Attributes: []string{"tag"},
	},
	KindHousing: {
		Name:            KindHousing,
		RequireTitle:    true,
		RequirePrice:    true,
		RequireLocation: true,
		Attributes:      []string{"bedrooms", "bathrooms", "room_type", "available_from", "furnished", "gender_preference"},
		Moderated:       true,
		HideContact:     true,
	},
	KindMarketplace: {
		Name:         KindMarketplace,
		RequireTitle: true,
		RequirePrice: true,
		Attributes:   []string{"category", "condition"},
		HideContact:  true,
	},
	KindJob: {
		Name:         KindJob,
		RequireTitle: true,
		Attributes:   []string{"company", "employment_type", "salary", "apply_url", "deadline", "remote"},
		Moderated:    true,
	},
	KindService: {
		Name:         KindService,
		RequireTitle: true,
		Attributes:   []string{"category", "hours", "website", "discount"},
		Moderated:    true,
	},
	KindResource: {
		Name:         KindResource,
		RequireTitle: true,
		Attributes:   []string{"course", "subject", "resource_type", "url"},
	},
}

// Lookup returns the kind named name.
func Lookup(name string) (Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// Kinds returns every kind name in alphabetical order.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (k Kind) allows(attr string) bool {
	for _, a := range k.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}
