package priority

import "github.com/harrisonrobin/tempo/pkg/keywords"

// DefaultEventPriority is the priority of an event whose title matches no rule.
const DefaultEventPriority = 1

// DefaultEventPriorities infers how committed a calendar event is from its title.
// Higher values are harder to move.
func DefaultEventPriorities() keywords.Table {
	return keywords.Table{
		{Keywords: keywords.Set{"session", "appel", "rdv", "rendez-vous", "client"}, Value: 5},
		{Keywords: keywords.Set{"business", "formation", "développement"}, Value: 4},
		{Keywords: keywords.Set{"déjeuner", "pause", "repos"}, Value: 3},
		{Keywords: keywords.Set{"personnel", "social"}, Value: 2},
		{Keywords: keywords.Set{"sport"}, Value: 6},
	}
}
