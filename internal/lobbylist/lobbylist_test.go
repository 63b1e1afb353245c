package lobbylist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFilterSortsAndJoins(t *testing.T) {
	assert.Equal(t, "starting,waiting", NormalizeFilter([]string{"waiting", "starting"}))
	assert.Equal(t, "", NormalizeFilter(nil))
	assert.Equal(t, "", NormalizeFilter([]string{"", " "}))
}

func TestParseFilterRoundTripsIntoStatuses(t *testing.T) {
	key, statuses := ParseFilter("starting, waiting")
	assert.Equal(t, "starting,waiting", key)
	assert.Equal(t, []string{"starting", "waiting"}, statuses)

	key, statuses = ParseFilter("")
	assert.Equal(t, "", key)
	assert.Nil(t, statuses)
}

func TestFilterMatchesEmptyMeansAll(t *testing.T) {
	assert.True(t, FilterMatches("", "inProgress"))
	assert.True(t, FilterMatches("starting,waiting", "waiting"))
	assert.False(t, FilterMatches("starting,waiting", "finished"))
}
