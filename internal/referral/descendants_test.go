package referral_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anzacash/internal/apperr"
	"anzacash/internal/models"
	"anzacash/internal/referral"
)

func usernames(users []*models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestDescendantsBreadthFirst(t *testing.T) {
	td := setupTest(t, referral.Options{})
	root := td.user(t, "root")
	a := td.user(t, "a")
	b := td.user(t, "b")
	c := td.user(t, "c")
	d := td.user(t, "d")
	r := td.user(t, "r")

	require.NoError(t, td.svc.PlaceChild(td.ctx, root, models.Left, a))
	require.NoError(t, td.svc.PlaceChild(td.ctx, a, models.Left, b))
	require.NoError(t, td.svc.PlaceChild(td.ctx, a, models.Right, c))
	require.NoError(t, td.svc.PlaceChild(td.ctx, root, models.Right, r))

	got, err := td.svc.CollectDescendants(td.ctx, root, models.Left, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, usernames(got))

	// Growing the tree between two ranges is visible to the second one.
	require.NoError(t, td.svc.PlaceChild(td.ctx, b, models.Left, d))
	got, err = td.svc.CollectDescendants(td.ctx, root, models.Left, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, usernames(got))

	got, err = td.svc.CollectDescendants(td.ctx, root, models.Right, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, usernames(got))

	got, err = td.svc.CollectDescendants(td.ctx, c, models.Left, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	t.Run("limit", func(t *testing.T) {
		got, err := td.svc.CollectDescendants(td.ctx, root, models.Left, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, usernames(got))
	})

	t.Run("early break", func(t *testing.T) {
		var seen []string
		for u, err := range td.svc.Descendants(td.ctx, root, models.Left) {
			require.NoError(t, err)
			seen = append(seen, u.Username)
			break
		}
		assert.Equal(t, []string{"a"}, seen)
	})
}

func TestDescendantsErrors(t *testing.T) {
	td := setupTest(t, referral.Options{})
	root := td.user(t, "root")
	a := td.user(t, "a")
	require.NoError(t, td.svc.PlaceChild(td.ctx, root, models.Left, a))

	_, err := td.svc.CollectDescendants(td.ctx, 999, models.Left, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = td.svc.CollectDescendants(td.ctx, root, "up", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidReference)

	// Corrupt the tree behind the service's back: a points back at root.
	require.NoError(t, td.db.Model(&models.User{}).Where("id = ?", a).Update("right_child_id", root).Error)
	_, err = td.svc.CollectDescendants(td.ctx, root, models.Left, 0)
	assert.ErrorIs(t, err, apperr.ErrCycleDetected)
}
