package referral

import (
	"context"
	"iter"

	"anzacash/internal/apperr"
	"anzacash/internal/models"
)

// Descendants yields the subtree hanging off the given slot of userID in
// breadth-first order, left before right within a level. Nothing is read
// until the sequence is ranged over, each range starts from scratch, and
// stopping early stops the queries. A lookup failure is yielded once as
// the final element.
func (s *Service) Descendants(ctx context.Context, userID uint, side models.Side) iter.Seq2[*models.User, error] {
	return func(yield func(*models.User, error) bool) {
		if !side.Valid() {
			yield(nil, apperr.New(apperr.KindInvalidReference, "unknown side %q", side))
			return
		}
		root, err := s.store.Get(ctx, userID)
		if err != nil {
			yield(nil, err)
			return
		}

		seen := map[uint]bool{root.ID: true}
		var frontier []uint
		if c := root.Child(side); c != nil {
			frontier = append(frontier, *c)
		}

		for depth := 0; len(frontier) > 0; depth++ {
			if depth > s.opts.MaxDepth {
				yield(nil, apperr.New(apperr.KindCycleDetected,
					"placement tree under user %d exceeds depth %d", userID, s.opts.MaxDepth))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			users, err := s.store.GetMany(ctx, frontier)
			if err != nil {
				yield(nil, err)
				return
			}

			var next []uint
			for _, id := range frontier {
				if seen[id] {
					yield(nil, apperr.New(apperr.KindCycleDetected,
						"user %d appears twice under user %d", id, userID))
					return
				}
				seen[id] = true

				u, ok := users[id]
				if !ok {
					yield(nil, apperr.New(apperr.KindNotFound,
						"placement tree references missing user %d", id))
					return
				}
				if !yield(u, nil) {
					return
				}
				if u.LeftChildID != nil {
					next = append(next, *u.LeftChildID)
				}
				if u.RightChildID != nil {
					next = append(next, *u.RightChildID)
				}
			}
			frontier = next
		}
	}
}

// CollectDescendants drains Descendants, stopping after limit users when
// limit is positive.
func (s *Service) CollectDescendants(ctx context.Context, userID uint, side models.Side, limit int) ([]*models.User, error) {
	var out []*models.User
	for u, err := range s.Descendants(ctx, userID, side) {
		if err != nil {
			return nil, err
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
