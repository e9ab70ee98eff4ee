// Package referral maintains the sponsor links and the binary placement tree
// between users.
//
// Every user has at most one sponsor (the account that referred it) and two
// placement slots. A user placed in a slot must be sponsored by the slot's
// owner: placing an unsponsored user adopts the owner as sponsor. Neither
// graph may contain a cycle.
package referral

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"anzacash/internal/apperr"
	"anzacash/internal/auth"
	"anzacash/internal/lock"
	"anzacash/internal/logger"
	"anzacash/internal/models"
)

const DefaultMaxDepth = 1000

type Options struct {
	// RootID is the designated root ComputeLevel stops at. Zero means the
	// walk stops at the first user without a sponsor.
	RootID uint
	// MaxDepth bounds every walk along the sponsor or placement chain.
	MaxDepth int
}

type Service struct {
	store  Store
	locker lock.Locker
	opts   Options
}

func NewService(store Store, locker lock.Locker, opts Options) *Service {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Service{store: store, locker: locker, opts: opts}
}

type Profile struct {
	Username  string
	Email     string
	Password  string
	Phone     string
	Country   string
	FullName  string
	Role      models.Role
	SponsorID *uint
}

func (p *Profile) validate() error {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Role == "" {
		p.Role = models.RoleCustomer
	}
	switch {
	case p.Username == "":
		return apperr.New(apperr.KindValidation, "username is required")
	case len(p.Password) < 8:
		return apperr.New(apperr.KindValidation, "password must be at least 8 characters long")
	case !p.Role.Valid():
		return apperr.New(apperr.KindValidation, "unknown role %q", p.Role)
	}
	if addr, err := mail.ParseAddress(p.Email); err != nil || addr.Address != p.Email {
		return apperr.New(apperr.KindValidation, "invalid email")
	}
	return nil
}

// graphKey guards every change to sponsor links or placement slots. The
// cycle check walks chains far beyond the two users being linked, so the
// whole graph is held while it runs.
const graphKey = "referral:graph"

func userKey(id uint) string {
	return "user:" + strconv.FormatUint(uint64(id), 10)
}

// CreateUser registers an account without placement links. The optional
// sponsor is linked in the same insert; a user that did not exist before
// cannot be an ancestor of anyone, so no cycle check is needed.
func (s *Service) CreateUser(ctx context.Context, p Profile) (*models.User, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.SponsorID != nil {
		if _, err := s.store.Get(ctx, *p.SponsorID); err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.New(apperr.KindInvalidReference, "sponsor %d does not exist", *p.SponsorID)
			}
			return nil, err
		}
	}

	usernameTaken, emailTaken, err := s.store.Taken(ctx, p.Username, p.Email)
	if err != nil {
		return nil, err
	}
	switch {
	case usernameTaken:
		return nil, apperr.New(apperr.KindDuplicateUser, "username already exists")
	case emailTaken:
		return nil, apperr.New(apperr.KindDuplicateUser, "email already exists")
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &models.User{
		Username:     p.Username,
		Email:        p.Email,
		Phone:        p.Phone,
		Country:      p.Country,
		FullName:     p.FullName,
		Role:         p.Role,
		Status:       models.StatusActive,
		PasswordHash: hash,
		SponsorID:    p.SponsorID,
	}
	if err := s.store.Insert(ctx, u); err != nil {
		return nil, err
	}

	logger.Infof("user %d (%s) registered as %s", u.ID, u.Username, u.Role)
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return s.store.Get(ctx, id)
}

// Authenticate checks a username/password pair against an active account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	u, err := s.store.GetByUsername(ctx, username)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("check password of user %d: %w", u.ID, err)
	}
	if !ok || !u.Active() {
		return nil, apperr.ErrInvalidCredentials
	}
	return u, nil
}

// Deactivate flips the account to inactive. Users are never deleted.
func (s *Service) Deactivate(ctx context.Context, id uint) error {
	unlock, err := s.locker.Lock(ctx, userKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.InTx(ctx, func(st Store) error {
		u, err := st.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !u.Active() {
			return nil
		}
		return st.Update(ctx, id, "status", models.StatusInactive)
	})
}

// SetSponsor links userID to the account that referred it.
func (s *Service) SetSponsor(ctx context.Context, userID, sponsorID uint) error {
	if userID == sponsorID {
		return apperr.New(apperr.KindInvalidReference, "user %d cannot sponsor itself", userID)
	}

	unlock, err := s.locker.Lock(ctx, graphKey)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.InTx(ctx, func(st Store) error {
		u, err := st.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := st.Get(ctx, sponsorID); err != nil {
			return err
		}
		if u.SponsorID != nil && *u.SponsorID == sponsorID {
			return nil
		}

		if err := s.guardAncestor(ctx, st, sponsorID, userID); err != nil {
			return err
		}

		parent, err := st.ParentOf(ctx, userID)
		if err != nil {
			return err
		}
		if parent != nil && parent.ID != sponsorID {
			return apperr.New(apperr.KindInvalidReference,
				"user %d is placed under user %d and must keep it as sponsor", userID, parent.ID)
		}

		if err := st.Update(ctx, userID, "sponsor_id", sponsorID); err != nil {
			return err
		}
		logger.Infof("user %d sponsored by %d", userID, sponsorID)
		return nil
	})
}

// PlaceChild puts childID into the given slot of parentID.
func (s *Service) PlaceChild(ctx context.Context, parentID uint, side models.Side, childID uint) error {
	if !side.Valid() {
		return apperr.New(apperr.KindInvalidReference, "unknown side %q", side)
	}
	if parentID == childID {
		return apperr.New(apperr.KindInvalidReference, "user %d cannot be its own child", parentID)
	}

	unlock, err := s.locker.Lock(ctx, graphKey)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.InTx(ctx, func(st Store) error {
		parent, err := st.GetForUpdate(ctx, parentID)
		if err != nil {
			return err
		}
		child, err := st.GetForUpdate(ctx, childID)
		if err != nil {
			return err
		}

		if err := s.guardAncestor(ctx, st, parentID, childID); err != nil {
			return err
		}

		if current := parent.Child(side); current != nil {
			if *current == childID {
				return nil
			}
			return apperr.New(apperr.KindSlotOccupied,
				"%s slot of user %d already holds user %d", side, parentID, *current)
		}

		holder, err := st.ParentOf(ctx, childID)
		if err != nil {
			return err
		}
		if holder != nil {
			return apperr.New(apperr.KindInvalidReference,
				"user %d is already placed under user %d", childID, holder.ID)
		}

		switch {
		case child.SponsorID == nil:
			if err := st.Update(ctx, childID, "sponsor_id", parentID); err != nil {
				return err
			}
		case *child.SponsorID != parentID:
			return apperr.New(apperr.KindInvalidReference,
				"user %d is sponsored by %d and cannot be placed under %d", childID, *child.SponsorID, parentID)
		}

		if err := st.Update(ctx, parentID, side.Column(), childID); err != nil {
			return err
		}
		logger.Infof("user %d placed %s of %d", childID, side, parentID)
		return nil
	})
}

// guardAncestor fails with CycleDetected when candidate is reachable from
// start by following sponsor links or placement parents.
func (s *Service) guardAncestor(ctx context.Context, st Store, start, candidate uint) error {
	cycle := apperr.New(apperr.KindCycleDetected,
		"user %d is an ancestor of user %d", candidate, start)

	cur := &start
	for steps := 0; cur != nil; steps++ {
		if *cur == candidate {
			return cycle
		}
		if steps > s.opts.MaxDepth {
			return apperr.New(apperr.KindCycleDetected, "sponsor chain of user %d exceeds %d", start, s.opts.MaxDepth)
		}
		next, err := st.SponsorOf(ctx, *cur)
		if err != nil {
			return err
		}
		cur = next
	}

	id := start
	for steps := 0; ; steps++ {
		if id == candidate {
			return cycle
		}
		if steps > s.opts.MaxDepth {
			return apperr.New(apperr.KindCycleDetected, "placement chain of user %d exceeds %d", start, s.opts.MaxDepth)
		}
		parent, err := st.ParentOf(ctx, id)
		if err != nil {
			return err
		}
		if parent == nil {
			return nil
		}
		id = parent.ID
	}
}

// ComputeLevel returns the number of sponsor links between userID and the
// root, and refreshes the cached level column when it is stale.
func (s *Service) ComputeLevel(ctx context.Context, userID uint) (int, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return 0, err
	}

	level := 0
	if userID != s.opts.RootID {
		for cur := u.SponsorID; cur != nil; {
			level++
			if level > s.opts.MaxDepth {
				return 0, apperr.New(apperr.KindCycleDetected,
					"sponsor chain of user %d exceeds %d", userID, s.opts.MaxDepth)
			}
			if *cur == s.opts.RootID {
				break
			}
			cur, err = s.store.SponsorOf(ctx, *cur)
			if err != nil {
				return 0, err
			}
		}
	}

	if u.Level != level {
		if err := s.store.Update(ctx, userID, "level", level); err != nil {
			logger.Warningf("failed to cache level of user %d: %v", userID, err)
		}
	}
	return level, nil
}
