package referral

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anzacash/internal/apperr"
	"anzacash/internal/database"
	"anzacash/internal/models"
)

// Store is the user persistence the graph needs. Lookups of a missing user
// return apperr.ErrNotFound.
type Store interface {
	// InTx runs fn against a Store bound to a single transaction.
	InTx(ctx context.Context, fn func(Store) error) error
	Get(ctx context.Context, id uint) (*models.User, error)
	// GetForUpdate reads the row with an exclusive row lock where the
	// database supports it.
	GetForUpdate(ctx context.Context, id uint) (*models.User, error)
	GetMany(ctx context.Context, ids []uint) (map[uint]*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	Insert(ctx context.Context, u *models.User) error
	Update(ctx context.Context, id uint, column string, value any) error
	// SponsorOf returns the sponsor id of a user, nil for a root.
	SponsorOf(ctx context.Context, id uint) (*uint, error)
	// ParentOf returns the user holding id in one of its placement slots.
	ParentOf(ctx context.Context, id uint) (*models.User, error)
}

type GormStore struct {
	db       *gorm.DB
	rowLocks bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, rowLocks: database.SupportsRowLocks(db)}
}

func (s *GormStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, rowLocks: s.rowLocks})
	})
}

func notFound(err error, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.KindNotFound, "user %v not found", id)
	}
	return err
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, id)
	}
	return &u, nil
}

func (s *GormStore) GetForUpdate(ctx context.Context, id uint) (*models.User, error) {
	q := s.db.WithContext(ctx)
	if s.rowLocks {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var u models.User
	if err := q.First(&u, id).Error; err != nil {
		return nil, notFound(err, id)
	}
	return &u, nil
}

func (s *GormStore) GetMany(ctx context.Context, ids []uint) (map[uint]*models.User, error) {
	out := make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []*models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *GormStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err, username)
	}
	return &u, nil
}

func (s *GormStore) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	var usernameCount, emailCount int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&usernameCount).Error; err != nil {
		return false, false, err
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&emailCount).Error; err != nil {
		return false, false, err
	}
	return usernameCount > 0, emailCount > 0, nil
}

func (s *GormStore) Insert(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.New(apperr.KindDuplicateUser, "username or email already registered")
	}
	return err
}

func (s *GormStore) Update(ctx context.Context, id uint, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperr.New(apperr.KindInvalidReference, "user is already placed in another slot")
		}
		return fmt.Errorf("update %s of user %d: %w", column, id, res.Error)
	}
	return nil
}

func (s *GormStore) SponsorOf(ctx context.Context, id uint) (*uint, error) {
	var u models.User
	err := s.db.WithContext(ctx).Select("id", "sponsor_id").First(&u, id).Error
	if err != nil {
		return nil, notFound(err, id)
	}
	return u.SponsorID, nil
}

func (s *GormStore) ParentOf(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		Where("left_child_id = ? OR right_child_id = ?", id, id).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
