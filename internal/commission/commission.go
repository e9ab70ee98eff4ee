// Package commission records payments and credits the payer's sponsor with
// a referral commission.
package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"anzacash/internal/apperr"
	"anzacash/internal/logger"
	"anzacash/internal/models"
	"anzacash/internal/notify"
)

const maxReferenceLen = 64

type Service struct {
	db       *gorm.DB
	rate     decimal.Decimal
	notifier notify.Notifier
}

func NewService(db *gorm.DB, rate decimal.Decimal, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{db: db, rate: rate, notifier: notifier}
}

// Receipt describes a recorded payment. Duplicate is set when the reference
// had already been recorded and nothing changed.
type Receipt struct {
	Payment    models.Payment              `json:"payment"`
	Commission *models.ReferralTransaction `json:"commission,omitempty"`
	Duplicate  bool                        `json:"duplicate"`
}

// RecordPayment stores a successful payment by userID, tops up the payer's
// balance and credits the commission to an active sponsor, all in one
// transaction. An empty reference gets a generated one. Recording the same
// reference again returns the original receipt.
func (s *Service) RecordPayment(ctx context.Context, userID uint, amount decimal.Decimal, reference string) (*Receipt, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "amount must be positive")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = uuid.NewString()
	}
	if len(reference) > maxReferenceLen {
		return nil, apperr.New(apperr.KindValidation, "payment reference longer than %d characters", maxReferenceLen)
	}

	if r, err := s.existing(ctx, userID, reference); r != nil || err != nil {
		return r, err
	}

	receipt := &Receipt{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "user %d not found", userID)
			}
			return err
		}
		if !user.Active() {
			return apperr.New(apperr.KindValidation, "user %d is inactive", userID)
		}

		payment := models.Payment{
			UserID:    user.ID,
			Amount:    amount,
			Status:    models.PaymentSucceeded,
			Reference: reference,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		if err := credit(tx, user.ID, amount); err != nil {
			return err
		}
		receipt.Payment = payment

		if user.SponsorID == nil {
			return nil
		}
		bonus := amount.Mul(s.rate).Round(2)
		if !bonus.IsPositive() {
			return nil
		}

		var sponsor models.User
		if err := tx.First(&sponsor, *user.SponsorID).Error; err != nil {
			return fmt.Errorf("load sponsor %d: %w", *user.SponsorID, err)
		}
		if !sponsor.Active() {
			logger.Infof("Sponsor %d is inactive, no commission for payment %s", sponsor.ID, reference)
			return nil
		}
		if err := credit(tx, sponsor.ID, bonus); err != nil {
			return err
		}

		rt := models.ReferralTransaction{
			SponsorID: sponsor.ID,
			UserID:    user.ID,
			PaymentID: payment.ID,
			Amount:    bonus,
		}
		if err := tx.Create(&rt).Error; err != nil {
			return err
		}
		receipt.Commission = &rt
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent call recorded the same reference first.
		r, lookupErr := s.existing(ctx, userID, reference)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if r != nil {
			return r, nil
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Infof("Payment %s of %s recorded for user %d", reference, amount, userID)
	if c := receipt.Commission; c != nil {
		msg := fmt.Sprintf("Referral commission %s credited to user %d for payment %s by user %d",
			c.Amount.StringFixed(2), c.SponsorID, reference, userID)
		if err := s.notifier.Notify(ctx, msg); err != nil {
			logger.Warningf("Failed to send commission notification: %v", err)
		}
	}
	return receipt, nil
}

func credit(tx *gorm.DB, userID uint, amount decimal.Decimal) error {
	return tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

// existing returns the receipt of an already recorded reference, or nil.
func (s *Service) existing(ctx context.Context, userID uint, reference string) (*Receipt, error) {
	db := s.db.WithContext(ctx)

	var payment models.Payment
	if err := db.Where("reference = ?", reference).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if payment.UserID != userID {
		return nil, apperr.New(apperr.KindValidation, "payment reference %q belongs to another user", reference)
	}

	receipt := &Receipt{Payment: payment, Duplicate: true}
	var rt models.ReferralTransaction
	err := db.Where("payment_id = ?", payment.ID).First(&rt).Error
	switch {
	case err == nil:
		receipt.Commission = &rt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return receipt, nil
}

// Commissions lists the commissions credited to sponsorID, oldest first.
func (s *Service) Commissions(ctx context.Context, sponsorID uint) ([]models.ReferralTransaction, error) {
	var out []models.ReferralTransaction
	if err := s.db.WithContext(ctx).
		Where("sponsor_id = ?", sponsorID).
		Order("id").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
