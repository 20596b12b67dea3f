package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"
)

// User is a garage customer. Billing-relevant linkage to the payment
// provider (customer id, default payment method) lives here and is kept in
// sync by the customer / payment-method webhook handlers.
type User struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"type:varchar(150)" json:"name"`
	Email              string         `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	Phone              string         `gorm:"type:varchar(30);default:null" json:"phone,omitempty"`
	Role               string         `gorm:"type:varchar(50);default:'user'" json:"role"`
	StripeCustomerID   string         `gorm:"type:varchar(191);default:null;index:ux_users_stripe_customer,unique" json:"stripe_customer_id,omitempty"`
	PaymentMethodID    string         `gorm:"type:varchar(191);default:null" json:"-"`
	PaymentMethodBrand string         `gorm:"type:varchar(30);default:null" json:"payment_method_brand,omitempty"`
	PaymentMethodLast4 string         `gorm:"type:varchar(4);default:null" json:"payment_method_last4,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}
