package record

import (
	"slices"
	"time"
)

const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderShipped   = "shipped"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

var orderStatuses = []string{OrderPending, OrderPaid, OrderShipped, OrderDelivered, OrderCancelled}

type Product struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	SellerID    string    `json:"seller_id" gorm:"index"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category" gorm:"index"`
	ImageURL    string    `json:"image_url"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p Product) RecordID() string { return p.ID }
func (Product) TableName() string { return "products" }

func (p Product) Validate() error {
	switch {
	case p.ID == "":
		return invalid(p.TableName(), "missing id")
	case p.Name == "":
		return invalid(p.TableName(), "missing name")
	case p.Price < 0:
		return invalid(p.TableName(), "negative price")
	case p.Stock < 0:
		return invalid(p.TableName(), "negative stock")
	}
	return nil
}

type CartItem struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

func (c CartItem) RecordID() string { return c.ID }
func (CartItem) TableName() string { return "carts" }

func (c CartItem) Validate() error {
	switch {
	case c.ID == "":
		return invalid(c.TableName(), "missing id")
	case c.UserID == "" || c.ProductID == "":
		return invalid(c.TableName(), "missing user_id or product_id")
	case c.Quantity <= 0:
		return invalid(c.TableName(), "quantity must be positive")
	}
	return nil
}

type WishlistItem struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index"`
	ProductID string    `json:"product_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (w WishlistItem) RecordID() string { return w.ID }
func (WishlistItem) TableName() string { return "wishlists" }

func (w WishlistItem) Validate() error {
	if w.ID == "" {
		return invalid(w.TableName(), "missing id")
	}
	if w.UserID == "" || w.ProductID == "" {
		return invalid(w.TableName(), "missing user_id or product_id")
	}
	return nil
}

type Order struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"index"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	AddressID   string    `json:"address_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (o Order) RecordID() string { return o.ID }
func (Order) TableName() string { return "orders" }

func (o Order) Validate() error {
	switch {
	case o.ID == "":
		return invalid(o.TableName(), "missing id")
	case o.UserID == "":
		return invalid(o.TableName(), "missing user_id")
	case !slices.Contains(orderStatuses, o.Status):
		return invalid(o.TableName(), "unknown status "+o.Status)
	case o.TotalAmount < 0:
		return invalid(o.TableName(), "negative total")
	}
	return nil
}

type OrderItem struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	OrderID   string  `json:"order_id" gorm:"index"`
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

func (i OrderItem) RecordID() string { return i.ID }
func (OrderItem) TableName() string { return "order_items" }

func (i OrderItem) Validate() error {
	switch {
	case i.ID == "":
		return invalid(i.TableName(), "missing id")
	case i.OrderID == "" || i.ProductID == "":
		return invalid(i.TableName(), "missing order_id or product_id")
	case i.Quantity <= 0:
		return invalid(i.TableName(), "quantity must be positive")
	case i.Price < 0:
		return invalid(i.TableName(), "negative price")
	}
	return nil
}

type SellerProfile struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	UserID          string    `json:"user_id" gorm:"uniqueIndex"`
	ShopName        string    `json:"shop_name"`
	ShopDescription string    `json:"shop_description"`
	ShopLogo        string    `json:"shop_logo"`
	ShopBanner      string    `json:"shop_banner"`
	ContactEmail    string    `json:"contact_email"`
	ContactPhone    string    `json:"contact_phone"`
	Address         string    `json:"address"`
	City            string    `json:"city"`
	State           string    `json:"state"`
	ZipCode         string    `json:"zip_code"`
	Country         string    `json:"country"`
	IsVerified      bool      `json:"is_verified"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s SellerProfile) RecordID() string { return s.ID }
func (SellerProfile) TableName() string { return "seller_profiles" }

func (s SellerProfile) Validate() error {
	switch {
	case s.ID == "":
		return invalid(s.TableName(), "missing id")
	case s.UserID == "":
		return invalid(s.TableName(), "missing user_id")
	case s.ShopName == "":
		return invalid(s.TableName(), "missing shop_name")
	}
	return nil
}

type SearchEntry struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
}

func (s SearchEntry) RecordID() string { return s.ID }
func (SearchEntry) TableName() string { return "search_history" }

func (s SearchEntry) Validate() error {
	if s.ID == "" || s.UserID == "" {
		return invalid(s.TableName(), "missing id or user_id")
	}
	if s.Query == "" {
		return invalid(s.TableName(), "empty query")
	}
	return nil
}

type Address struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"index"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	AddressLine1 string    `json:"address_line_1" gorm:"column:address_line_1"`
	City         string    `json:"city"`
	Province     string    `json:"province"`
	Region       string    `json:"region"`
	Zip          string    `json:"zip"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a Address) RecordID() string { return a.ID }
func (Address) TableName() string { return "addresses" }

func (a Address) Validate() error {
	switch {
	case a.ID == "" || a.UserID == "":
		return invalid(a.TableName(), "missing id or user_id")
	case a.Name == "":
		return invalid(a.TableName(), "missing name")
	case a.AddressLine1 == "":
		return invalid(a.TableName(), "missing address_line_1")
	}
	return nil
}

// UserProfile is keyed by the user id itself.
type UserProfile struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p UserProfile) RecordID() string { return p.ID }
func (UserProfile) TableName() string { return "profiles" }

func (p UserProfile) Validate() error {
	if p.ID == "" {
		return invalid(p.TableName(), "missing id")
	}
	return nil
}
