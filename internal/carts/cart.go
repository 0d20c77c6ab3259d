package carts

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Item is a product line in a user's cart.
type Item struct {
	ProductID string  `bson:"productId" json:"productId"`
	Name      string  `bson:"name" json:"name"`
	Image     string  `bson:"image,omitempty" json:"image,omitempty"`
	Price     float64 `bson:"price" json:"price"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Size      string  `bson:"size,omitempty" json:"size,omitempty"`
	Color     string  `bson:"color,omitempty" json:"color,omitempty"`
}

// Cart is the per-user cart document owned by the storefront cart service,
// which keys it by the user's ObjectId.
type Cart struct {
	UserID     primitive.ObjectID `bson:"user"`
	Products   []Item             `bson:"products"`
	TotalPrice float64            `bson:"totalPrice"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}
