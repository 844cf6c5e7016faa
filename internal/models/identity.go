package models

import "fmt"

// Identity is what a request knows about its caller: the anonymous buyer
// token from the cookie and, once authenticated, the user id (0 when anonymous).
type Identity struct {
	BuyerID string
	UserID  int64
}

func (id Identity) Authenticated() bool {
	return id.UserID != 0
}

// Key picks the cart key the identity resolves to first.
func (id Identity) Key() CartKey {
	if id.Authenticated() {
		return UserKey(id.UserID)
	}
	return AnonymousKey(id.BuyerID)
}

type cartKeyKind uint8

const (
	cartKeyAnonymous cartKeyKind = iota + 1
	cartKeyUser
)

// CartKey identifies exactly one cart: either the anonymous cart of a buyer
// token or the cart of a user.
type CartKey struct {
	kind    cartKeyKind
	buyerID string
	userID  int64
}

func AnonymousKey(buyerID string) CartKey {
	return CartKey{kind: cartKeyAnonymous, buyerID: buyerID}
}

func UserKey(userID int64) CartKey {
	return CartKey{kind: cartKeyUser, userID: userID}
}

func (k CartKey) IsUser() bool { return k.kind == cartKeyUser }

func (k CartKey) BuyerID() string { return k.buyerID }

func (k CartKey) UserID() int64 { return k.userID }

func (k CartKey) String() string {
	if k.IsUser() {
		return fmt.Sprintf("user:%d", k.userID)
	}
	return "anonymous:" + k.buyerID
}
