package model

// Roles carried in the identity token's role claim.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)
