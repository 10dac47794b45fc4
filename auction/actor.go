package auction

// Role 是操作者的角色，由外部身分驗證提供
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RoleSystem   Role = "system"
)

// Actor 是執行操作的使用者或系統
type Actor struct {
	ID   string
	Role Role
}

// SystemActor 代表排程器等內部觸發者，不受擁有者檢查限制
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) canManage(auction Auction) bool {
	return a.Role == RoleSystem || a.Role == RoleBuyer && a.ID == auction.BuyerID
}
