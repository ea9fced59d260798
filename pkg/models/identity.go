package models

// Role tags an account identity.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	// CompanyID is the company a seller owns; empty for buyers.
	CompanyID string `json:"company_id,omitempty"`
}

type Company struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// AgentLink ties a staff identity to the company it acts for.
type AgentLink struct {
	AgentID   string `json:"agent_id"`
	CompanyID string `json:"company_id"`
	IsActive  bool   `json:"is_active"`
}

// ProductSnapshot is the read-only view of a catalog product captured at
// message-send time.
type ProductSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasImage    bool   `json:"has_image"`
	Price       Money  `json:"price"`
	Unit        string `json:"unit"`
	CompanyName string `json:"company_name"`
}

// Sender is the denormalized sender identity attached to broadcast payloads.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u *User) AsSender() Sender {
	if u == nil {
		return Sender{}
	}
	return Sender{ID: u.ID, Name: u.Name, Email: u.Email}
}
