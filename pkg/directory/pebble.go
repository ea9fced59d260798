package directory

import (
	"context"
	"strings"

	"marketchat/pkg/apperr"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
)

// PebbleDirectory stores directory records pushed by the account and
// catalog services. It implements Accounts and Catalog.
type PebbleDirectory struct {
	st *store.Store
}

func NewPebble(st *store.Store) *PebbleDirectory {
	return &PebbleDirectory{st: st}
}

func (d *PebbleDirectory) load(key, what, id string, v any) error {
	if err := keys.ValidateID(id); err != nil {
		return apperr.NotFound(what, id)
	}
	if err := d.st.GetJSON(key, v); err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFound(what, id)
		}
		return err
	}
	return nil
}

func (d *PebbleDirectory) User(_ context.Context, id string) (*models.User, error) {
	var u models.User
	if err := d.load(keys.GenDirUserKey(id), "user", id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *PebbleDirectory) Company(_ context.Context, id string) (*models.Company, error) {
	var c models.Company
	if err := d.load(keys.GenDirCompanyKey(id), "company", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *PebbleDirectory) AgentLink(_ context.Context, agentID string) (*models.AgentLink, error) {
	var l models.AgentLink
	if err := d.load(keys.GenDirAgentKey(agentID), "agent link", agentID, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (d *PebbleDirectory) Product(_ context.Context, id string) (*models.ProductSnapshot, error) {
	var p models.ProductSnapshot
	if err := d.load(keys.GenDirProductKey(id), "product", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *PebbleDirectory) PutUser(_ context.Context, u *models.User) error {
	if err := keys.ValidateID(u.ID); err != nil {
		return apperr.Validation("id", err.Error())
	}
	if !u.Role.Valid() {
		return apperr.Validation("role", "unknown role "+string(u.Role))
	}
	if u.Role == models.RoleSeller && strings.TrimSpace(u.CompanyID) == "" {
		return apperr.Validation("company_id", "seller must own a company")
	}
	if err := d.st.SetJSON(keys.GenDirUserKey(u.ID), u); err != nil {
		return err
	}
	logger.Debug("directory_user_put", "user", u.ID, "role", u.Role)
	return nil
}

func (d *PebbleDirectory) PutCompany(_ context.Context, c *models.Company) error {
	if err := keys.ValidateID(c.ID); err != nil {
		return apperr.Validation("id", err.Error())
	}
	return d.st.SetJSON(keys.GenDirCompanyKey(c.ID), c)
}

func (d *PebbleDirectory) PutAgentLink(_ context.Context, l *models.AgentLink) error {
	if err := keys.ValidateID(l.AgentID); err != nil {
		return apperr.Validation("agent_id", err.Error())
	}
	if err := keys.ValidateID(l.CompanyID); err != nil {
		return apperr.Validation("company_id", err.Error())
	}
	if err := d.st.SetJSON(keys.GenDirAgentKey(l.AgentID), l); err != nil {
		return err
	}
	logger.Debug("directory_agent_put", "agent", l.AgentID, "company", l.CompanyID, "active", l.IsActive)
	return nil
}

func (d *PebbleDirectory) PutProduct(_ context.Context, p *models.ProductSnapshot) error {
	if err := keys.ValidateID(p.ID); err != nil {
		return apperr.Validation("id", err.Error())
	}
	if p.Price < 0 {
		return apperr.Validation("price", "price must not be negative")
	}
	return d.st.SetJSON(keys.GenDirProductKey(p.ID), p)
}

// DeleteProduct removes a catalog entry. Messages keep their snapshots.
func (d *PebbleDirectory) DeleteProduct(_ context.Context, id string) error {
	if err := keys.ValidateID(id); err != nil {
		return apperr.NotFound("product", id)
	}
	return d.st.Delete(keys.GenDirProductKey(id))
}
