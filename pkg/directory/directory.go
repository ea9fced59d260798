package directory

import (
	"context"
	"net/url"
	"path"
	"strings"

	"marketchat/pkg/models"
)

// Accounts resolves identities and agent links.
type Accounts interface {
	User(ctx context.Context, id string) (*models.User, error)
	Company(ctx context.Context, id string) (*models.Company, error)
	AgentLink(ctx context.Context, agentID string) (*models.AgentLink, error)
}

// Catalog provides product snapshots at send time.
type Catalog interface {
	Product(ctx context.Context, id string) (*models.ProductSnapshot, error)
}

// Files turns stored attachment paths into client URLs.
type Files interface {
	AttachmentURL(p string) string
}

// PublicFiles resolves attachment paths against a base URL. An empty base
// leaves paths untouched.
type PublicFiles struct {
	BaseURL string
}

func (f PublicFiles) AttachmentURL(p string) string {
	if f.BaseURL == "" || p == "" {
		return p
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return p
	}
	u.Path = path.Join(u.Path, strings.TrimPrefix(p, "/"))
	return u.String()
}
