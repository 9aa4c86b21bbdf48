package devops

import (
	"context"
	"net/url"
	"strings"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Project is a team project reference.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	State       string `json:"state,omitempty"`
}

// Ref is the {id, name} pair most payloads use to point at another object.
type Ref struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Project resolves a project by name or id. Lookups are memoized per client.
func (c *Client) Project(ctx context.Context, nameOrID string) (*Project, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if key == "" {
		return nil, devopserrors.NewValidationError("project", "project is required", nil)
	}
	if cached, ok := c.projects.Get(key); ok {
		return cached.(*Project), nil
	}

	var project Project
	found, err := c.GetOptional(ctx, OrgPath("projects", nameOrID), nil, &project)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, devopserrors.NewNotFoundError("project", nameOrID, "")
	}
	c.projects.Add(key, &project)
	return &project, nil
}

// Identity is an entry from the identities search.
type Identity struct {
	ID                  string `json:"id"`
	ProviderDisplayName string `json:"providerDisplayName"`
	Properties          map[string]struct {
		Value string `json:"$value"`
	} `json:"properties,omitempty"`
}

// GraphUser is an entry from the graph users list.
type GraphUser struct {
	Descriptor    string `json:"descriptor"`
	DisplayName   string `json:"displayName"`
	MailAddress   string `json:"mailAddress"`
	PrincipalName string `json:"principalName"`
	OriginID      string `json:"originId"`
}

// FindIdentity searches identities by account name or mail and returns the
// first id. Returns NotFoundError when nothing matches.
func (c *Client) FindIdentity(ctx context.Context, account string) (string, error) {
	identities, err := List[Identity](ctx, c, Request{
		Path:     OrgPath("identities"),
		Query:    url.Values{"searchFilter": {"General"}, "filterValue": {account}},
		Identity: true,
	})
	if err != nil {
		return "", err
	}
	if len(identities) > 0 && identities[0].ID != "" {
		return identities[0].ID, nil
	}

	users, err := List[GraphUser](ctx, c, Request{
		Path:       OrgPath("graph", "users"),
		APIVersion: PreviewAPIVersion,
		Identity:   true,
	})
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if strings.EqualFold(u.MailAddress, account) || strings.EqualFold(u.PrincipalName, account) {
			if u.OriginID != "" {
				return u.OriginID, nil
			}
			return u.Descriptor, nil
		}
	}
	return "", devopserrors.NewNotFoundError("identity", account, "no identity or graph user matches")
}
