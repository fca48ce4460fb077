package crm

import (
	"context"
	"fmt"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// StatusResponded is the terminal membership status of a synced action.
const StatusResponded = "Responded"

// Membership links one identity to one campaign.
type Membership struct {
	ID         string
	CampaignID string
	Identity   domain.IdentityRef
	Status     string
	Created    bool
}

// Associator finds or creates campaign memberships.
type Associator struct {
	client Client
}

// NewAssociator builds an associator.
func NewAssociator(client Client) *Associator {
	return &Associator{client: client}
}

// Associate marks identity as having responded to the campaign. Repeated
// calls converge on a single Responded membership.
func (a *Associator) Associate(ctx context.Context, campaignID string, identity domain.IdentityRef) (Membership, error) {
	if err := identity.Validate(); err != nil {
		return Membership{}, err
	}
	if campaignID == "" {
		return Membership{}, domain.Logic(fmt.Errorf("membership for %s has no campaign", identity))
	}

	membership, found, err := a.respondExisting(ctx, campaignID, identity)
	if err != nil || found {
		return membership, err
	}

	fields := Record{"CampaignId": campaignID, "Status": StatusResponded}
	fields[memberField(identity)] = identity.ID()
	result, err := a.client.Create(ctx, ObjectCampaignMember, fields)
	if err != nil {
		return Membership{}, fmt.Errorf("create membership: %w", err)
	}
	if !result.Success {
		if !result.Errors.Duplicate() {
			return Membership{}, result.Err("create membership")
		}
		// A concurrent delivery created it first.
		membership, found, err = a.respondExisting(ctx, campaignID, identity)
		if err != nil {
			return Membership{}, err
		}
		if !found {
			return Membership{}, domain.Transient(fmt.Errorf("membership %s/%s reported duplicate but was not found", campaignID, identity))
		}
		return membership, nil
	}
	return Membership{
		ID:         result.ID,
		CampaignID: campaignID,
		Identity:   identity,
		Status:     StatusResponded,
		Created:    true,
	}, nil
}

// respondExisting updates the membership to Responded when one exists.
func (a *Associator) respondExisting(ctx context.Context, campaignID string, identity domain.IdentityRef) (Membership, bool, error) {
	where := []Match{
		{Field: "CampaignId", Value: campaignID},
		{Field: memberField(identity), Value: identity.ID()},
	}
	records, err := a.client.Find(ctx, ObjectCampaignMember, where, []string{"Id", "Status"})
	if err != nil {
		return Membership{}, false, fmt.Errorf("find membership: %w", err)
	}
	if len(records) == 0 {
		return Membership{}, false, nil
	}

	id := records[0].ID()
	result, err := a.client.Update(ctx, ObjectCampaignMember, id, Record{"Status": StatusResponded})
	if err != nil {
		return Membership{}, false, fmt.Errorf("update membership %s: %w", id, err)
	}
	if err := result.Err(fmt.Sprintf("update membership %s", id)); err != nil {
		return Membership{}, false, err
	}
	return Membership{
		ID:         id,
		CampaignID: campaignID,
		Identity:   identity,
		Status:     StatusResponded,
	}, true, nil
}

func memberField(identity domain.IdentityRef) string {
	if identity.Kind() == domain.IdentityLead {
		return "LeadId"
	}
	return "ContactId"
}
