package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// Freshness selects whether a campaign lookup may be served from memory.
type Freshness int

const (
	// Cached serves a stored campaign without a remote call.
	Cached Freshness = iota
	// Fresh always asks the CRM and refreshes the stored campaign.
	Fresh
)

// DefaultCampaignType is the type given to campaigns the cache creates.
const DefaultCampaignType = "Proca online campaign"

// CampaignCache maps campaign names to CRM campaigns. It never evicts.
// Loads for one name are serialized; other names load independently.
type CampaignCache struct {
	client       Client
	campaignType string
	loadTimeout  time.Duration

	mu     sync.RWMutex
	byName map[string]Campaign
	loads  singleflight.Group
}

// NewCampaignCache builds a cache that creates missing campaigns with
// campaignType. loadTimeout bounds one find-or-create round, 0 disables it.
func NewCampaignCache(client Client, campaignType string, loadTimeout time.Duration) *CampaignCache {
	if strings.TrimSpace(campaignType) == "" {
		campaignType = DefaultCampaignType
	}
	return &CampaignCache{
		client:       client,
		campaignType: campaignType,
		loadTimeout:  loadTimeout,
		byName:       make(map[string]Campaign),
	}
}

func cacheKey(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Lookup returns the campaign named name, creating it when the CRM has none.
func (c *CampaignCache) Lookup(ctx context.Context, name string, mode Freshness) (Campaign, error) {
	key := cacheKey(name)
	if key == "" {
		return Campaign{}, domain.Validation(errors.New("campaign name is required"))
	}
	if mode == Cached {
		if campaign, ok := c.cached(key); ok {
			return campaign, nil
		}
	}

	// The load is shared by every caller waiting on the same name, so it
	// must outlive any one caller's cancellation.
	ch := c.loads.DoChan(key, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, c.loadTimeout)
			defer cancel()
		}
		campaign, err := c.load(loadCtx, name)
		if err != nil {
			return Campaign{}, err
		}
		c.store(key, campaign)
		return campaign, nil
	})

	select {
	case <-ctx.Done():
		return Campaign{}, domain.Transient(fmt.Errorf("lookup campaign %q: %w", key, ctx.Err()))
	case res := <-ch:
		if res.Err != nil {
			return Campaign{}, res.Err
		}
		return res.Val.(Campaign), nil
	}
}

// Len reports the number of cached campaigns.
func (c *CampaignCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}

func (c *CampaignCache) cached(key string) (Campaign, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	campaign, ok := c.byName[key]
	return campaign, ok
}

func (c *CampaignCache) store(key string, campaign Campaign) {
	c.mu.Lock()
	c.byName[key] = campaign
	c.mu.Unlock()
}

func (c *CampaignCache) load(ctx context.Context, name string) (Campaign, error) {
	campaign, found, err := c.find(ctx, name)
	if err != nil || found {
		return campaign, err
	}

	result, err := c.client.Create(ctx, ObjectCampaign, Record{"Name": name, "Type": c.campaignType})
	if err != nil {
		return Campaign{}, fmt.Errorf("create campaign %q: %w", name, err)
	}
	if !result.Success {
		if !result.Errors.Duplicate() {
			return Campaign{}, result.Err(fmt.Sprintf("create campaign %q", name))
		}
		// Another creator won; its row is what we want.
		campaign, found, err = c.find(ctx, name)
		if err != nil {
			return Campaign{}, err
		}
		if !found {
			return Campaign{}, domain.Transient(fmt.Errorf("campaign %q reported duplicate but was not found", name))
		}
		return campaign, nil
	}

	record, err := c.client.Retrieve(ctx, ObjectCampaign, result.ID)
	if err != nil {
		return Campaign{}, fmt.Errorf("retrieve campaign %s: %w", result.ID, err)
	}
	campaign = campaignFromRecord(record)
	if campaign.ID == "" {
		campaign.ID = result.ID
	}
	return campaign, nil
}

func (c *CampaignCache) find(ctx context.Context, name string) (Campaign, bool, error) {
	records, err := c.client.Find(ctx, ObjectCampaign, []Match{{Field: "Name", Value: name}}, []string{"Id", "Name", "Type"})
	if err != nil {
		return Campaign{}, false, fmt.Errorf("find campaign %q: %w", name, err)
	}
	if len(records) == 0 {
		return Campaign{}, false, nil
	}
	return campaignFromRecord(records[0]), true, nil
}
