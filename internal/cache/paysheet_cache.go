package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
)

const defaultPaysheetTTL = 10 * time.Minute

// PaysheetCache keeps computed periods per writer. Entries are only ever
// replaced wholesale or dropped; callers never patch them.
type PaysheetCache interface {
	GetWriter(writerID snowflake.ID) ([]paysheetdomain.Period, bool)
	SetWriter(writerID snowflake.ID, periods []paysheetdomain.Period)
	Invalidate(writerID snowflake.ID)
	Writers() []snowflake.ID
}

type paysheetCache struct {
	writers Cache[snowflake.ID, []paysheetdomain.Period]
	ttl     func() time.Duration
}

// NewPaysheetCache returns an in-memory cache. ttl is consulted on every
// write so hot-reloaded settings apply to new entries.
func NewPaysheetCache(ttl func() time.Duration) PaysheetCache {
	if ttl == nil {
		ttl = func() time.Duration { return defaultPaysheetTTL }
	}
	return &paysheetCache{
		writers: NewTTLCache[snowflake.ID, []paysheetdomain.Period](),
		ttl:     ttl,
	}
}

func (c *paysheetCache) GetWriter(writerID snowflake.ID) ([]paysheetdomain.Period, bool) {
	return c.writers.Get(writerID)
}

func (c *paysheetCache) SetWriter(writerID snowflake.ID, periods []paysheetdomain.Period) {
	if writerID == 0 {
		return
	}
	ttl := c.ttl()
	if ttl <= 0 {
		ttl = defaultPaysheetTTL
	}
	c.writers.Set(writerID, periods, ttl)
}

func (c *paysheetCache) Invalidate(writerID snowflake.ID) {
	c.writers.Delete(writerID)
}

func (c *paysheetCache) Writers() []snowflake.ID {
	return c.writers.Keys()
}
