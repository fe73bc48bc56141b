package audit

import (
	"context"
	"sync"

	"feeseller/logger"
	"feeseller/models"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channels decouples the seller loop from the audit writer: records are
// dropped rather than blocking a cycle when the writer falls behind.
type Channels struct {
	Records chan models.AuditRecord

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Records: make(chan models.AuditRecord, bufferSize),
		log:     log,
	}

	log.WithComponent("audit_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("audit channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Records)
	c.log.WithComponent("audit_channels").Info("audit channels closed")
}

func (c *Channels) IncrementSent() {
	c.statsMutex.Lock()
	c.stats.Sent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementDropped() {
	c.statsMutex.Lock()
	c.stats.Dropped++
	c.statsMutex.Unlock()
}

func (c *Channels) Send(ctx context.Context, record models.AuditRecord) bool {
	select {
	case c.Records <- record:
		c.IncrementSent()
		logger.RecordChannelMessage("audit", len(c.Records))
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementDropped()
		c.log.WithComponent("audit_channels").WithFields(logger.Fields{
			"attempt_id": record.AttemptID,
		}).Warn("audit channel full, record dropped")
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
