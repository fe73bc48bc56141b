package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsTotal        int64
	warnsTotal         int64
	cyclesRun          int64
	cyclesSkipped      int64
	liquidationsSent   int64
	transfersSent      int64
	notificationsSent  int64
	notificationErrors int64
	auditRowsWritten   int64
	channels           sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	_ = component
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(component string) {
	_ = component
	atomic.AddInt64(&errorsTotal, 1)
}

// IncrementCycle counts one completed polling cycle; skipped cycles (balance
// below every threshold) are tracked separately.
func IncrementCycle(skipped bool) {
	atomic.AddInt64(&cyclesRun, 1)
	if skipped {
		atomic.AddInt64(&cyclesSkipped, 1)
	}
}

func IncrementLiquidation() {
	atomic.AddInt64(&liquidationsSent, 1)
}

func IncrementTransfer() {
	atomic.AddInt64(&transfersSent, 1)
}

func IncrementNotification(failed bool) {
	atomic.AddInt64(&notificationsSent, 1)
	if failed {
		atomic.AddInt64(&notificationErrors, 1)
	}
}

func IncrementAuditRows(n int) {
	atomic.AddInt64(&auditRowsWritten, int64(n))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of worker and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	log.WithComponent("report").WithFields(Fields{
		"cycles_run":          atomic.LoadInt64(&cyclesRun),
		"cycles_skipped":      atomic.LoadInt64(&cyclesSkipped),
		"liquidations_sent":   atomic.LoadInt64(&liquidationsSent),
		"transfers_sent":      atomic.LoadInt64(&transfersSent),
		"notifications_sent":  atomic.LoadInt64(&notificationsSent),
		"notification_errors": atomic.LoadInt64(&notificationErrors),
		"audit_rows_written":  atomic.LoadInt64(&auditRowsWritten),
		"warns":               atomic.LoadInt64(&warnsTotal),
		"errors":              atomic.LoadInt64(&errorsTotal),
		"channels":            channelData,
	}).Info("worker report")
}
