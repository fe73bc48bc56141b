package models

// AuditRecord is the flattened parquet row written for every liquidation and
// transfer attempt. Amounts are stringified base units to avoid precision
// loss in columnar storage.
type AuditRecord struct {
	CycleID        string  `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8" json:"cycle_id"`
	AttemptID      string  `parquet:"name=attempt_id, type=BYTE_ARRAY, convertedtype=UTF8" json:"attempt_id"`
	Kind           string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8" json:"kind"` // "liquidation" or "transfer"
	Network        string  `parquet:"name=network, type=BYTE_ARRAY, convertedtype=UTF8" json:"network"`
	Symbol         string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8" json:"symbol"`
	Venue          string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8" json:"venue"`
	AmountIn       string  `parquet:"name=amount_in, type=BYTE_ARRAY, convertedtype=UTF8" json:"amount_in"`
	MinOutput      string  `parquet:"name=min_output, type=BYTE_ARRAY, convertedtype=UTF8" json:"min_output"`
	Output         string  `parquet:"name=output, type=BYTE_ARRAY, convertedtype=UTF8" json:"output"`
	ReferencePrice float64 `parquet:"name=reference_price, type=DOUBLE" json:"reference_price"`
	TxHash         string  `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8" json:"tx_hash"`
	Status         string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8" json:"status"`
	FailureReason  string  `parquet:"name=failure_reason, type=BYTE_ARRAY, convertedtype=UTF8" json:"failure_reason"`
	Timestamp      int64   `parquet:"name=timestamp, type=INT64" json:"timestamp"`
}

// AuditFromLiquidation flattens a liquidation attempt into an audit row.
func AuditFromLiquidation(cycleID, network string, a *LiquidationAttempt) AuditRecord {
	rec := AuditRecord{
		CycleID:        cycleID,
		AttemptID:      a.ID,
		Kind:           "liquidation",
		Network:        network,
		Symbol:         a.Symbol,
		Venue:          a.Venue,
		ReferencePrice: a.ReferencePrice,
		TxHash:         a.TxHash,
		Status:         string(a.Status),
		FailureReason:  a.FailureReason,
		Timestamp:      a.FinishedAt.UnixMilli(),
	}
	if a.AmountIn != nil {
		rec.AmountIn = a.AmountIn.String()
	}
	if a.MinOutput != nil {
		rec.MinOutput = a.MinOutput.String()
	}
	if a.Output != nil {
		rec.Output = a.Output.String()
	}
	return rec
}

// AuditFromTransfer flattens a transfer attempt into an audit row.
func AuditFromTransfer(cycleID, network string, t *TransferAttempt) AuditRecord {
	rec := AuditRecord{
		CycleID:       cycleID,
		AttemptID:     t.ID,
		Kind:          "transfer",
		Network:       network,
		Symbol:        "ETH",
		TxHash:        t.TxHash,
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		Timestamp:     t.FinishedAt.UnixMilli(),
	}
	if t.Amount != nil {
		rec.AmountIn = t.Amount.String()
	}
	return rec
}
