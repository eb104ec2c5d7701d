package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one wire-level data record: a JSON array of mixed-type fields.
// Snapshots arrive as arrays of Records, increments as a single Record.
type Record []json.RawMessage

func (r Record) int64At(i int) (int64, error) {
	if i >= len(r) {
		return 0, fmt.Errorf("record field %d missing", i)
	}
	var v int64
	if err := json.Unmarshal(r[i], &v); err != nil {
		return 0, fmt.Errorf("record field %d: %w", i, err)
	}
	return v, nil
}

func (r Record) decimalAt(i int) (decimal.Decimal, error) {
	if i >= len(r) {
		return decimal.Zero, fmt.Errorf("record field %d missing", i)
	}
	var n json.Number
	if err := json.Unmarshal(r[i], &n); err != nil {
		return decimal.Zero, fmt.Errorf("record field %d: %w", i, err)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("record field %d: %w", i, err)
	}
	return d, nil
}

func (r Record) stringAt(i int) (string, error) {
	if i >= len(r) {
		return "", fmt.Errorf("record field %d missing", i)
	}
	var s string
	if err := json.Unmarshal(r[i], &s); err != nil {
		return "", fmt.Errorf("record field %d: %w", i, err)
	}
	return s, nil
}

// DecodeTrade decodes a trade record [id, mts, price, amount].
func DecodeTrade(r Record) (Trade, error) {
	if len(r) < 4 {
		return Trade{}, fmt.Errorf("trade record has %d fields, want 4", len(r))
	}
	id, err := r.int64At(0)
	if err != nil {
		return Trade{}, err
	}
	mts, err := r.int64At(1)
	if err != nil {
		return Trade{}, err
	}
	price, err := r.decimalAt(2)
	if err != nil {
		return Trade{}, err
	}
	amount, err := r.decimalAt(3)
	if err != nil {
		return Trade{}, err
	}
	return Trade{
		ID:        id,
		Timestamp: time.UnixMilli(mts),
		Price:     price,
		Amount:    amount,
	}, nil
}

// DecodeBookLevel decodes a book record [price, count, amount, side].
func DecodeBookLevel(r Record) (BookLevel, error) {
	if len(r) < 4 {
		return BookLevel{}, fmt.Errorf("book record has %d fields, want 4", len(r))
	}
	price, err := r.decimalAt(0)
	if err != nil {
		return BookLevel{}, err
	}
	count, err := r.int64At(1)
	if err != nil {
		return BookLevel{}, err
	}
	amount, err := r.decimalAt(2)
	if err != nil {
		return BookLevel{}, err
	}
	side, err := r.stringAt(3)
	if err != nil {
		return BookLevel{}, err
	}
	if side != string(SideBid) && side != string(SideAsk) {
		return BookLevel{}, fmt.Errorf("book record has invalid side %q", side)
	}
	return BookLevel{
		Price:  price,
		Amount: amount,
		Count:  int(count),
		Side:   Side(side),
	}, nil
}

// DecodeCandle decodes a candle record [mts, open, close, high, low, volume].
func DecodeCandle(r Record) (Candle, error) {
	if len(r) < 6 {
		return Candle{}, fmt.Errorf("candle record has %d fields, want 6", len(r))
	}
	mts, err := r.int64At(0)
	if err != nil {
		return Candle{}, err
	}
	fields := make([]decimal.Decimal, 5)
	for i := 0; i < 5; i++ {
		fields[i], err = r.decimalAt(i + 1)
		if err != nil {
			return Candle{}, err
		}
	}
	return Candle{
		OpenTime: time.UnixMilli(mts),
		Open:     fields[0],
		Close:    fields[1],
		High:     fields[2],
		Low:      fields[3],
		Volume:   fields[4],
	}, nil
}

// DecodeTicker decodes a ticker record [bid, ask, lastPrice, volume24h].
func DecodeTicker(r Record) (Ticker, error) {
	if len(r) < 4 {
		return Ticker{}, fmt.Errorf("ticker record has %d fields, want 4", len(r))
	}
	fields := make([]decimal.Decimal, 4)
	for i := range fields {
		var err error
		fields[i], err = r.decimalAt(i)
		if err != nil {
			return Ticker{}, err
		}
	}
	return Ticker{
		Bid:       fields[0],
		Ask:       fields[1],
		LastPrice: fields[2],
		Volume24h: fields[3],
		UpdatedAt: time.Now(),
	}, nil
}
