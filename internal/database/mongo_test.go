package database

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/qurbani/slot-allocation/internal/model"
)

func TestDecimalCodecKeepsExactAmount(t *testing.T) {
	reg := Registry()
	in := model.Participation{ID: "p1", Shares: 3, TotalAmount: decimal.RequireFromString("450.10")}

	raw, err := bson.MarshalWithRegistry(reg, in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if doc["total_amount"] != "450.1" {
		t.Fatalf("total_amount stored as %#v", doc["total_amount"])
	}

	var out model.Participation
	if err := bson.UnmarshalWithRegistry(reg, raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.TotalAmount.Equal(in.TotalAmount) {
		t.Fatalf("amount = %s, want %s", out.TotalAmount, in.TotalAmount)
	}
}

func TestDecimalCodecReadsLegacyDouble(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"_id": "p1", "total_amount": 300.5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out model.Participation
	if err := bson.UnmarshalWithRegistry(Registry(), raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.TotalAmount.Equal(decimal.RequireFromString("300.5")) {
		t.Fatalf("amount = %s", out.TotalAmount)
	}
}
