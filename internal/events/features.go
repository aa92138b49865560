package events

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FeatureSnapshot is the enrichment side-channel attached to detector signals.
// Known fields are typed; anything else is preserved verbatim in Extra.
type FeatureSnapshot struct {
	SenderID             *string
	ReceiverID           *string
	MerchantID           *string
	Amount               *decimal.Decimal
	Currency             *string
	SenderAccountCountry *string
	DeviceID             *string
	ReceivedAt           *time.Time
	Extra                map[string]json.RawMessage
}

const (
	featSenderID      = "senderId"
	featReceiverID    = "receiverId"
	featMerchantID    = "merchantId"
	featAmount        = "amount"
	featCurrency      = "currency"
	featCountry       = "senderAccountCountry"
	featDeviceID      = "deviceId"
	featReceivedAt    = "receivedAt"
	featLegacySender  = "senderUserId"
	featLegacyReceive = "receiverUserId"
)

// IsEmpty reports whether the snapshot carries no data at all.
func (f *FeatureSnapshot) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.SenderID == nil && f.ReceiverID == nil && f.MerchantID == nil &&
		f.Amount == nil && f.Currency == nil && f.SenderAccountCountry == nil &&
		f.DeviceID == nil && f.ReceivedAt == nil && len(f.Extra) == 0
}

func (f FeatureSnapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+8)
	for k, v := range f.Extra {
		out[k] = v
	}
	putIfSet(out, featSenderID, f.SenderID)
	putIfSet(out, featReceiverID, f.ReceiverID)
	putIfSet(out, featMerchantID, f.MerchantID)
	putIfSet(out, featCurrency, f.Currency)
	putIfSet(out, featCountry, f.SenderAccountCountry)
	putIfSet(out, featDeviceID, f.DeviceID)
	if f.Amount != nil {
		out[featAmount] = f.Amount
	}
	if f.ReceivedAt != nil {
		out[featReceivedAt] = f.ReceivedAt.UTC()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known keys leniently: ids may be strings or numbers,
// and a value that does not fit its typed field is kept in Extra instead.
func (f *FeatureSnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FeatureSnapshot{}

	f.SenderID = takeID(raw, featSenderID)
	if f.SenderID == nil {
		f.SenderID = takeID(raw, featLegacySender)
	}
	f.ReceiverID = takeID(raw, featReceiverID)
	if f.ReceiverID == nil {
		f.ReceiverID = takeID(raw, featLegacyReceive)
	}
	f.MerchantID = takeID(raw, featMerchantID)
	f.Currency = takeString(raw, featCurrency)
	f.SenderAccountCountry = takeString(raw, featCountry)
	f.DeviceID = takeString(raw, featDeviceID)

	if v, ok := raw[featAmount]; ok {
		var d decimal.Decimal
		switch {
		case isNull(v):
			delete(raw, featAmount)
		case json.Unmarshal(v, &d) == nil:
			f.Amount = &d
			delete(raw, featAmount)
		}
	}
	if v, ok := raw[featReceivedAt]; ok {
		var ts time.Time
		switch {
		case isNull(v):
			delete(raw, featReceivedAt)
		case json.Unmarshal(v, &ts) == nil:
			f.ReceivedAt = &ts
			delete(raw, featReceivedAt)
		}
	}

	if len(raw) > 0 {
		f.Extra = raw
	}
	return nil
}

func putIfSet(out map[string]any, key string, v *string) {
	if v != nil {
		out[key] = *v
	}
}

func takeString(raw map[string]json.RawMessage, key string) *string {
	v, ok := raw[key]
	if !ok || isNull(v) {
		delete(raw, key)
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	delete(raw, key)
	return &s
}

func takeID(raw map[string]json.RawMessage, key string) *string {
	if s := takeString(raw, key); s != nil {
		return s
	}
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return nil
	}
	delete(raw, key)
	s := n.String()
	return &s
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
