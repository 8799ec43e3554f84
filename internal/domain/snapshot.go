package domain

import "errors"

// AddressSnapshot is a point-in-time copy of a shipping address. Snapshots
// are bound to the shipment and never track later edits to the source
// address.
type AddressSnapshot struct {
	ReceiverName string `bson:"receiverName" json:"receiverName"`
	Phone        string `bson:"phone,omitempty" json:"phone,omitempty"`
	Country      string `bson:"country" json:"country"`
	Province     string `bson:"province,omitempty" json:"province,omitempty"`
	City         string `bson:"city,omitempty" json:"city,omitempty"`
	District     string `bson:"district,omitempty" json:"district,omitempty"`
	AddressLine1 string `bson:"addressLine1" json:"addressLine1"`
	AddressLine2 string `bson:"addressLine2,omitempty" json:"addressLine2,omitempty"`
	Zipcode      string `bson:"zipcode,omitempty" json:"zipcode,omitempty"`
}

// Validate checks the fields a carrier requires to route a parcel.
func (a *AddressSnapshot) Validate() error {
	if a == nil {
		return errors.New("address snapshot is required")
	}
	if a.ReceiverName == "" {
		return errors.New("receiverName is required")
	}
	if a.Country == "" {
		return errors.New("country is required")
	}
	if a.AddressLine1 == "" {
		return errors.New("addressLine1 is required")
	}
	return nil
}

// Dimension holds package weight and size.
type Dimension struct {
	WeightKg float64 `bson:"weightKg,omitempty" json:"weightKg,omitempty"`
	LengthCm float64 `bson:"lengthCm,omitempty" json:"lengthCm,omitempty"`
	WidthCm  float64 `bson:"widthCm,omitempty" json:"widthCm,omitempty"`
	HeightCm float64 `bson:"heightCm,omitempty" json:"heightCm,omitempty"`
}

// CustomsInfo carries declaration fields forwarded to customs brokers.
// Extra holds carrier-specific keys that have no first-class field.
type CustomsInfo struct {
	ContentType   string         `bson:"contentType,omitempty" json:"contentType,omitempty"`
	Incoterm      string         `bson:"incoterm,omitempty" json:"incoterm,omitempty"`
	InvoiceNumber string         `bson:"invoiceNumber,omitempty" json:"invoiceNumber,omitempty"`
	Extra         map[string]any `bson:"extra,omitempty" json:"extra,omitempty"`
}

// Merge overlays non-empty fields from other onto c and returns the result.
// A nil receiver returns a copy of other.
func (c *CustomsInfo) Merge(other *CustomsInfo) *CustomsInfo {
	if other == nil {
		return c
	}
	if c == nil {
		merged := *other
		return &merged
	}
	merged := *c
	if other.ContentType != "" {
		merged.ContentType = other.ContentType
	}
	if other.Incoterm != "" {
		merged.Incoterm = other.Incoterm
	}
	if other.InvoiceNumber != "" {
		merged.InvoiceNumber = other.InvoiceNumber
	}
	if len(other.Extra) > 0 {
		extra := make(map[string]any, len(merged.Extra)+len(other.Extra))
		for k, v := range merged.Extra {
			extra[k] = v
		}
		for k, v := range other.Extra {
			extra[k] = v
		}
		merged.Extra = extra
	}
	return &merged
}

// Label is the input for backfilling carrier identifiers onto a shipment.
// Optional fields left zero do not overwrite existing values.
type Label struct {
	CarrierCode   string
	CarrierName   string
	ServiceCode   string
	TrackingNo    string
	ExtExternalID string
	LabelURL      string
	Dimension     *Dimension
	DeclaredValue *int64
	Currency      string
}

// Validate checks the fields every label must carry.
func (l *Label) Validate() error {
	if l == nil {
		return errors.New("label is required")
	}
	if l.CarrierCode == "" {
		return errors.New("carrierCode is required")
	}
	if l.CarrierName == "" {
		return errors.New("carrierName is required")
	}
	if l.TrackingNo == "" {
		return errors.New("trackingNo is required")
	}
	if len(l.CarrierCode) > MaxCarrierCodeLen {
		return errors.New("carrierCode too long")
	}
	if len(l.CarrierName) > MaxCarrierNameLen {
		return errors.New("carrierName too long")
	}
	if len(l.TrackingNo) > MaxTrackingNoLen {
		return errors.New("trackingNo too long")
	}
	if len(l.LabelURL) > MaxLabelURLLen {
		return errors.New("labelUrl too long")
	}
	if l.DeclaredValue != nil && *l.DeclaredValue < 0 {
		return errors.New("declaredValue must not be negative")
	}
	return nil
}
