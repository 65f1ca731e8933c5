package entry

import (
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"
)

// Command is the journal payload of every record type. Fields a command does
// not use stay zero and are not written.
type Command struct {
	OrderID    uint64
	UserID     uint64
	ClientID   string
	Side       uint8
	Kind       uint8
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Stop       decimal.Decimal
	Cost       decimal.Decimal
	OTCPercent decimal.Decimal
	OTCLimit   decimal.Decimal
}

const (
	fieldOrderID protowire.Number = iota + 1
	fieldUserID
	fieldClientID
	fieldSide
	fieldKind
	fieldQuantity
	fieldPrice
	fieldStop
	fieldCost
	fieldOTCPercent
	fieldOTCLimit
)

func (c Command) Marshal() []byte {
	var b []byte
	b = appendVarint(b, fieldOrderID, c.OrderID)
	b = appendVarint(b, fieldUserID, c.UserID)
	if c.ClientID != "" {
		b = protowire.AppendTag(b, fieldClientID, protowire.BytesType)
		b = protowire.AppendString(b, c.ClientID)
	}
	b = appendVarint(b, fieldSide, uint64(c.Side))
	b = appendVarint(b, fieldKind, uint64(c.Kind))
	b = appendDecimal(b, fieldQuantity, c.Quantity)
	b = appendDecimal(b, fieldPrice, c.Price)
	b = appendDecimal(b, fieldStop, c.Stop)
	b = appendDecimal(b, fieldCost, c.Cost)
	b = appendDecimal(b, fieldOTCPercent, c.OTCPercent)
	b = appendDecimal(b, fieldOTCLimit, c.OTCLimit)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDecimal(b []byte, num protowire.Number, d decimal.Decimal) []byte {
	if d.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, d.String())
}

// UnmarshalCommand decodes a payload written by Marshal. Unknown fields are
// skipped.
func UnmarshalCommand(b []byte) (Command, error) {
	var c Command
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldOrderID:
				c.OrderID = v
			case fieldUserID:
				c.UserID = v
			case fieldSide:
				c.Side = uint8(v)
			case fieldKind:
				c.Kind = uint8(v)
			}
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldClientID {
				c.ClientID = s
				continue
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return c, fmt.Errorf("field %d: %w", num, err)
			}
			switch num {
			case fieldQuantity:
				c.Quantity = d
			case fieldPrice:
				c.Price = d
			case fieldStop:
				c.Stop = d
			case fieldCost:
				c.Cost = d
			case fieldOTCPercent:
				c.OTCPercent = d
			case fieldOTCLimit:
				c.OTCLimit = d
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return c, nil
}
