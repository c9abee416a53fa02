package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-checkout/internal/domain/coupon"
	"github.com/xenking/shop-checkout/internal/domain/order"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/domain/product"
)

const maxBodyBytes = 1 << 20

// readBody reads a JSON request body of at most maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("read body: " + err.Error())
	}
	if len(data) == 0 {
		return nil, badRequest("empty body")
	}
	return jx.DecodeBytes(data), nil
}

// decodeObject iterates the fields of a JSON object, wrapping decode errors
// as BadRequestError.
func decodeObject(d *jx.Decoder, field func(d *jx.Decoder, key string) error) error {
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		var badReq *BadRequestError
		if errors.As(err, &badReq) {
			return err
		}
		return badRequest(err.Error())
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		return decimal.Zero, badRequest(field + " must be a number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, badRequest(field + " must be a number")
	}
	return v, nil
}

func decodeTime(d *jx.Decoder, field string) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, badRequest(field + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func decodeCartItems(d *jx.Decoder) ([]order.CartItem, error) {
	var items []order.CartItem
	err := d.Arr(func(d *jx.Decoder) error {
		var item order.CartItem
		if err := decodeObject(d, func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				item.ProductID, err = d.Str()
			case "quantity":
				item.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// decodeCart reads {"items":[{"productId","quantity"}],"couponCode"} plus
// any extra fields handled by extra.
func decodeCart(d *jx.Decoder, extra func(d *jx.Decoder, key string) (bool, error)) (order.Cart, error) {
	var cart order.Cart
	err := decodeObject(d, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			cart.Items, err = decodeCartItems(d)
		case "couponCode", "code":
			if d.Next() == jx.Null {
				return d.Null()
			}
			cart.CouponCode, err = d.Str()
		default:
			handled := false
			if extra != nil {
				handled, err = extra(d, key)
			}
			if !handled && err == nil {
				err = d.Skip()
			}
		}
		return err
	})
	return cart, err
}

func decodeAddress(d *jx.Decoder) (order.ShippingAddress, error) {
	var a order.ShippingAddress
	err := decodeObject(d, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			a.Name, err = d.Str()
		case "street":
			a.Street, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "postalCode":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func decodeNewCoupon(d *jx.Decoder) (coupon.NewCoupon, error) {
	n := coupon.NewCoupon{Active: true}
	err := decodeObject(d, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			n.Code, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			n.DiscountType = pricing.DiscountType(s)
		case "discountValue":
			n.DiscountValue, err = decodeDecimal(d, key)
		case "minOrderValue":
			n.MinOrderValue, err = decodeDecimal(d, key)
		case "maxDiscount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v decimal.Decimal
			v, err = decodeDecimal(d, key)
			n.MaxDiscount = decimal.NewNullDecimal(v)
		case "validFrom":
			n.ValidFrom, err = decodeTime(d, key)
		case "validUntil":
			n.ValidUntil, err = decodeTime(d, key)
		case "usageLimit":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v int
			v, err = d.Int()
			n.UsageLimit = &v
		case "active":
			n.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return n, err
}

func money(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.RawStr(v.StringFixed(2))
}

func encodePricing(e *jx.Encoder, r pricing.Result) {
	money(e, "subtotal", r.Subtotal)
	money(e, "discount", r.Discount)
	money(e, "shipping", r.Shipping)
	money(e, "tax", r.Tax)
	money(e, "total", r.Total)
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	base := h.imageBaseURL
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	money(e, "price", p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(base + p.Image.Thumbnail)
	e.FieldStart("mobile")
	e.Str(base + p.Image.Mobile)
	e.FieldStart("tablet")
	e.Str(base + p.Image.Tablet)
	e.FieldStart("desktop")
	e.Str(base + p.Image.Desktop)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeQuote(e *jx.Encoder, q *order.Quote) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range q.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.Product.ID)
		e.FieldStart("name")
		e.Str(l.Product.Name)
		money(e, "unitPrice", l.Product.Price)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money(e, "lineTotal", l.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	if q.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(q.CouponCode)
	}
	encodePricing(e, q.Pricing)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		money(e, "unitPrice", it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		money(e, "lineTotal", it.LineTotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	encodePricing(e, pricing.Result{
		Subtotal: o.Subtotal,
		Discount: o.Discount,
		Shipping: o.Shipping,
		Tax:      o.Tax,
		Total:    o.Total,
	})
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	a := o.ShippingAddress
	e.FieldStart("shippingAddress")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(a.Name)
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.ObjEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *pricing.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	e.RawStr(c.DiscountValue.String())
	money(e, "minOrderValue", c.MinOrderValue)
	if c.MaxDiscount.Valid {
		money(e, "maxDiscount", c.MaxDiscount.Decimal)
	}
	if c.ValidFrom != nil {
		e.FieldStart("validFrom")
		e.Str(c.ValidFrom.UTC().Format(time.RFC3339))
	}
	if c.ValidUntil != nil {
		e.FieldStart("validUntil")
		e.Str(c.ValidUntil.UTC().Format(time.RFC3339))
	}
	if c.UsageLimit != nil {
		e.FieldStart("usageLimit")
		e.Int(*c.UsageLimit)
	}
	e.FieldStart("usageCount")
	e.Int(c.UsageCount)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.ObjEnd()
}
