package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-checkout/internal/domain/coupon"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
)

// Column order of the import files. The header row is optional.
const (
	colCode = iota
	colType
	colValue
	colMinOrder
	colMaxDiscount
	colValidFrom
	colValidUntil
	colUsageLimit
	numColumns
)

// streamFile opens a gzip-compressed CSV file and calls fn for each record
// with its 1-based line number. The header row is skipped.
func streamFile(ctx context.Context, path string, fn func(line int, record []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return streamCSV(ctx, gz, fn)
}

func streamCSV(ctx context.Context, r io.Reader, fn func(line int, record []string) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "code") {
			continue
		}
		if err := fn(line, record); err != nil {
			return err
		}
	}
}

// parseRecord converts a CSV record into a validated coupon definition.
// Empty optional columns leave the corresponding limit unset.
func parseRecord(record []string) (coupon.NewCoupon, error) {
	if len(record) != numColumns {
		return coupon.NewCoupon{}, errors.Errorf("expected %d columns, got %d", numColumns, len(record))
	}
	field := func(i int) string { return strings.TrimSpace(record[i]) }

	n := coupon.NewCoupon{
		Code:         field(colCode),
		DiscountType: pricing.DiscountType(strings.ToLower(field(colType))),
		Active:       true,
	}

	var err error
	if n.DiscountValue, err = decimal.NewFromString(field(colValue)); err != nil {
		return n, errors.Wrap(err, "value")
	}
	if s := field(colMinOrder); s != "" {
		if n.MinOrderValue, err = decimal.NewFromString(s); err != nil {
			return n, errors.Wrap(err, "min_order")
		}
	}
	if s := field(colMaxDiscount); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return n, errors.Wrap(err, "max_discount")
		}
		n.MaxDiscount = decimal.NewNullDecimal(v)
	}
	if n.ValidFrom, err = parseTime(field(colValidFrom)); err != nil {
		return n, errors.Wrap(err, "valid_from")
	}
	if n.ValidUntil, err = parseTime(field(colValidUntil)); err != nil {
		return n, errors.Wrap(err, "valid_until")
	}
	if s := field(colUsageLimit); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return n, errors.Wrap(err, "usage_limit")
		}
		n.UsageLimit = &v
	}

	if err := n.Validate(); err != nil {
		return n, err
	}
	return n, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
