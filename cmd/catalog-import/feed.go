package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/domain/book"
)

const maxLineSize = 1 << 20

// record is one supplier feed line.
type record struct {
	ISBN        string
	Title       string
	Author      string
	Description string
	Genre       string
	CoverURL    string
	Price       decimal.Decimal
	Stock       int
}

// Book converts the record to a catalog entry.
func (r record) Book(id string, now time.Time) *book.Book {
	return &book.Book{
		ID:          id,
		ISBN:        r.ISBN,
		Title:       r.Title,
		Author:      r.Author,
		Description: r.Description,
		Genre:       r.Genre,
		CoverURL:    r.CoverURL,
		Price:       r.Price,
		Stock:       r.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// normalizeISBN strips separators so "978-0-441-17271-9" and
// "9780441172719" collapse to the same key.
func normalizeISBN(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == 'x' || c == 'X':
			b.WriteByte('X')
		}
	}
	return b.String()
}

func parseRecord(line []byte) (record, error) {
	var r record
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "isbn":
			var s string
			s, err = d.Str()
			r.ISBN = normalizeISBN(s)
		case "title":
			r.Title, err = d.Str()
		case "author":
			r.Author, err = d.Str()
		case "description":
			r.Description, err = d.Str()
		case "genre":
			r.Genre, err = d.Str()
		case "coverUrl":
			r.CoverURL, err = d.Str()
		case "price":
			r.Price, err = decodeDecimal(d)
		case "stock":
			r.Stock, err = d.Int()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return record{}, err
	}
	if r.ISBN == "" {
		return record{}, errors.New("missing isbn")
	}
	return r, nil
}

// decodeDecimal accepts both 12.5 and "12.5".
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	raw, err := d.Raw()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(raw.String())
}

// streamFeed opens a gzip-compressed JSON-lines feed and calls fn for each
// well-formed record. Malformed lines are counted and skipped.
func streamFeed(ctx context.Context, path string, fn func(r record)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return scanRecords(ctx, gz, fn)
}

func scanRecords(ctx context.Context, src io.Reader, fn func(r record)) (int, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var n, bad int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		r, err := parseRecord(line)
		if err != nil {
			bad++
			continue
		}
		n++
		if n%progressEvery == 0 {
			slog.Info("feed progress", slog.Int("records", n))
		}
		fn(r)
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "scan")
	}
	if bad > 0 {
		slog.Warn("skipped malformed lines", slog.Int("lines", bad))
	}
	return n, nil
}
