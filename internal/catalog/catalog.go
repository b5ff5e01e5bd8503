package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Product is one static catalog entry. EPCLow/EPCHigh hold the decoded
// bounds of the EPC_range column; both zero when the range is absent.
type Product struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"product_name"`
	Barcode  string  `json:"barcode"`
	Category string  `json:"category"`
	WeightG  float64 `json:"weight"`
	Price    float64 `json:"price"`
	EPCLow   uint64  `json:"-"`
	EPCHigh  uint64  `json:"-"`
}

// Catalog is loaded once at startup and never mutated afterwards, so all
// lookups are safe without locking.
type Catalog struct {
	products map[string]Product
}

func New(products []Product) *Catalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		if p.SKU == "" {
			continue
		}
		m[p.SKU] = p
	}
	return &Catalog{products: m}
}

// Load reads a product catalog from a CSV or JSON file, chosen by extension.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadJSON(f)
	}
	return loadCSV(f)
}

func loadJSON(r io.Reader) (*Catalog, error) {
	var products []Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode catalog json: %w", err)
	}
	return New(products), nil
}

func loadCSV(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["sku"]; !ok {
		return nil, errors.New("catalog csv missing SKU column")
	}

	var products []Product
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row: %w", err)
		}
		p := Product{
			SKU:      field(record, cols, "sku"),
			Name:     field(record, cols, "product_name", "name"),
			Barcode:  field(record, cols, "barcode"),
			Category: field(record, cols, "category"),
		}
		if p.SKU == "" {
			continue
		}
		p.WeightG = parseFloat(field(record, cols, "weight", "weight_g"))
		p.Price = parseFloat(field(record, cols, "price"))
		if lo, hi, ok := parseEPCRange(field(record, cols, "epc_range")); ok {
			p.EPCLow, p.EPCHigh = lo, hi
		}
		products = append(products, p)
	}
	return New(products), nil
}

func field(record []string, cols map[string]int, names ...string) string {
	for _, name := range names {
		if i, ok := cols[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
	}
	return ""
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func (c *Catalog) Lookup(sku string) (Product, bool) {
	p, ok := c.products[sku]
	return p, ok
}

func (c *Catalog) Len() int {
	return len(c.products)
}

// SameCategory reports whether both SKUs are known and share a category.
// Unknown SKUs never match.
func (c *Catalog) SameCategory(a, b string) bool {
	pa, ok := c.products[a]
	if !ok {
		return false
	}
	pb, ok := c.products[b]
	if !ok {
		return false
	}
	return pa.Category != "" && pa.Category == pb.Category
}

// ValidEPC reports whether the EPC falls inside the catalog range declared
// for the claimed SKU. SKUs without a declared range accept any EPC.
func (c *Catalog) ValidEPC(epc, sku string) bool {
	p, ok := c.products[sku]
	if !ok {
		return false
	}
	if p.EPCLow == 0 && p.EPCHigh == 0 {
		return true
	}
	v, err := parseEPC(epc)
	if err != nil {
		return false
	}
	return v >= p.EPCLow && v <= p.EPCHigh
}

// EPC codes in the catalog carry an "E" prefix before the hex digits.
func parseEPC(epc string) (uint64, error) {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(epc)), "E")
	if s == "" {
		return 0, errors.New("empty epc")
	}
	return strconv.ParseUint(s, 16, 64)
}

func parseEPCRange(s string) (uint64, uint64, bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, err := parseEPC(parts[0])
	if err != nil {
		return 0, 0, false
	}
	hi, err := parseEPC(parts[1])
	if err != nil {
		return 0, 0, false
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi, true
}
