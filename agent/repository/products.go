package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

const (
	defaultSearchLimit   = 20
	defaultCategoryLimit = 200
)

type productRow struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID       int64    `bun:"id,pk"`
	Name     string   `bun:"name"`
	Category string   `bun:"category"`
	Color    string   `bun:"color"`
	Style    string   `bun:"style"`
	Gender   string   `bun:"gender"`
	Season   string   `bun:"season"`
	Year     *int     `bun:"year"`
	Price    *float64 `bun:"price"`
	ImageURL string   `bun:"image_url"`
}

func (r productRow) toResult() contractx.ProductResult {
	return contractx.ProductResult{
		ID:       strconv.FormatInt(r.ID, 10),
		Name:     r.Name,
		Category: r.Category,
		Color:    r.Color,
		Style:    r.Style,
		Gender:   r.Gender,
		Season:   r.Season,
		Year:     r.Year,
		Price:    r.Price,
		ImageURL: r.ImageURL,
		Source:   contractx.SourceDB,
	}
}

// ProductRepository reads the internal catalog.
type ProductRepository struct {
	db *bun.DB
}

func NewProductRepository(db *bun.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) SearchProducts(ctx context.Context, q contractx.ProductQuery, limit int) ([]contractx.ProductResult, error) {
	var rows []productRow
	if err := r.searchQuery(q, limit).Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	out := make([]contractx.ProductResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toResult())
	}
	return out, nil
}

func (r *ProductRepository) searchQuery(q contractx.ProductQuery, limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	sel := r.db.NewSelect().
		Model((*productRow)(nil)).
		Column("id", "name", "category", "color", "style", "gender", "season", "year", "price", "image_url")

	if text := strings.TrimSpace(q.QueryText); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		sel = sel.WhereGroup(" AND ", func(g *bun.SelectQuery) *bun.SelectQuery {
			return g.Where("p.name ILIKE ?", pattern).
				WhereOr("p.category ILIKE ?", pattern).
				WhereOr("p.style ILIKE ?", pattern)
		})
	}

	if f := q.CommonFilters; f != nil {
		if c := strings.TrimSpace(f.Color); c != "" {
			sel = sel.Where("LOWER(p.color) = LOWER(?)", c)
		}
		if f.PriceMin != nil {
			sel = sel.Where("p.price >= ?", *f.PriceMin)
		}
		if f.PriceMax != nil {
			sel = sel.Where("p.price <= ?", *f.PriceMax)
		}
		if g := strings.TrimSpace(f.Gender); g != "" {
			sel = sel.Where("LOWER(p.gender) = LOWER(?)", g)
		}
	}

	if f := q.ProductFilters; !f.Empty() {
		if c := strings.TrimSpace(f.Category); c != "" {
			sel = sel.Where("LOWER(p.category) = LOWER(?)", c)
		}
		if s := strings.TrimSpace(f.Style); s != "" {
			sel = sel.Where("p.style ILIKE ?", "%"+escapeLike(s)+"%")
		}
	}

	return sel.OrderExpr("p.name ASC").Limit(limit)
}

// ListCategories returns distinct non-blank categories in name order.
func (r *ProductRepository) ListCategories(ctx context.Context, limit int) ([]string, error) {
	var categories []string
	if err := r.categoriesQuery(limit).Scan(ctx, &categories); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if categories == nil {
		categories = []string{}
	}
	return categories, nil
}

func (r *ProductRepository) categoriesQuery(limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = defaultCategoryLimit
	}
	return r.db.NewSelect().
		TableExpr("products").
		ColumnExpr("DISTINCT category").
		Where("category IS NOT NULL").
		Where("BTRIM(category) <> ''").
		OrderExpr("category ASC").
		Limit(limit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
