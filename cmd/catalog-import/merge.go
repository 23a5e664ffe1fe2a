package main

// merge folds records for the same ISBN from several feeds into one.
// The cheapest offer sets the price, stock is summed and descriptive
// fields come from the first feed that has them.
func merge(rs []record) record {
	if len(rs) == 0 {
		return record{}
	}
	out := rs[0]
	for _, r := range rs[1:] {
		if r.Price.IsPositive() && (out.Price.IsZero() || r.Price.LessThan(out.Price)) {
			out.Price = r.Price
		}
		out.Stock += max(r.Stock, 0)
		fill(&out.Title, r.Title)
		fill(&out.Author, r.Author)
		fill(&out.Description, r.Description)
		fill(&out.Genre, r.Genre)
		fill(&out.CoverURL, r.CoverURL)
	}
	out.Stock = max(out.Stock, 0)
	return out
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
