package shopfront

// ProductAgg is the per-product rollup for one (store, window).
type ProductAgg struct {
	Total     int
	Processed int
	Delivered int
	Value     float64
}

// Aggregate rolls orders up by product title. Units sum into Total and line
// amounts into Value. Every unit also counts as processed and delivered; the
// order source exposes no lifecycle state this layer trusts yet, so the three
// counters move together and this function is the single place to split them.
func Aggregate(orders []Order) map[string]*ProductAgg {
	aggs := make(map[string]*ProductAgg)
	for _, o := range orders {
		for _, l := range o.Lines {
			a := aggs[l.Title]
			if a == nil {
				a = &ProductAgg{}
				aggs[l.Title] = a
			}
			a.Total += l.Quantity
			a.Processed += l.Quantity
			a.Delivered += l.Quantity
			a.Value += l.Value
		}
	}
	return aggs
}
