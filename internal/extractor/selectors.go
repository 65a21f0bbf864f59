package extractor

// Selectors lists CSS selectors tried in order for each field. The first
// selector that matches wins.
type Selectors struct {
	ReadyMarker  string   `mapstructure:"ready_marker"`
	Title        []string `mapstructure:"title"`
	Make         []string `mapstructure:"make"`
	Model        []string `mapstructure:"model"`
	Year         []string `mapstructure:"year"`
	Price        []string `mapstructure:"price"`
	Mileage      []string `mapstructure:"mileage"`
	Condition    []string `mapstructure:"condition"`
	VIN          []string `mapstructure:"vin"`
	Description  []string `mapstructure:"description"`
	Location     []string `mapstructure:"location"`
	Dealer       []string `mapstructure:"dealer"`
	DetailLabels string   `mapstructure:"detail_labels"`
	Images       []string `mapstructure:"images"`
	ListingLinks []string `mapstructure:"listing_links"`
}

// DefaultSelectors targets the cars.com listing and search layouts.
func DefaultSelectors() Selectors {
	return Selectors{
		ReadyMarker: "h1",
		Title:       []string{"h1.listing-title", "h1"},
		Make:        []string{`[data-testid="vehicle-make"]`},
		Model:       []string{`[data-testid="vehicle-model"]`},
		Year:        []string{`[data-testid="vehicle-year"]`},
		Price: []string{
			`[data-testid="price"]`,
			".primary-price",
			".price",
			`[class*="price"]`,
			`[aria-label*="price"]`,
		},
		Mileage: []string{
			`[data-testid="mileage"]`,
			".listing-mileage",
			".mileage",
			`[class*="mileage"]`,
		},
		Condition: []string{
			`[data-testid="stock-type"]`,
			".new-used",
			".stock-type",
		},
		VIN: []string{`[data-testid="vin"]`},
		Description: []string{
			`[data-testid="description"]`,
			".description",
			`[class*="description"]`,
			`[class*="comments"]`,
		},
		Location: []string{
			`[data-testid="dealer-location"]`,
			".dealer-address",
			`[class*="location"]`,
		},
		Dealer: []string{
			`[data-testid="dealer-name"]`,
			".dealer-name",
			`[class*="seller-name"]`,
		},
		DetailLabels: "dt, th, label",
		Images: []string{
			`img[data-testid="photo"]`,
			".vehicle-image img",
			`[class*="gallery"] img`,
			`[class*="photo"] img`,
			"picture img",
		},
		ListingLinks: []string{
			`a[href*="/vehicledetail/"]`,
			`a[data-testid="listing-link"]`,
			`.vehicle-card a[href*="/detail/"]`,
			`a[class*="vehicle-card-link"]`,
		},
	}
}

// withDefaults fills empty fields from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.ReadyMarker == "" {
		s.ReadyMarker = d.ReadyMarker
	}
	if s.DetailLabels == "" {
		s.DetailLabels = d.DetailLabels
	}
	fill := func(dst *[]string, def []string) {
		if len(*dst) == 0 {
			*dst = def
		}
	}
	fill(&s.Title, d.Title)
	fill(&s.Make, d.Make)
	fill(&s.Model, d.Model)
	fill(&s.Year, d.Year)
	fill(&s.Price, d.Price)
	fill(&s.Mileage, d.Mileage)
	fill(&s.Condition, d.Condition)
	fill(&s.VIN, d.VIN)
	fill(&s.Description, d.Description)
	fill(&s.Location, d.Location)
	fill(&s.Dealer, d.Dealer)
	fill(&s.Images, d.Images)
	fill(&s.ListingLinks, d.ListingLinks)
	return s
}
