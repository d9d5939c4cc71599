package domain

// Store and Product are reference dimensions owned by the hosting data
// platform. The pipeline only reads them to enforce referential
// integrity when promoting raw events.

type Store struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StoreType string `json:"store_type"`
	Region    string `json:"region"`
	Barangay  string `json:"barangay,omitempty"`
}

type Product struct {
	SKUID       string  `json:"sku_id"`
	ProductName string  `json:"product_name"`
	BrandName   string  `json:"brand_name"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	UnitPrice   float64 `json:"unit_price"`
}
