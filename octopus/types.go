package octopus

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Product struct {
	Code        string
	DisplayName string
	TariffCodes map[Region]string
}

// Tariff returns the product's direct debit tariff for the region.
func (p Product) Tariff(region Region) (Tariff, error) {
	code, ok := p.TariffCodes[region]
	if !ok || code == "" {
		return Tariff{}, fmt.Errorf("%w: product %s has no tariff for region %s", ErrProductDiscovery, p.Code, region)
	}
	return Tariff{ProductCode: p.Code, TariffCode: code}, nil
}

// Tariff identifies the priced object whose rates are fetched.
type Tariff struct {
	ProductCode string
	TariffCode  string
}

func (t Tariff) String() string {
	return fmt.Sprintf("%s/%s", t.ProductCode, t.TariffCode)
}

const (
	directionExport = "EXPORT"
	directionImport = "IMPORT"
)

// JSON root element for /v1/products/
type productsResponse struct {
	Results []productEntry `json:"results"`
}

type productEntry struct {
	Code        string `json:"code"`
	Direction   string `json:"direction"`
	DisplayName string `json:"display_name"`
}

// JSON root element for /v1/products/<code>/
type productDetailResponse struct {
	ElectricityTariffs map[string]electricityTariff `json:"single_register_electricity_tariffs"`
}

type electricityTariff struct {
	DirectDebitMonthly *struct {
		Code string `json:"code"`
	} `json:"direct_debit_monthly"`
}

// JSON root element for .../standard-unit-rates
type unitRatesResponse struct {
	Next    *string         `json:"next"`
	Results []unitRateEntry `json:"results"`
}

type unitRateEntry struct {
	ValidFrom   *string          `json:"valid_from"`
	ValueIncVat *decimal.Decimal `json:"value_inc_vat"` // Pence per kWh
}
