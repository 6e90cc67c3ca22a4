// Package products maps (vendor, product) identifiers from StateVersion
// replies to device capabilities. The table is a curated subset of the
// published LIFX product registry covering the common bulb families.
package products

const VendorLIFX = 1

// Features describes what a product can do. MinKelvin/MaxKelvin are the
// supported color-temperature range; zero means unknown.
type Features struct {
	Name      string
	Color     bool
	Infrared  bool
	Multizone bool
	MinKelvin uint16
	MaxKelvin uint16
}

type productKey struct {
	vendor  uint32
	product uint32
}

var table = map[productKey]Features{
	{VendorLIFX, 1}:  {Name: "LIFX Original 1000", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 3}:  {Name: "LIFX Color 650", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 10}: {Name: "LIFX White 800 (Low Voltage)", MinKelvin: 2700, MaxKelvin: 6500},
	{VendorLIFX, 11}: {Name: "LIFX White 800 (High Voltage)", MinKelvin: 2700, MaxKelvin: 6500},
	{VendorLIFX, 18}: {Name: "LIFX White 900 BR30 (Low Voltage)", MinKelvin: 2700, MaxKelvin: 6500},
	{VendorLIFX, 22}: {Name: "LIFX Color 1000", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 27}: {Name: "LIFX A19", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 28}: {Name: "LIFX BR30", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 29}: {Name: "LIFX A19 Night Vision", Color: true, Infrared: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 31}: {Name: "LIFX Z", Color: true, Multizone: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 32}: {Name: "LIFX Z", Color: true, Multizone: true, MinKelvin: 1500, MaxKelvin: 9000},
	{VendorLIFX, 36}: {Name: "LIFX Downlight", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 38}: {Name: "LIFX Beam", Color: true, Multizone: true, MinKelvin: 1500, MaxKelvin: 9000},
	{VendorLIFX, 43}: {Name: "LIFX A19", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 44}: {Name: "LIFX BR30", Color: true, MinKelvin: 2500, MaxKelvin: 9000},
	{VendorLIFX, 49}: {Name: "LIFX Mini Color", Color: true, MinKelvin: 1500, MaxKelvin: 9000},
	{VendorLIFX, 50}: {Name: "LIFX Mini White to Warm", MinKelvin: 1500, MaxKelvin: 4000},
	{VendorLIFX, 51}: {Name: "LIFX Mini White", MinKelvin: 2700, MaxKelvin: 2700},
	{VendorLIFX, 52}: {Name: "LIFX GU10", Color: true, MinKelvin: 1500, MaxKelvin: 9000},
	{VendorLIFX, 57}: {Name: "LIFX Candle", Color: true, MinKelvin: 1500, MaxKelvin: 9000},
	{VendorLIFX, 59}: {Name: "LIFX Mini Color", Color: true, MinKelvin: 1500, MaxKelvin: 9000},
	{VendorLIFX, 66}: {Name: "LIFX Mini White", MinKelvin: 2700, MaxKelvin: 2700},
	{VendorLIFX, 81}: {Name: "LIFX Candle White to Warm", MinKelvin: 2200, MaxKelvin: 6500},
	{VendorLIFX, 93}: {Name: "LIFX A19 US", Color: true, MinKelvin: 1500, MaxKelvin: 9000},
}

// Lookup returns the capability descriptor for a product, and whether the
// product is known. Callers treat unknown products as plain dimmable bulbs.
func Lookup(vendor, product uint32) (Features, bool) {
	f, ok := table[productKey{vendor, product}]
	return f, ok
}
