package booking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ComponentType identifies the kind of product a quote line represents.
type ComponentType string

const (
	ComponentFlight    ComponentType = "FLIGHT"
	ComponentHotel     ComponentType = "HOTEL"
	ComponentActivity  ComponentType = "ACTIVITY"
	ComponentTransfer  ComponentType = "TRANSFER"
	ComponentInsurance ComponentType = "INSURANCE"
	ComponentCustom    ComponentType = "CUSTOM"
)

// Category groups component types for the commission breakdown.
type Category string

const (
	CategoryFlights    Category = "flights"
	CategoryHotels     Category = "hotels"
	CategoryActivities Category = "activities"
	CategoryTransfers  Category = "transfers"
	CategoryOther      Category = "other"
)

// Categories lists breakdown categories in reporting order.
func Categories() []Category {
	return []Category{CategoryFlights, CategoryHotels, CategoryActivities, CategoryTransfers, CategoryOther}
}

// Category maps a component type onto its breakdown category.
func (t ComponentType) Category() Category {
	switch t {
	case ComponentFlight:
		return CategoryFlights
	case ComponentHotel:
		return CategoryHotels
	case ComponentActivity:
		return CategoryActivities
	case ComponentTransfer:
		return CategoryTransfers
	default:
		return CategoryOther
	}
}

type FlightPayload struct {
	Carrier      string    `json:"carrier"`
	FlightNumber string    `json:"flight_number"`
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	DepartAt     time.Time `json:"depart_at"`
	ArriveAt     time.Time `json:"arrive_at"`
	CabinClass   string    `json:"cabin_class,omitempty"`
}

type HotelPayload struct {
	Name     string    `json:"name"`
	City     string    `json:"city"`
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
	Rooms    int       `json:"rooms"`
	RoomType string    `json:"room_type,omitempty"`
}

type ActivityPayload struct {
	Name     string    `json:"name"`
	Location string    `json:"location,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	Guests   int       `json:"guests"`
}

type TransferPayload struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	PickupAt   time.Time `json:"pickup_at"`
	Vehicle    string    `json:"vehicle,omitempty"`
	Passengers int       `json:"passengers"`
}

type InsurancePayload struct {
	Provider   string `json:"provider"`
	PolicyType string `json:"policy_type"`
	Insured    int    `json:"insured"`
}

type CustomPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Component is one priced product on a quote. Exactly one payload field is
// set and it must match Type.
type Component struct {
	Type      ComponentType     `json:"type"`
	Cost      decimal.Decimal   `json:"cost"`
	Flight    *FlightPayload    `json:"flight,omitempty"`
	Hotel     *HotelPayload     `json:"hotel,omitempty"`
	Activity  *ActivityPayload  `json:"activity,omitempty"`
	Transfer  *TransferPayload  `json:"transfer,omitempty"`
	Insurance *InsurancePayload `json:"insurance,omitempty"`
	Custom    *CustomPayload    `json:"custom,omitempty"`
}

// Validate checks the payload matches the declared type.
func (c Component) Validate() error {
	if c.Cost.IsNegative() {
		return fmt.Errorf("%w: component cost must not be negative", ErrValidation)
	}
	set := 0
	var match bool
	if c.Flight != nil {
		set++
		match = c.Type == ComponentFlight
	}
	if c.Hotel != nil {
		set++
		match = c.Type == ComponentHotel
	}
	if c.Activity != nil {
		set++
		match = c.Type == ComponentActivity
	}
	if c.Transfer != nil {
		set++
		match = c.Type == ComponentTransfer
	}
	if c.Insurance != nil {
		set++
		match = c.Type == ComponentInsurance
	}
	if c.Custom != nil {
		set++
		match = c.Type == ComponentCustom
	}
	switch {
	case set == 0:
		return fmt.Errorf("%w: component %s has no payload", ErrValidation, c.Type)
	case set > 1:
		return fmt.Errorf("%w: component %s has %d payloads", ErrValidation, c.Type, set)
	case !match:
		return fmt.Errorf("%w: component payload does not match type %s", ErrValidation, c.Type)
	}
	if c.Hotel != nil && c.Hotel.CheckOut.Before(c.Hotel.CheckIn) {
		return fmt.Errorf("%w: hotel check_out before check_in", ErrValidation)
	}
	if c.Flight != nil && !c.Flight.ArriveAt.IsZero() && c.Flight.ArriveAt.Before(c.Flight.DepartAt) {
		return fmt.Errorf("%w: flight arrives before departure", ErrValidation)
	}
	return nil
}

// DecodeComponents parses and validates stored component JSON.
func DecodeComponents(raw []byte) ([]Component, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var components []Component
	if err := json.Unmarshal(raw, &components); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	for i, c := range components {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
	}
	return components, nil
}

// CategoryTotals sums component costs per breakdown category.
func CategoryTotals(components []Component) map[Category]decimal.Decimal {
	totals := make(map[Category]decimal.Decimal, len(Categories()))
	for _, c := range components {
		cat := c.Type.Category()
		totals[cat] = totals[cat].Add(c.Cost)
	}
	return totals
}
