// ABOUTME: Business profile loading from TOML with env expansion and validation
// ABOUTME: Holds identity, hours, menu, directions, and behavior rules for the agent

package profile

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Profile is the business the agent speaks for. Everything the model is told
// about the business (and everything the read-only tools answer with) comes
// from here.
type Profile struct {
	Business   BusinessInfo    `toml:"business"`
	Hours      []DayHours      `toml:"hours"`
	Menu       []MenuItem      `toml:"menu"`
	Directions Directions      `toml:"directions"`
	Delivery   DeliveryOptions `toml:"delivery"`
	Behavior   Behavior        `toml:"behavior"`
	Owner      OwnerContact    `toml:"owner"`
}

// BusinessInfo identifies the business.
type BusinessInfo struct {
	Name        string `toml:"name"`
	Kind        string `toml:"kind"` // "restaurant", "salon", ...
	Description string `toml:"description"`
	Address     string `toml:"address"`
	Phone       string `toml:"phone"`
	Email       string `toml:"email"`
	Website     string `toml:"website"`
}

// DayHours is one opening-hours line, e.g. {Days: "mon-fri", Open: "11:00", Close: "22:00"}.
type DayHours struct {
	Days  string `toml:"days"`
	Open  string `toml:"open"`
	Close string `toml:"close"`
}

// MenuItem is one offering. Price is authored as a decimal in the TOML file
// and converted to cents on load so order math never touches floats.
type MenuItem struct {
	Name        string  `toml:"name"`
	Category    string  `toml:"category"`
	Description string  `toml:"description"`
	PriceRaw    float64 `toml:"price"`
	PriceCents  int64   `toml:"-"`
}

// Directions holds the how-to-find-us text handed to the get_directions tool.
type Directions struct {
	Summary   string   `toml:"summary"`
	Landmarks []string `toml:"landmarks"`
	Parking   string   `toml:"parking"`
	Transit   string   `toml:"transit"`
}

// DeliveryOptions describes the delivery offering, used by take_order.
type DeliveryOptions struct {
	Enabled  bool    `toml:"enabled"`
	FeeRaw   float64 `toml:"fee"`
	FeeCents int64   `toml:"-"`
	RadiusKM float64 `toml:"radius_km"`
}

// Behavior holds the prompt-facing conduct rules.
type Behavior struct {
	Greeting string   `toml:"greeting"`
	Rules    []string `toml:"rules"`
}

// OwnerContact is where escalations go.
type OwnerContact struct {
	Name      string `toml:"name"`
	Channel   string `toml:"channel"`
	SessionID string `toml:"session_id"`
}

// Load reads the profile from the given TOML path, expanding ${VAR}
// environment references before decoding.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var p Profile
	if _, err := toml.Decode(expanded, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	p.convertPrices()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating profile: %w", err)
	}

	return &p, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// convertPrices rounds the authored decimal prices into cents.
func (p *Profile) convertPrices() {
	for i := range p.Menu {
		p.Menu[i].PriceCents = ToCents(p.Menu[i].PriceRaw)
	}
	p.Delivery.FeeCents = ToCents(p.Delivery.FeeRaw)
}

// ToCents rounds a decimal currency amount into cents. All order math runs
// on cents so totals never touch floats.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Validate checks that required profile fields are present and valid.
func (p *Profile) Validate() error {
	if p.Business.Name == "" {
		return fmt.Errorf("business.name is required")
	}
	seen := make(map[string]bool, len(p.Menu))
	for _, item := range p.Menu {
		if item.Name == "" {
			return fmt.Errorf("menu item with empty name")
		}
		key := strings.ToLower(item.Name)
		if seen[key] {
			return fmt.Errorf("duplicate menu item %q", item.Name)
		}
		seen[key] = true
		if item.PriceRaw < 0 {
			return fmt.Errorf("menu item %q has negative price", item.Name)
		}
	}
	return nil
}

// FindItem looks up a menu item by name, case-insensitively.
func (p *Profile) FindItem(name string) (*MenuItem, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for i := range p.Menu {
		if strings.ToLower(p.Menu[i].Name) == needle {
			return &p.Menu[i], true
		}
	}
	return nil, false
}

// ItemsByCategory returns menu items matching the category (all items when
// the category is empty), preserving menu order.
func (p *Profile) ItemsByCategory(category string) []MenuItem {
	if category == "" {
		return append([]MenuItem(nil), p.Menu...)
	}
	want := strings.ToLower(strings.TrimSpace(category))
	var items []MenuItem
	for _, item := range p.Menu {
		if strings.ToLower(item.Category) == want {
			items = append(items, item)
		}
	}
	return items
}

// Categories returns the distinct menu categories, sorted.
func (p *Profile) Categories() []string {
	set := make(map[string]bool)
	for _, item := range p.Menu {
		if item.Category != "" {
			set[strings.ToLower(item.Category)] = true
		}
	}
	cats := make([]string, 0, len(set))
	for c := range set {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// HoursText renders opening hours as one line per entry.
func (p *Profile) HoursText() string {
	if len(p.Hours) == 0 {
		return "Hours not published."
	}
	var b strings.Builder
	for i, h := range p.Hours {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s-%s", h.Days, h.Open, h.Close)
	}
	return b.String()
}

// DirectionsText renders the directions block for the get_directions tool.
func (p *Profile) DirectionsText() string {
	var parts []string
	if p.Business.Address != "" {
		parts = append(parts, "Address: "+p.Business.Address)
	}
	if p.Directions.Summary != "" {
		parts = append(parts, p.Directions.Summary)
	}
	if len(p.Directions.Landmarks) > 0 {
		parts = append(parts, "Landmarks: "+strings.Join(p.Directions.Landmarks, "; "))
	}
	if p.Directions.Parking != "" {
		parts = append(parts, "Parking: "+p.Directions.Parking)
	}
	if p.Directions.Transit != "" {
		parts = append(parts, "Transit: "+p.Directions.Transit)
	}
	if len(parts) == 0 {
		return "Directions not published."
	}
	return strings.Join(parts, "\n")
}

// FormatCents renders a cent amount as a decimal string, e.g. 1850 -> "18.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
