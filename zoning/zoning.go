// Package zoning estimates CDMX land-use limits for a colonia from a local
// rules table. It does not query SEDUVI; official figures come from the
// zoning certificate linked by CertificateURL.
package zoning

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"polpi-mx/services"
	"polpi-mx/utils"
)

//go:embed rules.yaml
var defaultRules []byte

// Category holds the Normas Generales figures of one land-use category.
type Category struct {
	Name        string   `yaml:"name" json:"name"`
	AllowedUses []string `yaml:"allowed_uses" json:"allowed_uses"`
	MinOpenPct  float64  `yaml:"min_open_pct" json:"min_open_pct"`
	TypicalCOS  float64  `yaml:"typical_cos" json:"typical_cos"`
	TypicalCUS  float64  `yaml:"typical_cus" json:"typical_cus,omitempty"`
}

// Assignment maps a colonia to a zoning code.
type Assignment struct {
	Colonia  string `yaml:"colonia"`
	Code     string `yaml:"code"`
	Heritage bool   `yaml:"heritage"`
}

// Rules is the parsed rules file.
type Rules struct {
	CertificateLink string              `yaml:"certificate_url"`
	DefaultCode     string              `yaml:"default_code"`
	Categories      map[string]Category `yaml:"categories"`
	Assignments     []Assignment        `yaml:"assignments"`

	byColonia map[string]Assignment
}

// Code is a parsed zoning code such as "HM4/30/M".
type Code struct {
	Category string
	Floors   int
	OpenPct  *float64 // nil when the code carries no open-area override
	Density  string
}

// String renders the code back in its canonical form.
func (c Code) String() string {
	s := c.Category
	if c.Floors > 0 {
		s += strconv.Itoa(c.Floors)
	}
	if c.OpenPct != nil {
		s += "/" + strconv.FormatFloat(*c.OpenPct, 'f', -1, 64)
	}
	if c.Density != "" {
		s += "/" + c.Density
	}
	return s
}

var codeRegexp = regexp.MustCompile(`^([A-Z]+)(\d+)?(?:/(\d+(?:\.\d+)?)?)?(?:/([A-Z]+))?$`)

// ParseCode parses "<category><floors>[/<open %>][/<density>]".
func ParseCode(s string) (Code, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	m := codeRegexp.FindStringSubmatch(s)
	if m == nil {
		return Code{}, utils.NewError(utils.ErrInvalidInput, "invalid zoning code %q", s)
	}
	c := Code{Category: m[1], Density: m[4]}
	if m[2] != "" {
		c.Floors, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		pct, _ := strconv.ParseFloat(m[3], 64)
		if pct > 100 {
			return Code{}, utils.NewError(utils.ErrInvalidInput, "open area %v%% out of range in %q", pct, s)
		}
		c.OpenPct = &pct
	}
	return c, nil
}

// Info is the zoning estimate for one colonia.
type Info struct {
	Colonia        string   `json:"colonia"`
	Code           string   `json:"code"`
	Category       string   `json:"category"`
	CategoryName   string   `json:"category_name"`
	MaxFloors      int      `json:"max_floors"`
	MaxCOS         float64  `json:"max_cos"`
	MaxCUS         float64  `json:"max_cus"`
	MinOpenAreaPct float64  `json:"min_open_area_pct"`
	AllowedUses    []string `json:"allowed_uses"`
	Heritage       bool     `json:"is_heritage_zone"`
	Source         string   `json:"source"` // "assignment" or "default"
}

// Buildable is the construction envelope of a lot.
type Buildable struct {
	LotSizeM2              float64 `json:"lot_size_m2"`
	MaxFootprintM2         float64 `json:"max_footprint_m2"`
	MaxTotalConstructionM2 float64 `json:"max_total_construction_m2"`
	MaxFloors              int     `json:"max_floors"`
	RequiredOpenAreaM2     float64 `json:"required_open_area_m2"`
	COS                    float64 `json:"cos"`
	CUS                    float64 `json:"cus"`
}

// Load reads rules from path, or the embedded table when path is empty.
func Load(path string) (*Rules, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("zoning: read %q: %w", path, err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a rules document. Every assignment must use a
// known category.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("zoning: decode: %w", err)
	}
	if len(r.Categories) == 0 {
		return nil, fmt.Errorf("zoning: no categories defined")
	}

	r.byColonia = make(map[string]Assignment, len(r.Assignments))
	for _, a := range r.Assignments {
		if err := r.checkCode(a.Code); err != nil {
			return nil, fmt.Errorf("zoning: colonia %q: %w", a.Colonia, err)
		}
		r.byColonia[services.NormalizeKey(a.Colonia)] = a
	}
	if r.DefaultCode != "" {
		if err := r.checkCode(r.DefaultCode); err != nil {
			return nil, fmt.Errorf("zoning: default code: %w", err)
		}
	}
	return &r, nil
}

func (r *Rules) checkCode(s string) error {
	c, err := ParseCode(s)
	if err != nil {
		return err
	}
	if _, ok := r.Categories[c.Category]; !ok {
		return fmt.Errorf("unknown category %q", c.Category)
	}
	return nil
}

// Lookup returns the zoning estimate for colonia. Colonias without an
// assignment get the default code, marked with Source "default"; with no
// default configured they are not_found.
func (r *Rules) Lookup(colonia string) (*Info, error) {
	key := services.NormalizeKey(colonia)
	if key == "" {
		return nil, utils.NewError(utils.ErrInvalidInput, "colonia is required")
	}

	a, ok := r.byColonia[key]
	source := "assignment"
	if !ok {
		if r.DefaultCode == "" {
			return nil, utils.NewError(utils.ErrNotFound, "no zoning for colonia %q", colonia)
		}
		a = Assignment{Colonia: colonia, Code: r.DefaultCode}
		source = "default"
	}

	info, err := r.Evaluate(a.Code)
	if err != nil {
		return nil, err
	}
	info.Colonia = a.Colonia
	info.Heritage = a.Heritage
	info.Source = source
	return info, nil
}

// Evaluate derives COS and CUS from a zoning code. An open-area override
// sets COS to 1 - open/100; otherwise the category's typical COS applies.
// CUS is COS times floors, or the category's typical CUS for codes without
// a floor count.
func (r *Rules) Evaluate(raw string) (*Info, error) {
	code, err := ParseCode(raw)
	if err != nil {
		return nil, err
	}
	cat, ok := r.Categories[code.Category]
	if !ok {
		return nil, utils.NewError(utils.ErrInvalidInput, "unknown zoning category %q", code.Category)
	}

	info := &Info{
		Code:           code.String(),
		Category:       code.Category,
		CategoryName:   cat.Name,
		MaxFloors:      code.Floors,
		MaxCOS:         cat.TypicalCOS,
		MinOpenAreaPct: cat.MinOpenPct,
		AllowedUses:    cat.AllowedUses,
	}
	if code.OpenPct != nil {
		info.MinOpenAreaPct = *code.OpenPct
		info.MaxCOS = round2(1 - *code.OpenPct/100)
	}
	if code.Floors > 0 {
		info.MaxCUS = round2(info.MaxCOS * float64(code.Floors))
	} else {
		info.MaxCUS = cat.TypicalCUS
	}
	return info, nil
}

// BuildableArea computes the construction envelope of a lot under info.
func BuildableArea(lotSizeM2 float64, info *Info) (*Buildable, error) {
	if lotSizeM2 <= 0 {
		return nil, utils.NewError(utils.ErrInvalidInput, "lot size must be positive")
	}
	if info == nil || info.MaxCOS <= 0 || info.MaxCUS <= 0 {
		return nil, utils.NewError(utils.ErrInvalidInput, "insufficient zoning data to calculate buildable area")
	}
	return &Buildable{
		LotSizeM2:              lotSizeM2,
		MaxFootprintM2:         round2(lotSizeM2 * info.MaxCOS),
		MaxTotalConstructionM2: round2(lotSizeM2 * info.MaxCUS),
		MaxFloors:              info.MaxFloors,
		RequiredOpenAreaM2:     round2(lotSizeM2 * info.MinOpenAreaPct / 100),
		COS:                    info.MaxCOS,
		CUS:                    info.MaxCUS,
	}, nil
}

// CertificateURL is where an official Certificado Único de Zonificación is
// requested.
func (r *Rules) CertificateURL() string {
	if r.CertificateLink != "" {
		return r.CertificateLink
	}
	return "https://www.seduvi.cdmx.gob.mx/servicios/servicio/certificado_digital"
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
